package types

// MessageType identifies a wire message. Discovery messages travel as UDP
// datagrams; everything else travels as JSON lines on a TCP stream.
type MessageType string

const (
	MsgDiscover      MessageType = "discover"
	MsgDiscoverReply MessageType = "discover_reply"

	MsgConnectRequest MessageType = "connect_request"
	MsgConnectAccept  MessageType = "connect_accept"
	MsgConnectDeny    MessageType = "connect_deny"
	MsgDisconnect     MessageType = "disconnect"

	MsgEntry     MessageType = "entry"
	MsgFileOffer MessageType = "file_offer"
	MsgFileChunk MessageType = "file_chunk"
	MsgFileDone  MessageType = "file_done"
)

// MaxMessageSize bounds a single encoded message. Peers sending anything
// larger are misbehaving and get their stream dropped.
const MaxMessageSize = 1 << 20

// FileChunkSize is the raw payload size of one MsgFileChunk.
const FileChunkSize = 64 * 1024

// Message is the single envelope for all sync traffic. Fields beyond the
// identity triple are populated per message type.
type Message struct {
	Type       MessageType `json:"type"`
	DeviceID   string      `json:"device_id"`
	DeviceName string      `json:"device_name,omitempty"`

	// SyncPort is the sender's TCP listener port, carried on discovery
	// and handshake messages so the receiver can dial back.
	SyncPort int `json:"sync_port,omitempty"`

	// Entry rides on MsgEntry and MsgFileOffer.
	Entry *ClipboardEntry `json:"entry,omitempty"`

	// Chunk and Seq ride on MsgFileChunk. JSON encodes Chunk as base64.
	Chunk []byte `json:"chunk,omitempty"`
	Seq   int    `json:"seq,omitempty"`
}
