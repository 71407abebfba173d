// Package types defines the data model shared by the storage, device and
// sync layers.
package types

import (
	"time"

	"github.com/berrythewa/cliped-daemon/pkg/utils"
)

// ContentType represents the type of clipboard content
type ContentType string

const (
	TypeText  ContentType = "text"
	TypeImage ContentType = "image"
	TypeFile  ContentType = "file"
)

// FileMeta describes the payload of a file entry.
type FileMeta struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// ClipboardEntry is one immutable item of clipboard history. Deleting an
// entry removes it from a store; it never mutates the entry itself.
type ClipboardEntry struct {
	ID       string      `json:"id"`
	Content  string      `json:"content"`
	Type     ContentType `json:"content_type"`
	Created  time.Time   `json:"timestamp"`
	Origin   string      `json:"origin_device"`
	FileMeta *FileMeta   `json:"file_metadata,omitempty"`

	// FilePath is the local staging location of a file entry. It is
	// device-local and excluded from identity derivation.
	FilePath string `json:"file_path,omitempty"`
}

// DeriveID computes the content-derived identity of an entry. Sender and
// receiver derive the same ID independently, so an entry that arrives via
// two paths deduplicates to a single history item.
func (e *ClipboardEntry) DeriveID() string {
	if e.Type == TypeFile && e.FileMeta != nil {
		return utils.HashContent([]byte(string(e.Type) + "\x00" + e.FileMeta.Hash))
	}
	return utils.HashContent([]byte(string(e.Type) + "\x00" + e.Content))
}

// DeviceStatus is the relationship of a remote device to this installation.
type DeviceStatus string

const (
	StatusDiscovered      DeviceStatus = "discovered"
	StatusPendingOutgoing DeviceStatus = "pending_outgoing"
	StatusPendingIncoming DeviceStatus = "pending_incoming"
	StatusConnected       DeviceStatus = "connected"
	StatusDisconnected    DeviceStatus = "disconnected"
)

// Device identifies one installation on the local network.
type Device struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Addr     string       `json:"address"`
	Status   DeviceStatus `json:"status"`
	LastSeen time.Time    `json:"last_seen"`
}

// EventKind enumerates the notifications pushed to subscribers of the
// clipboard store and the device registry.
type EventKind string

const (
	EventEntryAdded         EventKind = "entry-added"
	EventEntryRemoved       EventKind = "entry-removed"
	EventHistoryCleared     EventKind = "history-cleared"
	EventDeviceDiscovered   EventKind = "device-discovered"
	EventConnectionRequest  EventKind = "connection-request-received"
	EventConnectionAccepted EventKind = "connection-accepted"
	EventDeviceDisconnected EventKind = "device-disconnected"
)

// Event is a fire-and-forget notification. Exactly one of Entry or Device
// is set depending on the kind.
type Event struct {
	Kind   EventKind       `json:"kind"`
	Entry  *ClipboardEntry `json:"entry,omitempty"`
	Device *Device         `json:"device,omitempty"`
}
