package ipc

// Commands understood by the daemon. CLI subcommands and any future UI
// speak these over the unix socket.
const (
	CmdHistory      = "history"
	CmdHistoryCount = "history-count"
	CmdAdd          = "add"
	CmdDelete       = "delete"
	CmdClear        = "clear"
	CmdSetClipboard = "set-clipboard"
	CmdMonitor      = "monitor"
	CmdLocalDevice  = "local-device"
	CmdRename       = "rename"
	CmdDiscover     = "discover"
	CmdDevices      = "devices"
	CmdPending      = "pending"
	CmdDiscovered   = "discovered"
	CmdConnect      = "connect"
	CmdAccept       = "accept"
	CmdDeny         = "deny"
	CmdRemove       = "remove"
	CmdAddFile      = "add-file"
)

// Request is a command sent from a client to the daemon.
type Request struct {
	Command string                 `json:"command"`
	Args    map[string]interface{} `json:"args,omitempty"`
}

// Response is the daemon's reply.
type Response struct {
	Status  string      `json:"status"` // "ok" or "error"
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// OK wraps data in a successful response.
func OK(data interface{}) *Response {
	return &Response{Status: "ok", Data: data}
}

// Error wraps an error in a failed response.
func Error(err error) *Response {
	return &Response{Status: "error", Message: err.Error()}
}

// StringArg extracts a string argument, empty when absent.
func (r *Request) StringArg(key string) string {
	s, _ := r.Args[key].(string)
	return s
}

// IntArg extracts an integer argument; JSON numbers arrive as float64.
func (r *Request) IntArg(key string, fallback int) int {
	if f, ok := r.Args[key].(float64); ok {
		return int(f)
	}
	return fallback
}
