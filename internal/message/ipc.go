package message

import "time"

// Op is a local control verb sent by the CLI to a running sync daemon.
type Op string

const (
	OpCopy   Op = "copy"
	OpPaste  Op = "paste"
	OpStatus Op = "status"
	OpClear  Op = "clear"
	OpRetry  Op = "retry"
)

// Command is one IPC request.
type Command struct {
	Op      Op     `json:"op"`
	Content string `json:"content,omitempty"`
}

// Reply answers a Command.
type Reply struct {
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Items  []Item      `json:"items,omitempty"`
	Status *StatusInfo `json:"status,omitempty"`
}

// StatusInfo describes a sync daemon for `corridor status`.
type StatusInfo struct {
	Token       string    `json:"token"`
	State       string    `json:"state"`
	Transport   string    `json:"transport,omitempty"`
	Attempt     int       `json:"attempt"`
	LastError   string    `json:"last_error,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
	LastAlive   time.Time `json:"last_alive,omitzero"`
	RTTMillis   float64   `json:"rtt_ms"`
	HistoryLen  int       `json:"history_len"`
	Backend     string    `json:"backend"`
}
