package message

// ActionClear is the POST body action that empties a room's history.
const ActionClear = "clear"

// PollResponse is the body of GET /clipboard/{token}.
type PollResponse struct {
	Items []Item `json:"items"`
}

// PushRequest is the body of POST /clipboard/{token}: either Content to
// publish or Action "clear".
type PushRequest struct {
	Content string `json:"content,omitempty"`
	Action  string `json:"action,omitempty"`
}

// PushResponse is returned by a successful POST.
type PushResponse struct {
	OK   bool  `json:"ok"`
	Item *Item `json:"item,omitempty"`
}

// ErrorResponse is the JSON body of a non-2xx relay reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
