package event

// Type identifies a lifecycle event.
type Type string

const (
	ChatStarted    Type = "chat.started"
	ToolDispatched Type = "tool.dispatched"
	PatchProposed  Type = "patch.proposed"
	ChatFinished   Type = "chat.finished"
)

// Event is a published lifecycle event.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// ChatStartedData is published when a chat request passes validation and the
// model turn begins.
type ChatStartedData struct {
	RequestID      string `json:"requestID"`
	UserID         string `json:"userID"`
	MessageCount   int    `json:"messageCount"`
	HasCurrentFile bool   `json:"hasCurrentFile"`
}

// ToolDispatchedData is published after each server-side tool dispatch.
type ToolDispatchedData struct {
	RequestID string `json:"requestID"`
	Tool      string `json:"tool"`
	CallID    string `json:"callID"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// PatchProposedData is published when the patch tool produces a proposal.
type PatchProposedData struct {
	RequestID  string `json:"requestID"`
	ProposalID string `json:"proposalID"`
	Path       string `json:"path"`
	Additions  int    `json:"additions"`
	Deletions  int    `json:"deletions"`
}

// ChatFinishedData is published when the stream terminates, normally or not.
type ChatFinishedData struct {
	RequestID    string `json:"requestID"`
	FinishReason string `json:"finishReason"`
	Events       int    `json:"events"`
	Error        string `json:"error,omitempty"`
}
