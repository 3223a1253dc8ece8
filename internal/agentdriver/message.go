package agentdriver

// MessageKind discriminates the inbound notifications a driver can
// deliver to subscribers.
type MessageKind string

const (
	KindReady             MessageKind = "ready"
	KindUpdate            MessageKind = "update" // text, terminal, terminal_output, terminal_exit
	KindThinking          MessageKind = "thinking"
	KindToolCall          MessageKind = "tool_call"
	KindToolCallUpdate    MessageKind = "tool_call_update"
	KindRequestPermission MessageKind = "request_permission"
	KindFail              MessageKind = "fail"
	KindComplete          MessageKind = "complete"
)

// UpdateKind further discriminates KindUpdate messages.
type UpdateKind string

const (
	UpdateText          UpdateKind = "text"
	UpdateTerminal      UpdateKind = "terminal"
	UpdateTerminalOut   UpdateKind = "terminal_output"
	UpdateTerminalExit  UpdateKind = "terminal_exit"
)

// PermissionOption is one choice offered to whoever resolves a
// RequestPermission message.
type PermissionOption struct {
	ID        string
	Label     string
	IsRejectClass bool
}

// Message is one entry on an agent's live stream, fanned out to every
// subscriber and — for the replayable kinds — buffered for late joiners.
type Message struct {
	Kind MessageKind

	// Update fields.
	UpdateKind UpdateKind
	Text       string

	// ToolCall / ToolCallUpdate fields.
	ToolCallID    string
	ToolCallTitle string
	ToolCallState string

	// RequestPermission fields. Resolve must be called exactly once by
	// whoever answers the request; the driver blocks send_prompt's
	// underlying RPC loop on it.
	Options []PermissionOption
	Resolve func(optionID string)

	// Fail fields.
	FailMessage string
	FailDetails string

	// Complete fields.
	StopReason string
}

// replayable reports whether a message kind is buffered for subscribers
// that join after it was posted. Permission requests are never buffered:
// replaying a stale permission request to a new subscriber would either
// double-answer it or hand a second subscriber a stale resolve closure.
func (k MessageKind) replayable() bool {
	return k != KindRequestPermission
}
