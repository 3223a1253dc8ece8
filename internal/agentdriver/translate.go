package agentdriver

import "encoding/json"

// wireUpdate mirrors the session/update notification payload shape:
// AgentReady, AgentUpdate(kind, text), Thinking, ToolCall,
// ToolCallUpdate, RequestPermission, AgentFail, AgentComplete all arrive
// as one "session/update" method with a discriminating "type" field.
type wireUpdate struct {
	Type string `json:"type"`

	Kind string `json:"kind"` // AgentUpdate's text/terminal/terminal_output/terminal_exit
	Text string `json:"text"`

	ToolCallID    string `json:"toolCallId"`
	ToolCallTitle string `json:"title"`
	ToolCallState string `json:"status"`

	Options []struct {
		ID      string `json:"id"`
		Label   string `json:"label"`
		Reject  bool   `json:"rejectClass"`
	} `json:"options"`

	Message    string `json:"message"`
	Details    string `json:"details"`
	StopReason string `json:"stopReason"`
}

// translateNotification converts one inbound envelope into a Message.
// For a RequestPermission, respond is called with the chosen option id
// to answer the agent's still-open request over the wire; it is nil for
// every other kind. Unrecognized types are translated to a best-effort
// text update rather than dropped, so an unexpected wire addition
// degrades to visible output instead of silent loss.
func translateNotification(env envelope, respond func(optionID string)) Message {
	var u wireUpdate
	_ = json.Unmarshal(env.Params, &u)

	switch u.Type {
	case "AgentReady":
		return Message{Kind: KindReady}
	case "AgentUpdate":
		return Message{Kind: KindUpdate, UpdateKind: UpdateKind(u.Kind), Text: u.Text}
	case "Thinking":
		return Message{Kind: KindThinking, Text: u.Text}
	case "ToolCall":
		return Message{Kind: KindToolCall, ToolCallID: u.ToolCallID, ToolCallTitle: u.ToolCallTitle}
	case "ToolCallUpdate":
		return Message{Kind: KindToolCallUpdate, ToolCallID: u.ToolCallID, ToolCallState: u.ToolCallState}
	case "RequestPermission":
		opts := make([]PermissionOption, 0, len(u.Options))
		for _, o := range u.Options {
			opts = append(opts, PermissionOption{ID: o.ID, Label: o.Label, IsRejectClass: o.Reject})
		}
		return Message{Kind: KindRequestPermission, Options: opts, Resolve: respond}
	case "AgentFail":
		return Message{Kind: KindFail, FailMessage: u.Message, FailDetails: u.Details}
	case "AgentComplete":
		return Message{Kind: KindComplete, StopReason: u.StopReason}
	default:
		return Message{Kind: KindUpdate, UpdateKind: UpdateText, Text: u.Text}
	}
}
