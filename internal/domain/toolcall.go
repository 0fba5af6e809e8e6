package domain

// ToolCall is one action request issued by the agent while a run waits in
// requires_action.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolOutput answers exactly one ToolCall. Output is a JSON document.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}
