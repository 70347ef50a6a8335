package chat

// Role tags a transcript entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of a transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Frame is the JSON object pushed to a channel client.
type Frame struct {
	Role  Role   `json:"role"`
	Parts string `json:"parts"`
}

// Turn is one entry of a client-supplied history, as sent to the summary
// endpoint. Role is free-form ("user", "model", ...).
type Turn struct {
	Role  string `json:"role"`
	Parts string `json:"parts"`
}
