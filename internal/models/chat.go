package models

// Роли сообщений в диалоге.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage — одно сообщение диалога.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
