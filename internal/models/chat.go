package models

type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// ChatTurn is one message of a conversation.
type ChatTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}
