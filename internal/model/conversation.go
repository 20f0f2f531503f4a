package model

// Turn roles for stored conversations.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is a single message inside a stored conversation.
type ConversationTurn struct {
	Role       string   `json:"role"`
	Content    string   `json:"content"`
	Timestamp  int64    `json:"timestamp"`
	Sources    []string `json:"sources,omitempty"`
	Clarifying bool     `json:"clarifying,omitempty"`
}

// StoredConversation is multi-turn dialogue state keyed by session id.
// Turns are appended in request order and capped at a fixed maximum.
type StoredConversation struct {
	SessionID string             `json:"session_id"`
	Ctime     int64              `json:"ctime"`
	Mtime     int64              `json:"mtime"`
	Turns     []ConversationTurn `json:"turns"`
}
