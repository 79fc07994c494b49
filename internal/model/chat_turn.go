package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// TurnEvent carries turns to append to a document's history through the
// message queue.
type TurnEvent struct {
	Document string     `json:"document"`
	Turns    []ChatTurn `json:"turns"`
}
