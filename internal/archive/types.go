// Package archive persists every chat turn for audit and history
// lookups, independent of the bounded in-process transcript window.
package archive

import (
	"context"
	"time"
)

// TurnRecord stores a single user or assistant conversational turn.
// Content is the PII-masked copy; Redacted marks whether masking
// changed anything.
type TurnRecord struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Redacted       bool      `json:"redacted"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists and retrieves archived turns.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	Recent(ctx context.Context, userID string, limit int) ([]TurnRecord, error)
	Close() error
}
