// Package session holds per-chat conversation state. State is keyed by
// chat id only, so two users never observe each other's flows.
package session

import "context"

// Session is the conversation state of one chat: which flow is active,
// which step it is on and the answers collected so far.
type Session struct {
	ChatID int64             `json:"chat_id"`
	Flow   string            `json:"flow"`
	Step   int               `json:"step"`
	Fields map[string]string `json:"fields"`
}

// New starts a fresh session for a flow.
func New(chatID int64, flow string) *Session {
	return &Session{
		ChatID: chatID,
		Flow:   flow,
		Fields: make(map[string]string),
	}
}

// Store persists sessions. Get returns (nil, nil) when the chat has no
// active flow; Clear on an absent session is a no-op.
type Store interface {
	Get(ctx context.Context, chatID int64) (*Session, error)
	Put(ctx context.Context, sess *Session) error
	Clear(ctx context.Context, chatID int64) error
}
