package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetOrCreate(ctx context.Context, identity string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByIdentity(ctx context.Context, identity string) (*User, error)
}

// ConversationRepository defines persistence operations for conversations.
type ConversationRepository interface {
	Create(ctx context.Context, c *Conversation, participantIDs []int64) error
	GetByID(ctx context.Context, id int64) (*Conversation, error)
	FindExistingDirect(ctx context.Context, participantIDs []int64) (*Conversation, error)
}

// ParticipantRepository defines operations around conversation participants.
type ParticipantRepository interface {
	ListParticipants(ctx context.Context, conversationID int64) ([]*User, error)
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
}

// MessageRepository defines persistence operations for messages.
// Cursor queries return rows with id < beforeID (no bound when beforeID is 0)
// ordered by id descending.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	SoftDelete(ctx context.Context, id int64, at time.Time) error
	ListBefore(ctx context.Context, conversationID, beforeID int64, limit int) ([]*Message, error)
	ListMediaBefore(ctx context.Context, conversationID int64, kind MediaKind, beforeID int64, limit int) ([]*Message, error)
}
