package domain

import (
	"strings"
	"time"
)

// User is a participant known to the relay. Identity is the stable peer
// identifier (an email address in practice) used for presence and calls.
type User struct {
	ID          int64     `db:"id" json:"id"`
	Identity    string    `db:"identity" json:"identity"`
	DisplayName string    `db:"display_name" json:"display_name,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Conversation groups the participants that share a message history.
type Conversation struct {
	ID        int64     `db:"id" json:"id"`
	Name      *string   `db:"name" json:"name,omitempty"`
	IsGroup   bool      `db:"is_group" json:"is_group"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeMedia MessageType = "media"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeMedia, MessageTypeFile:
		return true
	}
	return false
}

// Attachment is one file carried by a media or file message.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// Kind derives the media kind from the attachment's mime type.
func (a Attachment) Kind() MediaKind {
	mt := strings.ToLower(a.MimeType)
	switch {
	case strings.HasPrefix(mt, "image/"):
		return MediaKindImage
	case strings.HasPrefix(mt, "video/"):
		return MediaKindVideo
	default:
		return MediaKindFile
	}
}

// Message is a single chat message. ID is assigned by the backend and is the
// only ordering and de-duplication key. Messages are immutable once delivered
// except for DeletedAt.
type Message struct {
	ID             int64        `db:"id" json:"id"`
	ConversationID int64        `db:"conversation_id" json:"conversation_id"`
	SenderID       int64        `db:"sender_id" json:"sender_id"`
	SenderIdentity string       `db:"sender_identity" json:"sender_identity,omitempty"`
	SentAt         time.Time    `db:"sent_at" json:"sent_at"`
	Content        string       `db:"content" json:"content"`
	Type           MessageType  `db:"type" json:"type"`
	Attachments    []Attachment `db:"attachments" json:"attachments,omitempty"`
	DeletedAt      *time.Time   `db:"deleted_at" json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the message has been soft deleted.
func (m Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// MediaKind discriminates the shared-media sections.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
	MediaKindFile  MediaKind = "file"
)

// ParseMediaKind validates a media kind taken from a URL or config.
func ParseMediaKind(s string) (MediaKind, error) {
	switch k := MediaKind(strings.ToLower(strings.TrimSpace(s))); k {
	case MediaKindImage, MediaKindVideo, MediaKindFile:
		return k, nil
	}
	return "", ErrInvalidInput
}

// SenderSummary is the sender information attached to a media item.
type SenderSummary struct {
	ID       int64  `json:"id"`
	Identity string `json:"identity"`
}

// MediaItem is a projection of one attachment of a media/file message.
type MediaItem struct {
	URL       string        `json:"url"`
	Name      string        `json:"name"`
	Size      int64         `json:"size"`
	MimeType  string        `json:"mime_type"`
	MessageID int64         `json:"message_id"`
	SentAt    time.Time     `json:"sent_at"`
	Sender    SenderSummary `json:"sender"`
}

// MediaItems projects the attachments of m that match kind. A message with
// several attachments yields several items.
func MediaItems(m Message, kind MediaKind) []MediaItem {
	if m.Type == MessageTypeText || m.IsDeleted() {
		return nil
	}
	var items []MediaItem
	for _, a := range m.Attachments {
		if a.Kind() != kind {
			continue
		}
		items = append(items, MediaItem{
			URL:       a.URL,
			Name:      a.Name,
			Size:      a.Size,
			MimeType:  a.MimeType,
			MessageID: m.ID,
			SentAt:    m.SentAt,
			Sender:    SenderSummary{ID: m.SenderID, Identity: m.SenderIdentity},
		})
	}
	return items
}
