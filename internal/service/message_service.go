package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zchat_go/internal/domain"
)

const (
	DefaultPageSize  = 50
	MaxContentLength = 5000
)

type MessageService struct {
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	messages      domain.MessageRepository

	MaxPageSize int
	now         func() time.Time
}

func NewMessageService(
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
	messages domain.MessageRepository,
	maxPageSize int,
) *MessageService {
	return &MessageService{
		conversations: conversations,
		participants:  participants,
		messages:      messages,
		MaxPageSize:   maxPageSize,
		now:           time.Now,
	}
}

// HistoryPage is one page of messages, newest first.
type HistoryPage struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

// MediaPage is one page of media items, newest message first.
type MediaPage struct {
	Media      []domain.MediaItem `json:"media"`
	Pagination Pagination         `json:"pagination"`
}

type Pagination struct {
	HasMore bool `json:"hasMore"`
}

func (s *MessageService) authorize(ctx context.Context, conversationID, userID int64) error {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("conversation %d: %w", conversationID, domain.ErrNotFound)
	}
	ok, err := s.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return fmt.Errorf("not a participant in conversation %d: %w", conversationID, domain.ErrForbidden)
	}
	return nil
}

func (s *MessageService) clamp(limit int) int {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if s.MaxPageSize > 0 && limit > s.MaxPageSize {
		limit = s.MaxPageSize
	}
	return limit
}

// History returns up to limit messages older than beforeID. One extra row is
// read to decide HasMore.
func (s *MessageService) History(ctx context.Context, userID, conversationID, beforeID int64, limit int) (*HistoryPage, error) {
	if err := s.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	limit = s.clamp(limit)

	rows, err := s.messages.ListBefore(ctx, conversationID, beforeID, limit+1)
	if err != nil {
		return nil, err
	}
	page := &HistoryPage{Messages: make([]domain.Message, 0, limit)}
	if len(rows) > limit {
		page.HasMore = true
		rows = rows[:limit]
	}
	for _, m := range rows {
		page.Messages = append(page.Messages, *m)
	}
	return page, nil
}

// Media returns the attachments of kind from up to limit messages older than
// beforeID. All attachments of one message land on the same page so the
// message id works as the next cursor.
func (s *MessageService) Media(ctx context.Context, userID, conversationID int64, kind domain.MediaKind, beforeID int64, limit int) (*MediaPage, error) {
	if err := s.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	limit = s.clamp(limit)

	rows, err := s.messages.ListMediaBefore(ctx, conversationID, kind, beforeID, limit+1)
	if err != nil {
		return nil, err
	}
	page := &MediaPage{Media: []domain.MediaItem{}}
	if len(rows) > limit {
		page.Pagination.HasMore = true
		rows = rows[:limit]
	}
	for _, m := range rows {
		page.Media = append(page.Media, domain.MediaItems(*m, kind)...)
	}
	return page, nil
}

type MessageCreateInput struct {
	ConversationID int64
	Content        string
	Type           domain.MessageType
	Attachments    []domain.Attachment
}

// Create stores a message from senderID. An empty type is inferred from the
// attachments.
func (s *MessageService) Create(ctx context.Context, senderID int64, in MessageCreateInput) (*domain.Message, error) {
	in.Content = strings.TrimSpace(in.Content)
	if len([]rune(in.Content)) > MaxContentLength {
		return nil, fmt.Errorf("message content exceeds %d characters: %w", MaxContentLength, domain.ErrInvalidInput)
	}
	if in.Type == "" {
		in.Type = inferType(in.Attachments)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("unknown message type %q: %w", in.Type, domain.ErrInvalidInput)
	}
	switch in.Type {
	case domain.MessageTypeText:
		if in.Content == "" {
			return nil, fmt.Errorf("message content cannot be empty: %w", domain.ErrInvalidInput)
		}
		in.Attachments = nil
	default:
		if len(in.Attachments) == 0 {
			return nil, fmt.Errorf("%s message needs attachments: %w", in.Type, domain.ErrInvalidInput)
		}
		for _, a := range in.Attachments {
			if a.URL == "" {
				return nil, fmt.Errorf("attachment url is required: %w", domain.ErrInvalidInput)
			}
		}
	}

	if err := s.authorize(ctx, in.ConversationID, senderID); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ConversationID: in.ConversationID,
		SenderID:       senderID,
		SentAt:         s.now().UTC(),
		Content:        in.Content,
		Type:           in.Type,
		Attachments:    in.Attachments,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	return s.reload(ctx, msg)
}

func inferType(atts []domain.Attachment) domain.MessageType {
	if len(atts) == 0 {
		return domain.MessageTypeText
	}
	for _, a := range atts {
		if k := a.Kind(); k == domain.MediaKindImage || k == domain.MediaKindVideo {
			return domain.MessageTypeMedia
		}
	}
	return domain.MessageTypeFile
}

// Delete soft-deletes a message of callerID in conversationID.
func (s *MessageService) Delete(ctx context.Context, callerID, conversationID, messageID int64) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg == nil || msg.ConversationID != conversationID {
		return nil, fmt.Errorf("message %d: %w", messageID, domain.ErrNotFound)
	}
	if msg.SenderID != callerID {
		return nil, fmt.Errorf("only the sender can delete a message: %w", domain.ErrForbidden)
	}
	if msg.IsDeleted() {
		return msg, nil
	}
	if err := s.messages.SoftDelete(ctx, messageID, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.reload(ctx, msg)
}

func (s *MessageService) reload(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	stored, err := s.messages.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("reload message: %w", err)
	}
	if stored == nil {
		return msg, nil
	}
	return stored, nil
}

// ParticipantIdentities lists the identities of a conversation's members.
func (s *MessageService) ParticipantIdentities(ctx context.Context, conversationID int64) ([]string, error) {
	users, err := s.participants.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.Identity)
	}
	return ids, nil
}
