package service

import (
	"context"
	"fmt"
	"strings"

	"zchat_go/internal/domain"
)

type ConversationService struct {
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	users         domain.UserRepository
}

func NewConversationService(
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
	users domain.UserRepository,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		participants:  participants,
		users:         users,
	}
}

type ConversationCreateInput struct {
	Name         *string
	Participants []string
}

// CreateConversation returns the direct conversation between the creator and
// a single other identity, creating it if needed. Two or more other
// identities always create a new group conversation.
func (s *ConversationService) CreateConversation(
	ctx context.Context,
	in ConversationCreateInput,
	creator *domain.User,
) (*domain.Conversation, error) {
	ids := []int64{creator.ID}
	seen := map[int64]struct{}{creator.ID: {}}
	for _, identity := range in.Participants {
		identity = strings.TrimSpace(identity)
		if identity == "" {
			continue
		}
		u, err := s.users.GetOrCreate(ctx, identity)
		if err != nil {
			return nil, fmt.Errorf("resolve participant %q: %w", identity, err)
		}
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		ids = append(ids, u.ID)
	}
	if len(ids) < 2 {
		return nil, fmt.Errorf("at least one other participant is required: %w", domain.ErrInvalidInput)
	}

	isGroup := len(ids) > 2
	if !isGroup {
		existing, err := s.conversations.FindExistingDirect(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("find existing conversation: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	conv := &domain.Conversation{Name: in.Name, IsGroup: isGroup}
	if err := s.conversations.Create(ctx, conv, ids); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation returns the conversation if userID participates in it.
func (s *ConversationService) GetConversation(ctx context.Context, conversationID, userID int64) (*domain.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %d: %w", conversationID, domain.ErrNotFound)
	}
	ok, err := s.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("not a participant in conversation %d: %w", conversationID, domain.ErrForbidden)
	}
	return conv, nil
}
