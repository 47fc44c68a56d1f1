package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"zchat_go/internal/domain"
	"zchat_go/internal/store"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageSelect = `
	SELECT m.id, m.conversation_id, m.sender_id, u.identity, m.sent_at, m.content, m.type, m.attachments::text, m.deleted_at
	FROM messages m
	JOIN users u ON u.id = m.sender_id
`

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	atts, err := store.EncodeAttachments(m.Attachments)
	if err != nil {
		return err
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, sent_at, content, type, attachments, media_kinds)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		RETURNING id
	`,
		m.ConversationID,
		m.SenderID,
		m.SentAt.UTC(),
		m.Content,
		string(m.Type),
		atts,
		store.MediaKinds(m.Attachments),
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, messageSelect+` WHERE m.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET deleted_at = COALESCE(deleted_at, $1) WHERE id = $2
	`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) ListBefore(ctx context.Context, conversationID, beforeID int64, limit int) ([]*domain.Message, error) {
	return r.list(ctx, messageSelect+`
		WHERE m.conversation_id = $1
		AND ($2 = 0 OR m.id < $2)
		ORDER BY m.id DESC
		LIMIT $3
	`, conversationID, beforeID, limit)
}

func (r *MessageRepo) ListMediaBefore(ctx context.Context, conversationID int64, kind domain.MediaKind, beforeID int64, limit int) ([]*domain.Message, error) {
	return r.list(ctx, messageSelect+`
		WHERE m.conversation_id = $1
		AND m.type <> 'text'
		AND m.deleted_at IS NULL
		AND m.media_kinds LIKE $2
		AND ($3 = 0 OR m.id < $3)
		ORDER BY m.id DESC
		LIMIT $4
	`, conversationID, store.KindPattern(kind), beforeID, limit)
}

func (r *MessageRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*domain.Message, error) {
	var (
		m         domain.Message
		msgType   string
		atts      string
		deletedAt sql.NullTime
	)
	if err := s.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.SenderIdentity,
		&m.SentAt,
		&m.Content,
		&msgType,
		&atts,
		&deletedAt,
	); err != nil {
		return nil, err
	}
	m.Type = domain.MessageType(msgType)
	attachments, err := store.DecodeAttachments(atts)
	if err != nil {
		return nil, err
	}
	m.Attachments = attachments
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	return &m, nil
}
