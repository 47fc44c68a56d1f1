package sqlite

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
	SELECT m.id, m.conversation_id, m.sender_id, u.identity, m.sent_at, m.content, m.type, m.attachments, m.deleted_at
	FROM messages m
	JOIN users u ON u.id = m.sender_id
`

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	atts, err := store.EncodeAttachments(m.Attachments)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, sent_at, content, type, attachments, media_kinds)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		m.ConversationID,
		m.SenderID,
		m.SentAt.UTC(),
		m.Content,
		string(m.Type),
		atts,
		store.MediaKinds(m.Attachments),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, messageSelect+` WHERE m.id = ?`, id)
	m, err := scanMessage(row)
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
		UPDATE messages SET deleted_at = COALESCE(deleted_at, ?) WHERE id = ?
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
	query := messageSelect + ` WHERE m.conversation_id = ?`
	args := []any{conversationID}
	if beforeID > 0 {
		query += ` AND m.id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY m.id DESC LIMIT ?`
	args = append(args, limit)
	return r.list(ctx, query, args...)
}

func (r *MessageRepo) ListMediaBefore(ctx context.Context, conversationID int64, kind domain.MediaKind, beforeID int64, limit int) ([]*domain.Message, error) {
	query := messageSelect + `
		WHERE m.conversation_id = ?
		AND m.type <> 'text'
		AND m.deleted_at IS NULL
		AND m.media_kinds LIKE ?`
	args := []any{conversationID, store.KindPattern(kind)}
	if beforeID > 0 {
		query += ` AND m.id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY m.id DESC LIMIT ?`
	args = append(args, limit)
	return r.list(ctx, query, args...)
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
