package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"zchat_go/internal/domain"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

// GetOrCreate upserts the user for identity and returns it.
func (r *UserRepo) GetOrCreate(ctx context.Context, identity string) (*domain.User, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, domain.ErrInvalidInput
	}
	u := &domain.User{}
	// DO UPDATE so RETURNING yields the row on conflict too.
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (identity)
		VALUES ($1)
		ON CONFLICT (identity) DO UPDATE SET identity = EXCLUDED.identity
		RETURNING id, identity, display_name, created_at
	`, identity).Scan(&u.ID, &u.Identity, &u.DisplayName, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT id, identity, display_name, created_at FROM users WHERE id = $1`, id)
}

func (r *UserRepo) GetByIdentity(ctx context.Context, identity string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT id, identity, display_name, created_at FROM users WHERE identity = $1`, identity)
}

func (r *UserRepo) scanUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Identity, &u.DisplayName, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}
