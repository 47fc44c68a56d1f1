package sqlite

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

const userColumns = `id, identity, display_name, created_at`

// GetOrCreate returns the user for identity, inserting it on first sight.
func (r *UserRepo) GetOrCreate(ctx context.Context, identity string) (*domain.User, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, domain.ErrInvalidInput
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO users (identity, created_at)
		VALUES (?, CURRENT_TIMESTAMP)
		ON CONFLICT(identity) DO NOTHING
	`, identity); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	u, err := r.GetByIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("get or create user %q: %w", identity, domain.ErrNotFound)
	}
	return u, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepo) GetByIdentity(ctx context.Context, identity string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE identity = ?`, identity)
}

func (r *UserRepo) scanUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID,
		&u.Identity,
		&u.DisplayName,
		&u.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}
