package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/tvkeeper/internal/errs"
	"github.com/and161185/tvkeeper/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, email, pwd_hash, role, hash_algo, hash_meta, created_at`

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	meta, err := json.Marshal(u.HashMeta)
	if err != nil {
		return fmt.Errorf("marshal hash meta: %w", err)
	}
	const q = `
INSERT INTO users (id, email, pwd_hash, role, hash_algo, hash_meta)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at`
	err = r.db.Pool.QueryRow(ctx, q, u.ID, u.Email, u.PwdHash, string(u.Role), u.HashAlgo, meta).Scan(&u.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByEmail selects a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, email))
}

// UpdatePasswordHash rewrites the digest and its metadata.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash, algo string, meta model.HashParams) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal hash meta: %w", err)
	}
	const q = `
UPDATE users
SET pwd_hash = $2, hash_algo = $3, hash_meta = $4
WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, id, hash, algo, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u    model.User
		role string
		meta []byte
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PwdHash, &role, &u.HashAlgo, &meta, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	u.Role = model.Role(role)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &u.HashMeta); err != nil {
			return nil, fmt.Errorf("decode hash meta: %w", err)
		}
	}
	return &u, nil
}
