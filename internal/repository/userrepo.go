// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/tvkeeper/internal/model"
)

// UserRepository is the credential store: identities and their password digests.
type UserRepository interface {
	// Create inserts a new user. A taken email yields errs.ErrAlreadyExists.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by normalized email; errs.ErrNotFound when absent.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// UpdatePasswordHash replaces the digest together with its algorithm and cost snapshot.
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash, algo string, meta model.HashParams) error
}
