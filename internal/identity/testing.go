package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Seed stores user directly in repo, filling in an id and timestamps when
// they are missing. Intended for tests.
func Seed(ctx context.Context, repo Repository, user User) (User, error) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	if err := repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}
