package recipe

import (
	"context"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("recipe not found")

// Store provides the recipe catalog.
type Store interface {
	List(ctx context.Context) ([]Recipe, error)
	Get(ctx context.Context, id string) (Recipe, error)
	Put(ctx context.Context, r Recipe) error
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise an
// in-memory catalog seeded with the bundled recipes.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(seedRecipes()...), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
