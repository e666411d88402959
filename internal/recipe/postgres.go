package recipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the recipe catalog in PostgreSQL. Ingredients and
// steps are stored as JSONB documents; the catalog is read-heavy and small.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.seedIfEmpty(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recipes (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			servings INT NOT NULL DEFAULT 0,
			total_time_seconds BIGINT NOT NULL DEFAULT 0,
			ingredients JSONB NOT NULL DEFAULT '[]',
			steps JSONB NOT NULL DEFAULT '[]',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) seedIfEmpty(ctx context.Context) error {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM recipes`).Scan(&count); err != nil {
		return fmt.Errorf("count recipes: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, r := range seedRecipes() {
		if err := s.Put(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Recipe, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, description, servings, total_time_seconds, ingredients, steps
		 FROM recipes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query recipes: %w", err)
	}
	defer rows.Close()

	var out []Recipe
	for rows.Next() {
		r, err := scanRecipe(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipe rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Recipe, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, title, description, servings, total_time_seconds, ingredients, steps
		 FROM recipes WHERE id=$1`, id)
	r, err := scanRecipe(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recipe{}, ErrNotFound
		}
		return Recipe{}, err
	}
	return r, nil
}

func (s *PostgresStore) Put(ctx context.Context, r Recipe) error {
	ingredients, err := json.Marshal(r.Ingredients)
	if err != nil {
		return fmt.Errorf("marshal ingredients: %w", err)
	}
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO recipes (id, title, description, servings, total_time_seconds, ingredients, steps, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (id) DO UPDATE SET
			title=EXCLUDED.title,
			description=EXCLUDED.description,
			servings=EXCLUDED.servings,
			total_time_seconds=EXCLUDED.total_time_seconds,
			ingredients=EXCLUDED.ingredients,
			steps=EXCLUDED.steps,
			updated_at=now()`,
		r.ID, r.Title, r.Description, r.Servings, int64(r.TotalTime.Seconds()), ingredients, steps,
	)
	if err != nil {
		return fmt.Errorf("upsert recipe: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecipe(scan func(dest ...any) error) (Recipe, error) {
	var (
		r           Recipe
		totalSecs   int64
		ingredients []byte
		steps       []byte
	)
	if err := scan(&r.ID, &r.Title, &r.Description, &r.Servings, &totalSecs, &ingredients, &steps); err != nil {
		return Recipe{}, fmt.Errorf("scan recipe: %w", err)
	}
	r.TotalTime = time.Duration(totalSecs) * time.Second
	if err := json.Unmarshal(ingredients, &r.Ingredients); err != nil {
		return Recipe{}, fmt.Errorf("decode ingredients: %w", err)
	}
	if err := json.Unmarshal(steps, &r.Steps); err != nil {
		return Recipe{}, fmt.Errorf("decode steps: %w", err)
	}
	return r, nil
}
