package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/finnybot/internal/models"
)

type AssistantRepository struct {
	db *sql.DB
}

func NewAssistantRepository(db *sql.DB) *AssistantRepository {
	return &AssistantRepository{db: db}
}

func (r *AssistantRepository) All(ctx context.Context) ([]models.Assistant, error) {
	const query = `SELECT assistant_key, name, prompt FROM assistants ORDER BY assistant_key ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list assistants: %w", err)
	}
	defer rows.Close()

	var assistants []models.Assistant
	for rows.Next() {
		var a models.Assistant
		if err := rows.Scan(&a.Key, &a.Name, &a.Prompt); err != nil {
			return nil, fmt.Errorf("scan assistant: %w", err)
		}
		assistants = append(assistants, a)
	}
	return assistants, rows.Err()
}

func (r *AssistantRepository) GetByKey(ctx context.Context, key string) (*models.Assistant, error) {
	const query = `SELECT assistant_key, name, prompt FROM assistants WHERE assistant_key = $1`
	row := r.db.QueryRowContext(ctx, query, key)
	var a models.Assistant
	if err := row.Scan(&a.Key, &a.Name, &a.Prompt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get assistant: %w", err)
	}
	return &a, nil
}

func (r *AssistantRepository) Count(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM assistants`
	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count assistants: %w", err)
	}
	return count, nil
}

func (r *AssistantRepository) Upsert(ctx context.Context, a models.Assistant) error {
	const query = `
INSERT INTO assistants (assistant_key, name, prompt)
VALUES ($1, $2, $3)
ON CONFLICT (assistant_key) DO UPDATE SET
    name = EXCLUDED.name,
    prompt = EXCLUDED.prompt,
    updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, a.Key, a.Name, a.Prompt); err != nil {
		return fmt.Errorf("upsert assistant: %w", err)
	}
	return nil
}

func (r *AssistantRepository) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM assistants WHERE assistant_key = $1`
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete assistant: %w", err)
	}
	return nil
}
