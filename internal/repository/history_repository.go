package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/finnybot/internal/models"
)

type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append adds one message to the conversation log. The log is append-only;
// insertion order is the only ordering the table guarantees.
func (r *HistoryRepository) Append(ctx context.Context, chatID int64, role models.Role, content string) error {
	const query = `
INSERT INTO chat_history (chat_id, role, content)
VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, chatID, role, content); err != nil {
		return fmt.Errorf("insert history message: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent messages in chronological order.
// The query reads newest-first; the slice is reversed before returning.
func (r *HistoryRepository) Recent(ctx context.Context, chatID int64, limit int) ([]models.ConversationMessage, error) {
	const query = `
SELECT id, chat_id, role, content, created_at FROM chat_history
WHERE chat_id = $1
ORDER BY id DESC
LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var messages []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Clear irreversibly deletes the whole conversation.
func (r *HistoryRepository) Clear(ctx context.Context, chatID int64) error {
	const query = `DELETE FROM chat_history WHERE chat_id = $1`
	if _, err := r.db.ExecContext(ctx, query, chatID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
