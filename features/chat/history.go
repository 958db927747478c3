package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources"`
	CreatedAt time.Time `json:"timestamp"`
}

type History struct {
	DocumentID string    `json:"document_id"`
	Messages   []Message `json:"messages"`
}

// HistoryStore keeps the conversation of each document in order.
type HistoryStore interface {
	Append(ctx context.Context, documentID string, msgs ...Message) error
	List(ctx context.Context, documentID string) ([]Message, error)
}

type PostgresHistory struct {
	db *sql.DB
}

func NewPostgresHistory(db *sql.DB) *PostgresHistory {
	return &PostgresHistory{db: db}
}

// Append writes the messages as one unit so a question never lands without
// its answer.
func (r *PostgresHistory) Append(ctx context.Context, documentID string, msgs ...Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chat_messages (document_id, role, content, sources) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range msgs {
		sources := m.Sources
		if sources == nil {
			sources = []Source{}
		}
		encoded, err := json.Marshal(sources)
		if err != nil {
			return fmt.Errorf("encode sources: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, documentID, m.Role, m.Content, string(encoded)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresHistory) List(ctx context.Context, documentID string) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT role, content, sources, created_at FROM chat_messages WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var (
			m       Message
			sources []byte
		)
		if err := rows.Scan(&m.Role, &m.Content, &sources, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Sources = []Source{}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &m.Sources); err != nil {
				return nil, fmt.Errorf("decode sources: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
