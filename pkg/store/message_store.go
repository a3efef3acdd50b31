package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/apperr"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/crypto"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// MessageStore persists delivered notifications (spec §3, §4.4).
// Content is sealed with AES-256-GCM before it touches the database and
// opened immediately after a SELECT — plaintext never reaches the
// database (spec §6 "Persisted state").
type MessageStore struct {
	db     *sql.DB
	sealer *crypto.Sealer
}

func (s *MessageStore) scan(row interface {
	Scan(dest ...any) error
}) (*models.Message, error) {
	var m models.Message
	var todoID, sessionID, projectID sql.NullString
	var sealed []byte
	var read int

	if err := row.Scan(&m.ID, &m.Type, &sealed, &todoID, &sessionID, &projectID, &read, &m.CreatedAt); err != nil {
		return nil, err
	}

	plain, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt message %d: %w", m.ID, err)
	}
	m.Content = plain
	if todoID.Valid {
		m.TodoID = &todoID.String
	}
	if sessionID.Valid {
		m.SessionID = &sessionID.String
	}
	if projectID.Valid {
		m.ProjectID = &projectID.String
	}
	m.Read = read != 0
	return &m, nil
}

const messageColumns = `id, type, content, todo_id, session_id, project_id, read, created_at`

// Get returns the message with id, or apperr.ErrNotFound.
func (s *MessageStore) Get(ctx context.Context, id int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("message %d", id)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// List returns messages matching filter, most recent first.
func (s *MessageStore) List(ctx context.Context, filter models.MessageFilter) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE 1=1`
	var args []any
	if filter.Read != nil {
		query += ` AND read = ?`
		if *filter.Read {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if filter.ProjectID != nil {
		query += ` AND project_id = ?`
		args = append(args, *filter.ProjectID)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create seals content and inserts a new message, returning its assigned ID.
func (s *MessageStore) Create(ctx context.Context, m *models.Message) (int64, error) {
	sealed, err := s.sealer.Seal(m.Content)
	if err != nil {
		return 0, fmt.Errorf("encrypt message: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (type, content, todo_id, session_id, project_id, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.Type, sealed, m.TodoID, m.SessionID, m.ProjectID, boolToInt(m.Read), m.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return res.LastInsertId()
}

// MarkRead flips a message's read flag to true.
func (s *MessageStore) MarkRead(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return requireRowsAffected(res, "message", fmt.Sprintf("%d", id))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
