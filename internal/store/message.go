package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"relaybox.app/relay/internal/model"
)

const messageColumns = `id, chat_id, user_id, module, direction, body, attachments, created_at`

type messageStore struct {
	db DBTX
}

func newMessageStore(db DBTX) MessageStore {
	return &messageStore{db: db}
}

func (s *messageStore) Create(ctx context.Context, msg *model.ChatMessage) error {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []model.Attachment{}
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("encoding attachments: %w", err)
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO chat_messages (id, chat_id, user_id, module, direction, body, attachments)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		msg.ID, msg.ChatID, msg.UserID, msg.Module, string(msg.Direction), msg.Body, raw,
	)
	var createdAt time.Time
	if err := row.Scan(&createdAt); err != nil {
		return err
	}
	msg.CreatedAt = createdAt
	return nil
}

func (s *messageStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM chat_messages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting message %d: %w", id, err)
	}
	return nil
}

func (s *messageStore) GetByID(ctx context.Context, id int64) (*model.ChatMessage, error) {
	row := s.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (s *messageStore) ListByChatAfter(ctx context.Context, chatID string, afterID int64, limit int32) ([]model.ChatMessage, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM chat_messages
		WHERE chat_id = $1 AND id > $2
		ORDER BY id
		LIMIT $3`,
		chatID, afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (s *messageStore) ListByUserModuleAfter(ctx context.Context, userID, module string, afterID int64, limit int32) ([]model.ChatMessage, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM chat_messages
		WHERE user_id = $1 AND module = $2 AND id > $3
		ORDER BY id
		LIMIT $4`,
		userID, module, afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]model.ChatMessage, error) {
	defer rows.Close()

	result := []model.ChatMessage{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *msg)
	}
	return result, rows.Err()
}

func scanMessage(row pgx.Row) (*model.ChatMessage, error) {
	var (
		msg       model.ChatMessage
		direction string
		raw       []byte
	)
	if err := row.Scan(&msg.ID, &msg.ChatID, &msg.UserID, &msg.Module, &direction, &msg.Body, &raw, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.Direction = model.Direction(direction)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decoding attachments of message %d: %w", msg.ID, err)
		}
	}
	return &msg, nil
}
