package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"relaybox.app/relay/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx, so stores work inside and
// outside transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MessageStore is the durable chat log. Message IDs are snowflakes, so ID
// order is creation order.
type MessageStore interface {
	Create(ctx context.Context, msg *model.ChatMessage) error
	// Delete removes a message; deleting a missing id is not an error.
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*model.ChatMessage, error)
	// ListByChatAfter returns messages of chatID with ID > afterID, oldest first.
	ListByChatAfter(ctx context.Context, chatID string, afterID int64, limit int32) ([]model.ChatMessage, error)
	// ListByUserModuleAfter returns messages scoped to (userID, module) with ID > afterID, oldest first.
	ListByUserModuleAfter(ctx context.Context, userID, module string, afterID int64, limit int32) ([]model.ChatMessage, error)
}
