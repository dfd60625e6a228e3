// Package mailbox buffers replies per session key until a consumer drains them.
//
// A mailbox is an ordered list with a sliding expiry. Appends and drains are
// atomic on the backing store, so concurrent producers never lose entries and
// a drained entry is never returned twice.
package mailbox

import (
	"context"
	"errors"

	"relaybox.app/relay/internal/model"
)

// ErrUnavailable is returned when the backing store is unreachable,
// unconfigured or did not answer within the operation timeout.
var ErrUnavailable = errors.New("mailbox storage unavailable")

type Store interface {
	// Append adds entry at the tail of the session's mailbox and resets the
	// mailbox expiry.
	Append(ctx context.Context, key model.SessionKey, entry model.MailboxEntry) error

	// Drain returns every pending entry in append order and clears the
	// mailbox. An empty or expired mailbox yields an empty slice.
	Drain(ctx context.Context, key model.SessionKey) ([]model.MailboxEntry, error)
}
