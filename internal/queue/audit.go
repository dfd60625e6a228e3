package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// AuditRecord describes one accepted reply. The session key is stored hashed.
type AuditRecord struct {
	SessionKey  string
	EntryID     int64
	Mode        string
	BodyBytes   int
	Attachments int
	Skipped     int
	At          time.Time
}

type AuditLog interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// redisAuditLog appends to a capped stream; XADD MAXLEN ~ keeps it bounded
// without a separate trimming job.
type redisAuditLog struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewRedisAuditLog(client redis.UniversalClient, stream string, maxLen int64) AuditLog {
	return &redisAuditLog{client: client, stream: stream, maxLen: maxLen}
}

func (a *redisAuditLog) Record(ctx context.Context, rec AuditRecord) error {
	sum := sha256.Sum256([]byte(rec.SessionKey))
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}

	err := a.client.XAdd(ctx, &redis.XAddArgs{
		Stream: a.stream,
		MaxLen: a.maxLen,
		Approx: true,
		Values: map[string]any{
			"session_hash": hex.EncodeToString(sum[:8]),
			"entry_id":     strconv.FormatInt(rec.EntryID, 10),
			"mode":         rec.Mode,
			"body_bytes":   rec.BodyBytes,
			"attachments":  rec.Attachments,
			"skipped":      rec.Skipped,
			"at":           at.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd audit (stream=%s): %w", a.stream, err)
	}
	return nil
}
