// Package blob persists reply attachments outside the mailbox so mailbox
// entries only carry small references.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"

	// Bucket URL schemes accepted by Open.
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"relaybox.app/relay/common/id"
	"relaybox.app/relay/internal/model"
)

type Store interface {
	Put(ctx context.Context, name, mimeType string, data []byte) (model.Attachment, error)
	// Delete removes a blob written by Put. Deleting a missing blob is not an error.
	Delete(ctx context.Context, att model.Attachment) error
}

// BucketStore writes blobs into a gocloud bucket and hands out URLs under
// baseURL. Object keys are prefixed with a snowflake ID so concurrent uploads
// of the same file name never collide.
type BucketStore struct {
	bucket  *blob.Bucket
	baseURL string
}

func NewBucketStore(bucket *blob.Bucket, baseURL string) *BucketStore {
	return &BucketStore{bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}
}

// Open picks the backend from bucketURL ("s3://bucket?region=...",
// "mem://"). An empty bucketURL stores files under dir.
func Open(ctx context.Context, bucketURL, dir, baseURL string) (*BucketStore, error) {
	if bucketURL != "" {
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return nil, fmt.Errorf("opening bucket %s: %w", bucketURL, err)
		}
		return NewBucketStore(bucket, baseURL), nil
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating blob dir: %w", err)
	}
	bucket, err := fileblob.OpenBucket(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("opening blob dir %s: %w", dir, err)
	}
	return NewBucketStore(bucket, baseURL), nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (s *BucketStore) Put(ctx context.Context, name, mimeType string, data []byte) (model.Attachment, error) {
	key := strconv.FormatInt(id.New(), 10) + "-" + SanitizeName(name)

	// A leftover key means the ID generator is misconfigured.
	exists, err := s.bucket.Exists(ctx, key)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("checking blob %s: %w", key, err)
	}
	if exists {
		return model.Attachment{}, fmt.Errorf("blob %s already exists", key)
	}

	if err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: mimeType}); err != nil {
		return model.Attachment{}, fmt.Errorf("writing blob %s: %w", key, err)
	}

	return model.Attachment{
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(data)),
		URL:      s.baseURL + "/" + key,
	}, nil
}

func (s *BucketStore) Delete(ctx context.Context, att model.Attachment) error {
	key, ok := strings.CutPrefix(att.URL, s.baseURL+"/")
	if !ok || key == "" {
		return fmt.Errorf("attachment url %q is not served by this store", att.URL)
	}
	if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("deleting blob %s: %w", key, err)
	}
	return nil
}

// ErrNotFound is returned by Get for keys the bucket does not hold.
var ErrNotFound = errors.New("blob not found")

// Get reads the blob stored under key, as found after baseURL in an
// attachment URL.
func (s *BucketStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	// fileblob keeps metadata in ".attrs" sidecars next to each object.
	if key == "" || key != SanitizeName(key) || strings.HasSuffix(key, ".attrs") {
		return nil, "", ErrNotFound
	}
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("opening blob %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("reading blob %s: %w", key, err)
	}
	return data, r.ContentType(), nil
}

func (s *BucketStore) Close() error {
	return s.bucket.Close()
}

// SanitizeName strips directory components and anything outside a
// conservative character set.
func SanitizeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	clean := strings.Trim(unsafeChars.ReplaceAllString(base, "_"), "._")
	if clean == "" {
		return "file"
	}
	if len(clean) > 100 {
		clean = clean[len(clean)-100:]
	}
	return clean
}
