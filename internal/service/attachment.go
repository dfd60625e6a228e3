package service

import (
	"context"
	"encoding/base64"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"relaybox.app/relay/internal/blob"
	"relaybox.app/relay/internal/metrics"
	"relaybox.app/relay/internal/model"
)

// InlineFile is a base64 encoded file pushed alongside a reply.
type InlineFile struct {
	Name     string
	MimeType string
	Data     string
	Size     int64
}

type SkippedFile struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

const (
	SkipMissingName      = "missing_name"
	SkipBlockedExtension = "blocked_extension"
	SkipMimeNotAllowed   = "mime_not_allowed"
	SkipTooLarge         = "too_large"
	SkipInvalidEncoding  = "invalid_encoding"
	SkipSizeMismatch     = "size_mismatch"
	SkipStorageError     = "storage_error"
	SkipStorageDisabled  = "storage_disabled"
	SkipTooManyFiles     = "too_many_files"
)

const (
	DefaultMaxFiles = 10
	// Room for the reply text and the JSON around the files.
	replyEnvelopeBytes = 1 << 20
)

type AttachmentPolicy struct {
	MaxBytes int64
	// Files past the first MaxFiles are skipped.
	MaxFiles          int
	BlockedExtensions []string
	// Entries are exact types ("application/pdf") or families ("image/*").
	AllowedMimeTypes []string
}

func DefaultAttachmentPolicy(maxBytes int64) AttachmentPolicy {
	return AttachmentPolicy{
		MaxBytes: maxBytes,
		MaxFiles: DefaultMaxFiles,
		BlockedExtensions: []string{
			".exe", ".dll", ".bat", ".cmd", ".com", ".msi", ".scr", ".ps1",
			".vbs", ".js", ".jar", ".sh", ".app", ".apk", ".cpl", ".hta",
		},
		AllowedMimeTypes: []string{
			"image/*",
			"audio/*",
			"video/*",
			"text/plain",
			"text/csv",
			"text/markdown",
			"application/pdf",
			"application/json",
			"application/zip",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.ms-excel",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		},
	}
}

// RequestLimit is the largest reply request worth reading: MaxFiles files at
// their base64 ceiling plus the reply itself. A single file far over MaxBytes
// still fits and is skipped as too large instead of failing the request.
func (p AttachmentPolicy) RequestLimit() int64 {
	files := int64(p.MaxFiles)
	if files <= 0 {
		files = DefaultMaxFiles
	}
	encoded := int64(base64.StdEncoding.EncodedLen(int(p.MaxBytes)))
	return files*encoded + replyEnvelopeBytes
}

// AttachmentProcessor validates each file on its own and persists the ones
// that pass. A bad file never fails the batch.
type AttachmentProcessor struct {
	policy  AttachmentPolicy
	blobs   blob.Store
	metrics *metrics.Metrics
}

func NewAttachmentProcessor(policy AttachmentPolicy, blobs blob.Store, m *metrics.Metrics) *AttachmentProcessor {
	return &AttachmentProcessor{policy: policy, blobs: blobs, metrics: m}
}

func (p *AttachmentProcessor) Process(ctx context.Context, files []InlineFile) ([]model.Attachment, []SkippedFile) {
	var (
		stored  []model.Attachment
		skipped []SkippedFile
	)
	for i, f := range files {
		var (
			att    model.Attachment
			reason string
		)
		if p.policy.MaxFiles > 0 && i >= p.policy.MaxFiles {
			reason = SkipTooManyFiles
		} else {
			att, reason = p.processOne(ctx, f)
		}
		if reason != "" {
			slog.WarnContext(ctx, "skipping attachment",
				"file_name", blob.SanitizeName(f.Name),
				"mime_type", f.MimeType,
				"declared_size", f.Size,
				"reason", reason)
			p.metrics.AttachmentSkipped(reason)
			skipped = append(skipped, SkippedFile{Name: f.Name, Reason: reason})
			continue
		}
		stored = append(stored, att)
	}
	return stored, skipped
}

func (p *AttachmentProcessor) processOne(ctx context.Context, f InlineFile) (model.Attachment, string) {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return model.Attachment{}, SkipMissingName
	}
	if p.blobs == nil {
		return model.Attachment{}, SkipStorageDisabled
	}
	if p.extensionBlocked(name) {
		return model.Attachment{}, SkipBlockedExtension
	}

	mimeType, ok := p.normalizeMime(f.MimeType)
	if !ok {
		return model.Attachment{}, SkipMimeNotAllowed
	}

	if f.Size > p.policy.MaxBytes {
		return model.Attachment{}, SkipTooLarge
	}
	encoded := stripDataURL(f.Data)
	if int64(base64.StdEncoding.DecodedLen(len(encoded))) > p.policy.MaxBytes+2 {
		return model.Attachment{}, SkipTooLarge
	}

	data, err := decodeBase64(encoded)
	if err != nil || len(data) == 0 {
		return model.Attachment{}, SkipInvalidEncoding
	}
	if int64(len(data)) > p.policy.MaxBytes {
		slog.DebugContext(ctx, "attachment over limit",
			"size", humanize.IBytes(uint64(len(data))),
			"limit", humanize.IBytes(uint64(p.policy.MaxBytes)))
		return model.Attachment{}, SkipTooLarge
	}
	if f.Size > 0 && f.Size != int64(len(data)) {
		return model.Attachment{}, SkipSizeMismatch
	}

	att, err := p.blobs.Put(ctx, name, mimeType, data)
	if err != nil {
		slog.WarnContext(ctx, "failed to persist attachment", "error", err)
		return model.Attachment{}, SkipStorageError
	}
	return att, ""
}

// Discard deletes blobs stored for a reply that was never delivered.
func (p *AttachmentProcessor) Discard(ctx context.Context, atts []model.Attachment) {
	for _, att := range atts {
		if err := p.blobs.Delete(ctx, att); err != nil {
			slog.WarnContext(ctx, "failed to discard orphaned attachment", "url", att.URL, "error", err)
		}
	}
}

// Every extension counts, so "invoice.pdf.exe" is caught by ".exe".
func (p *AttachmentProcessor) extensionBlocked(name string) bool {
	lower := strings.ToLower(filepath.Base(name))
	parts := strings.Split(lower, ".")
	for _, part := range parts[1:] {
		ext := "." + part
		for _, blocked := range p.policy.BlockedExtensions {
			if ext == blocked {
				return true
			}
		}
	}
	return false
}

func (p *AttachmentProcessor) normalizeMime(declared string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", false
	}
	for _, allowed := range p.policy.AllowedMimeTypes {
		if family, ok := strings.CutSuffix(allowed, "/*"); ok {
			if strings.HasPrefix(mediaType, family+"/") {
				return mediaType, true
			}
			continue
		}
		if mediaType == allowed {
			return mediaType, true
		}
	}
	return "", false
}

func stripDataURL(data string) string {
	data = strings.TrimSpace(data)
	if strings.HasPrefix(data, "data:") {
		if _, payload, ok := strings.Cut(data, ","); ok {
			return payload
		}
	}
	return data
}

func decodeBase64(s string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
