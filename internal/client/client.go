// Package client talks to the relay over HTTP on behalf of one user session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relaybox.app/relay/internal/http/dto"
	"relaybox.app/relay/internal/model"
)

const defaultTimeout = 10 * time.Second

// ErrUnavailable means the relay could not answer: it was unreachable, timed
// out, or reported its storage as down. Callers retry on their own schedule.
var ErrUnavailable = errors.New("relay unavailable")

// StatusError is a non-2xx answer other than 503.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay returned %d", e.StatusCode)
	}
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Message)
}

// Message is a chat message as the client sees it. IDs stay strings so
// provisional and confirmed ids share one namespace.
type Message struct {
	ID          string
	SessionKey  string
	Direction   model.Direction
	Body        string
	Attachments []model.Attachment
	CreatedAt   time.Time
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	// stream has no overall deadline; only the response headers are bounded.
	stream *http.Client
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid relay base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		stream: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: timeout,
		}},
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

// Fetch drains the session's mailbox. An empty result means nothing new;
// ErrUnavailable means the relay could not tell.
func (c *Client) Fetch(ctx context.Context, sessionKey string) ([]Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint("/api/v1/replies", url.Values{"sessionKey": {sessionKey}}), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	var resp dto.FetchResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, resp.Error)
	}

	out := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ts, _ := time.Parse(time.RFC3339Nano, m.Timestamp)
		out = append(out, Message{
			ID:          m.ID,
			SessionKey:  sessionKey,
			Direction:   model.DirectionInbound,
			Body:        m.Reply,
			Attachments: fromAttachmentResponses(m.Attachments),
			CreatedAt:   ts,
		})
	}
	return out, nil
}

type SendRequest struct {
	SessionKey string
	Body       string
	UserID     string
	Module     string
}

// Send posts an outbound message and returns the server-confirmed record.
func (c *Client) Send(ctx context.Context, in SendRequest) (Message, error) {
	body, err := json.Marshal(dto.SendMessageRequest{
		SessionKey: in.SessionKey,
		Body:       in.Body,
		UserID:     in.UserID,
		Module:     in.Module,
	})
	if err != nil {
		return Message{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/v1/messages", nil), bytes.NewReader(body))
	if err != nil {
		return Message{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp dto.SendMessageResponse
	if err := c.do(req, &resp); err != nil {
		return Message{}, err
	}
	return fromMessageResponse(resp.Message), nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrUnavailable, err)
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		return fmt.Errorf("%w: %s", ErrUnavailable, errorMessage(raw))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		return body.Error
	}
	return ""
}

func fromMessageResponse(m dto.MessageResponse) Message {
	ts, _ := time.Parse(time.RFC3339Nano, m.CreatedAt)
	return Message{
		ID:          m.ID,
		SessionKey:  m.SessionKey,
		Direction:   model.Direction(m.Direction),
		Body:        m.Body,
		Attachments: fromAttachmentResponses(m.Attachments),
		CreatedAt:   ts,
	}
}

func fromAttachmentResponses(in []dto.AttachmentResponse) []model.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.Attachment, len(in))
	for i, a := range in {
		out[i] = model.Attachment{Name: a.Name, MimeType: a.MimeType, Size: a.Size, URL: a.URL}
	}
	return out
}
