package reconcile_test

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"relaybox.app/relay/internal/client"
	"relaybox.app/relay/internal/model"
)

// fakeSender confirms sends with sequential ids. When gate is set, each send
// blocks until a value is received on it.
type fakeSender struct {
	mu     sync.Mutex
	nextID atomic.Int64
	gate   chan struct{}
	err    error
	sent   []client.SendRequest
}

func (f *fakeSender) Send(ctx context.Context, req client.SendRequest) (client.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return client.Message{}, ctx.Err()
		}
	}
	if err != nil {
		return client.Message{}, err
	}
	id := f.nextID.Add(1)
	return client.Message{
		ID:         strconv.FormatInt(1000+id, 10),
		SessionKey: req.SessionKey,
		Direction:  model.DirectionOutbound,
		Body:       req.Body,
	}, nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	batches [][]client.Message
	errs    []error
	calls   int
}

func (f *fakeFetcher) Fetch(ctx context.Context, sessionKey string) ([]client.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type streamCall struct {
	lastID string
}

// fakeStreamer plays one scripted session per call.
type fakeStreamer struct {
	mu       sync.Mutex
	sessions []streamSession
	calls    []streamCall
}

type streamSession struct {
	msgs []client.Message
	err  error
}

func (f *fakeStreamer) Stream(ctx context.Context, sessionKey, lastID string, fn func(client.Message) error) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, streamCall{lastID: lastID})
	var s streamSession
	idle := len(f.sessions) == 0
	if !idle {
		s = f.sessions[0]
		f.sessions = f.sessions[1:]
	}
	f.mu.Unlock()

	if idle {
		<-ctx.Done()
		return lastID, ctx.Err()
	}
	for _, m := range s.msgs {
		if err := fn(m); err != nil {
			return lastID, err
		}
		lastID = m.ID
	}
	return lastID, s.err
}

func (f *fakeStreamer) Calls() []streamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]streamCall(nil), f.calls...)
}

func inbound(id, body string) client.Message {
	return client.Message{ID: id, Direction: model.DirectionInbound, Body: body}
}
