// Package reconcile keeps the visible message list for one client session.
//
// A single goroutine owns the list and the set of seen ids. Sends, deliveries
// and reads are queued to it, so a reply arriving while a send is in flight
// can never interleave with the send's replacement of its provisional entry.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"relaybox.app/relay/internal/client"
	"relaybox.app/relay/internal/model"
)

const provisionalPrefix = "tmp-"

var (
	ErrClosed    = errors.New("reconcile engine closed")
	ErrEmptyBody = errors.New("message body is empty")
)

type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateReceived  State = "received"
)

type Entry struct {
	client.Message
	State State
}

// IsProvisional reports whether the id was generated locally and has not been
// replaced by a server id yet.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

type Sender interface {
	Send(ctx context.Context, req client.SendRequest) (client.Message, error)
}

type EngineConfig struct {
	SessionKey string
	UserID     string
	Module     string
}

type Engine struct {
	cfg    EngineConfig
	sender Sender

	cmds    chan func(*view)
	updates chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// view is only touched from the engine goroutine.
type view struct {
	entries []Entry
	seen    map[string]struct{}
	banner  string
	changed bool
}

func NewEngine(cfg EngineConfig, sender Sender) *Engine {
	e := &Engine{
		cfg:     cfg,
		sender:  sender,
		cmds:    make(chan func(*view)),
		updates: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *Engine) loop() {
	defer close(e.stopped)
	v := &view{seen: make(map[string]struct{})}
	for {
		select {
		case <-e.stop:
			return
		case fn := <-e.cmds:
			fn(v)
			if v.changed {
				v.changed = false
				select {
				case e.updates <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (e *Engine) do(fn func(*view)) error {
	done := make(chan struct{})
	select {
	case e.cmds <- func(v *view) { fn(v); close(done) }:
	case <-e.stopped:
		return ErrClosed
	}
	<-done
	return nil
}

// Close stops the engine goroutine. Calls made afterwards return ErrClosed.
func (e *Engine) Close() {
	e.once.Do(func() { close(e.stop) })
	<-e.stopped
}

// Updates signals after every change to the visible list or banner. Signals
// coalesce; read Snapshot to see the current state.
func (e *Engine) Updates() <-chan struct{} {
	return e.updates
}

// Send shows the message immediately as pending, then sends it. On success
// the pending entry is replaced in place by the confirmed record. On failure
// it is removed and the error is returned.
func (e *Engine) Send(ctx context.Context, body string) (client.Message, error) {
	if strings.TrimSpace(body) == "" {
		return client.Message{}, ErrEmptyBody
	}

	provisional := Entry{
		Message: client.Message{
			ID:         provisionalPrefix + uuid.NewString(),
			SessionKey: e.cfg.SessionKey,
			Direction:  model.DirectionOutbound,
			Body:       body,
		},
		State: StatePending,
	}
	if err := e.do(func(v *view) {
		v.entries = append(v.entries, provisional)
		v.changed = true
	}); err != nil {
		return client.Message{}, err
	}

	confirmed, err := e.sender.Send(ctx, client.SendRequest{
		SessionKey: e.cfg.SessionKey,
		Body:       body,
		UserID:     e.cfg.UserID,
		Module:     e.cfg.Module,
	})
	if err != nil {
		_ = e.do(func(v *view) { v.remove(provisional.ID) })
		return client.Message{}, err
	}

	if err := e.do(func(v *view) { v.confirm(provisional.ID, confirmed) }); err != nil {
		return client.Message{}, err
	}
	return confirmed, nil
}

// Deliver appends a message from the delivery channel unless its id was
// already seen. It reports whether the message became visible.
func (e *Engine) Deliver(msg client.Message) (bool, error) {
	var added bool
	err := e.do(func(v *view) {
		if msg.ID == "" {
			return
		}
		if _, ok := v.seen[msg.ID]; ok {
			slog.Debug("dropping already seen message", "message_id", msg.ID)
			return
		}
		v.seen[msg.ID] = struct{}{}
		v.entries = append(v.entries, Entry{Message: msg, State: StateReceived})
		v.changed = true
		added = true
	})
	return added, err
}

// SetBanner sets the non-fatal status line shown above the list. An empty
// string clears it.
func (e *Engine) SetBanner(text string) error {
	return e.do(func(v *view) {
		if v.banner != text {
			v.banner = text
			v.changed = true
		}
	})
}

type Snapshot struct {
	Entries []Entry
	Banner  string
}

func (e *Engine) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := e.do(func(v *view) {
		snap.Entries = make([]Entry, len(v.entries))
		copy(snap.Entries, v.entries)
		snap.Banner = v.banner
	})
	return snap, err
}

func (v *view) index(id string) int {
	for i := range v.entries {
		if v.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (v *view) remove(id string) {
	if i := v.index(id); i >= 0 {
		v.entries = append(v.entries[:i], v.entries[i+1:]...)
		v.changed = true
	}
}

// confirm swaps the pending entry for the server record. If an echo of the
// same message was delivered before the send returned, that copy already
// holds the id, so the pending entry is dropped instead.
func (v *view) confirm(provisionalID string, msg client.Message) {
	_, echoed := v.seen[msg.ID]
	v.seen[msg.ID] = struct{}{}

	i := v.index(provisionalID)
	if i < 0 {
		return
	}
	if echoed {
		v.remove(provisionalID)
		return
	}
	v.entries[i] = Entry{Message: msg, State: StateConfirmed}
	v.changed = true
}
