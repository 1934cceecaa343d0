// Package widget holds the client side of the chat relay: a conversation state
// container that any UI can render, and the transport that drives the relay
// endpoint.
package widget

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

// Status is the submission state shown next to the conversation.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

// ErrBusy is returned by Submit while another exchange is in flight.
var ErrBusy = errors.New("a message is already being answered")

// FragmentStream yields response fragments. Recv returns io.EOF once the relay
// signals completion.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}

// Transport sends the full conversation to the relay.
type Transport interface {
	Send(ctx context.Context, conversation chat.Conversation) (FragmentStream, error)
}

// Snapshot is an immutable copy of the store state.
type Snapshot struct {
	Conversation chat.Conversation
	Status       Status
	Err          error
}

// Option customizes a Store.
type Option func(*Store)

// WithIDGenerator overrides how turn identifiers are produced.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// Store keeps the conversation in memory and runs one exchange at a time.
type Store struct {
	transport Transport
	newID     func() string

	mu           sync.Mutex
	conversation chat.Conversation
	status       Status
	err          error
	cancel       context.CancelFunc
	subscribers  map[chan Snapshot]struct{}
}

// NewStore creates an idle store with an empty conversation.
func NewStore(transport Transport, opts ...Option) *Store {
	s := &Store{
		transport:   transport,
		newID:       uuid.NewString,
		status:      StatusIdle,
		subscribers: make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel that always holds the most recent state. Slow
// readers skip intermediate snapshots instead of blocking the store.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Submit appends a user turn and streams the assistant reply into the
// conversation. Blank text is ignored without touching state. Submit blocks
// until the exchange ends and returns the error that was recorded, if any.
func (s *Store) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	s.mu.Lock()
	if s.status == StatusSubmitted || s.status == StatusStreaming {
		s.mu.Unlock()
		return ErrBusy
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.conversation = append(s.conversation, chat.Turn{
		ID:    s.newID(),
		Role:  chat.RoleUser,
		Parts: []chat.Part{chat.TextPart(text)},
	})
	s.status = StatusSubmitted
	s.err = nil
	s.cancel = cancel
	history := s.conversation.Clone()
	s.publishLocked()
	s.mu.Unlock()

	stream, err := s.transport.Send(ctx, history)
	if err != nil {
		return s.fail(ctx, err)
	}
	defer stream.Close()

	assistant := -1
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.fail(ctx, err)
		}

		s.mu.Lock()
		if assistant < 0 {
			s.conversation = append(s.conversation, chat.Turn{
				ID:    s.newID(),
				Role:  chat.RoleAssistant,
				Parts: []chat.Part{chat.TextPart("")},
			})
			assistant = len(s.conversation) - 1
			s.status = StatusStreaming
		}
		appendFragment(&s.conversation[assistant], fragment)
		s.publishLocked()
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.status = StatusIdle
	s.cancel = nil
	s.publishLocked()
	s.mu.Unlock()
	return nil
}

// Stop cancels the exchange in flight. Content received so far is kept.
func (s *Store) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Reset clears the conversation and any recorded error.
func (s *Store) Reset() {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation = nil
	s.status = StatusIdle
	s.err = nil
	s.publishLocked()
}

// fail records err unless the exchange was stopped on purpose, in which case
// the store simply returns to idle.
func (s *Store) fail(ctx context.Context, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel = nil
	if errors.Is(ctx.Err(), context.Canceled) {
		s.status = StatusIdle
		s.publishLocked()
		return nil
	}

	s.status = StatusError
	s.err = err
	s.publishLocked()
	return err
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Conversation: s.conversation.Clone(),
		Status:       s.status,
		Err:          s.err,
	}
}

func (s *Store) publishLocked() {
	if len(s.subscribers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func appendFragment(turn *chat.Turn, fragment string) {
	last := len(turn.Parts) - 1
	if last < 0 || turn.Parts[last].Type != chat.PartText {
		turn.Parts = append(turn.Parts, chat.TextPart(fragment))
		return
	}
	turn.Parts[last].Text += fragment
}
