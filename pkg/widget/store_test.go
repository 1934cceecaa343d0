package widget

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

type scriptedStream struct {
	ctx       context.Context
	fragments []string
	err       error
	hold      bool
	pos       int
	closed    bool
}

func (s *scriptedStream) Recv() (string, error) {
	if s.pos < len(s.fragments) {
		s.pos++
		return s.fragments[s.pos-1], nil
	}
	if s.err != nil {
		return "", s.err
	}
	if s.hold {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	return "", io.EOF
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type scriptedTransport struct {
	fragments []string
	streamErr error
	sendErr   error
	hold      bool

	mu      sync.Mutex
	sent    []chat.Conversation
	streams []*scriptedStream
	started chan struct{}
}

func (t *scriptedTransport) Send(ctx context.Context, conversation chat.Conversation) (FragmentStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, conversation)
	if t.started != nil {
		close(t.started)
		t.started = nil
	}
	if t.sendErr != nil {
		return nil, t.sendErr
	}
	stream := &scriptedStream{ctx: ctx, fragments: t.fragments, err: t.streamErr, hold: t.hold}
	t.streams = append(t.streams, stream)
	return stream, nil
}

func (t *scriptedTransport) calls() []chat.Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]chat.Conversation(nil), t.sent...)
}

func sequentialIDs() Option {
	n := 0
	return WithIDGenerator(func() string {
		n++
		return "turn-" + strconv.Itoa(n)
	})
}

func TestSubmitStreamsAssistantTurn(t *testing.T) {
	transport := &scriptedTransport{fragments: []string{"Hel", "lo", "!"}}
	store := NewStore(transport, sequentialIDs())

	require.NoError(t, store.Submit(context.Background(), "hi there"))

	snap := store.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.NoError(t, snap.Err)
	require.Len(t, snap.Conversation, 2)
	assert.Equal(t, chat.RoleUser, snap.Conversation[0].Role)
	assert.Equal(t, "turn-1", snap.Conversation[0].ID)
	assert.Equal(t, chat.RoleAssistant, snap.Conversation[1].Role)
	assert.Equal(t, "Hello!", Summarize(snap.Conversation[1]))

	calls := transport.calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 1, "transport receives the conversation as it stood at submit time")
	assert.True(t, transport.streams[0].closed)
}

func TestSubmitSendsFullHistory(t *testing.T) {
	transport := &scriptedTransport{fragments: []string{"ok"}}
	store := NewStore(transport)

	require.NoError(t, store.Submit(context.Background(), "first"))
	require.NoError(t, store.Submit(context.Background(), "second"))

	calls := transport.calls()
	require.Len(t, calls, 2)
	require.Len(t, calls[1], 3)
	assert.Equal(t, "first", calls[1][0].Parts[0].Text)
	assert.Equal(t, chat.RoleAssistant, calls[1][1].Role)
	assert.Equal(t, "second", calls[1][2].Parts[0].Text)
}

func TestSubmitWhitespaceIsNoop(t *testing.T) {
	transport := &scriptedTransport{fragments: []string{"unused"}}
	store := NewStore(transport)
	before := store.Snapshot()

	for _, text := range []string{"", "   ", "\n\t "} {
		require.NoError(t, store.Submit(context.Background(), text))
	}

	assert.Empty(t, transport.calls())
	assert.Equal(t, before, store.Snapshot())
}

func TestSubmitMidStreamFailureKeepsHistory(t *testing.T) {
	streamErr := &StreamError{Message: "upstream went away"}
	transport := &scriptedTransport{fragments: []string{"ok"}}
	store := NewStore(transport)
	require.NoError(t, store.Submit(context.Background(), "first"))

	transport.fragments = []string{"partial "}
	transport.streamErr = streamErr
	err := store.Submit(context.Background(), "second")

	require.ErrorIs(t, err, streamErr)
	snap := store.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "upstream went away", ErrorText(snap.Err))
	require.Len(t, snap.Conversation, 4)
	assert.Equal(t, "ok", Summarize(snap.Conversation[1]))
	assert.Equal(t, "partial", Summarize(snap.Conversation[3]))
}

func TestSubmitRequestFailure(t *testing.T) {
	transport := &scriptedTransport{sendErr: &APIError{StatusCode: 500, Message: "OPENAI_API_KEY is not set."}}
	store := NewStore(transport)

	err := store.Submit(context.Background(), "hello")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	snap := store.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	require.Len(t, snap.Conversation, 1)
	assert.Equal(t, "OPENAI_API_KEY is not set.", ErrorText(snap.Err))
}

func TestSubmitClearsPreviousError(t *testing.T) {
	transport := &scriptedTransport{sendErr: errors.New("boom")}
	store := NewStore(transport)
	require.Error(t, store.Submit(context.Background(), "one"))

	transport.sendErr = nil
	transport.fragments = []string{"fine"}
	require.NoError(t, store.Submit(context.Background(), "two"))

	snap := store.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.NoError(t, snap.Err)
}

func TestStopKeepsPartialContent(t *testing.T) {
	transport := &scriptedTransport{fragments: []string{"half"}, hold: true}
	store := NewStore(transport)
	updates, unsubscribe := store.Subscribe()
	defer unsubscribe()

	done := make(chan error, 1)
	go func() {
		done <- store.Submit(context.Background(), "tell me a story")
	}()

	waitFor(t, updates, func(s Snapshot) bool { return s.Status == StatusStreaming })
	assert.ErrorIs(t, store.Submit(context.Background(), "again"), ErrBusy)

	store.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("submit did not return after stop")
	}

	snap := store.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.NoError(t, snap.Err)
	require.Len(t, snap.Conversation, 2)
	assert.Equal(t, "half", Summarize(snap.Conversation[1]))
}

func TestResetClearsConversation(t *testing.T) {
	store := NewStore(&scriptedTransport{fragments: []string{"x"}})
	require.NoError(t, store.Submit(context.Background(), "hi"))

	store.Reset()

	snap := store.Snapshot()
	assert.Empty(t, snap.Conversation)
	assert.Equal(t, StatusIdle, snap.Status)
}

func TestSubscribeReceivesCurrentState(t *testing.T) {
	store := NewStore(&scriptedTransport{fragments: []string{"a", "b"}})
	updates, unsubscribe := store.Subscribe()

	initial := <-updates
	assert.Equal(t, StatusIdle, initial.Status)

	require.NoError(t, store.Submit(context.Background(), "go"))
	latest := <-updates
	assert.Equal(t, StatusIdle, latest.Status)
	assert.Len(t, latest.Conversation, 2)

	unsubscribe()
	unsubscribe()
	_, open := <-updates
	assert.False(t, open)
}

func waitFor(t *testing.T, updates <-chan Snapshot, cond func(Snapshot) bool) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case snap := <-updates:
			if cond(snap) {
				return
			}
		case <-timeout:
			t.Fatal("condition not reached")
		}
	}
}
