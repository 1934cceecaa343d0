// Package aitest provides a scripted chat model for relay tests.
package aitest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Call records one Stream or Generate invocation.
type Call struct {
	Messages []*schema.Message
	Model    string
}

// FakeChatModel replays Chunks for every Stream call. When FailAfter is set,
// the stream reports StreamErr after that many chunks. OpenErr fails the call
// before any stream is returned.
type FakeChatModel struct {
	Chunks    []string
	StreamErr error
	FailAfter int
	OpenErr   error
	// Hold keeps the stream open after the scripted chunks until ctx ends.
	Hold bool

	mu       sync.Mutex
	calls    []Call
	released chan struct{}
}

var _ model.BaseChatModel = (*FakeChatModel)(nil)

// Generate concatenates the scripted chunks.
func (f *FakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.record(input, opts)
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	if f.StreamErr != nil {
		return nil, f.StreamErr
	}
	return schema.AssistantMessage(strings.Join(f.Chunks, ""), nil), nil
}

// Stream emits the scripted chunks from a producer goroutine that stops as
// soon as ctx is cancelled or the reader is closed.
func (f *FakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.record(input, opts)
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}

	reader, writer := schema.Pipe[*schema.Message](0)
	released := f.releaseChan()

	go func() {
		defer close(released)
		defer writer.Close()

		for i, chunk := range f.Chunks {
			if f.StreamErr != nil && f.FailAfter == i {
				writer.Send(nil, f.StreamErr)
				return
			}
			if ctx.Err() != nil {
				writer.Send(nil, ctx.Err())
				return
			}
			if closed := writer.Send(schema.AssistantMessage(chunk, nil), nil); closed {
				return
			}
		}
		if f.StreamErr != nil && f.FailAfter >= len(f.Chunks) {
			writer.Send(nil, f.StreamErr)
			return
		}
		if f.Hold {
			<-ctx.Done()
			writer.Send(nil, ctx.Err())
		}
	}()

	return reader, nil
}

// Calls returns the recorded invocations.
func (f *FakeChatModel) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Released is closed once the most recent stream producer has exited.
func (f *FakeChatModel) Released() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released == nil {
		return nil
	}
	return f.released
}

func (f *FakeChatModel) releaseChan() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = make(chan struct{})
	return f.released
}

func (f *FakeChatModel) record(input []*schema.Message, opts []model.Option) {
	options := model.GetCommonOptions(nil, opts...)
	call := Call{Messages: input}
	if options != nil && options.Model != nil {
		call.Model = *options.Model
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

// ErrProvider is a convenience error for failing scripts.
var ErrProvider = errors.New("provider exploded")
