package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chat-relay/backend/internal/config"
	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

// fragmentBuffer bounds how many fragments may wait between the provider
// reader and the HTTP writer.
const fragmentBuffer = 16

// Service relays conversations to the configured chat model.
type Service struct {
	chatModel model.BaseChatModel
	cfg       config.AIConfig
}

// NewService wraps chatModel. A nil chatModel yields a service that reports
// itself as unconfigured and refuses to stream.
func NewService(chatModel model.BaseChatModel, cfg config.AIConfig) *Service {
	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
	}
}

// Configured reports whether a provider is available.
func (s *Service) Configured() bool {
	return s != nil && s.chatModel != nil
}

// Provider returns the configured provider backend name.
func (s *Service) Provider() string {
	if s == nil {
		return ""
	}
	return s.cfg.Provider
}

// ModelName returns the model identifier sent with every dispatch.
func (s *Service) ModelName() string {
	if s == nil {
		return ""
	}
	return s.cfg.Model
}

// MissingCredentialMessage is reported to callers when the provider is not
// configured.
func (s *Service) MissingCredentialMessage() string {
	var cfg config.AIConfig
	if s != nil {
		cfg = s.cfg
	}
	return fmt.Sprintf("%s is not set. Add it to your environment to enable AI responses.", cfg.CredentialEnv())
}

// Stream validates and translates turns, then opens a streaming generation.
// The returned stream must be closed by the caller; closing it or cancelling
// ctx stops reading from the provider.
func (s *Service) Stream(ctx context.Context, turns []chat.Turn) (*Stream, error) {
	if !s.Configured() {
		return nil, ErrServiceUnavailable
	}
	if err := Validate(turns); err != nil {
		return nil, err
	}

	messages := Translate(turns)

	timeout := s.cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	streamCtx, cancel := context.WithTimeout(ctx, timeout)

	reader, err := s.chatModel.Stream(streamCtx, messages, s.callOptions()...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	log.Debug().
		Str("component", "ai").
		Str("model", s.cfg.Model).
		Int("messages", len(messages)).
		Msg("provider stream opened")

	stream := &Stream{
		fragments: make(chan chat.Fragment, fragmentBuffer),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go stream.pump(streamCtx, reader)
	return stream, nil
}

func (s *Service) callOptions() []model.Option {
	opts := make([]model.Option, 0, 4)
	if s.cfg.Model != "" {
		opts = append(opts, model.WithModel(s.cfg.Model))
	}
	if s.cfg.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*s.cfg.Temperature)))
	}
	if s.cfg.TopP != nil {
		opts = append(opts, model.WithTopP(float32(*s.cfg.TopP)))
	}
	if s.cfg.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*s.cfg.MaxTokens))
	}
	return opts
}

// Stream delivers provider fragments in arrival order.
type Stream struct {
	fragments chan chat.Fragment
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	err error
}

// Fragments is closed when the provider finishes, fails or the stream is
// closed.
func (s *Stream) Fragments() <-chan chat.Fragment {
	return s.fragments
}

// Err returns the terminal error once Fragments is drained. A clean finish
// reports nil.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Close cancels the upstream request and waits for the producer to release
// the provider reader.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *Stream) pump(ctx context.Context, reader *schema.StreamReader[*schema.Message]) {
	defer close(s.done)
	defer close(s.fragments)
	defer reader.Close()

	index := 0
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.err = fmt.Errorf("%w: %w", ErrUpstream, ctxErr)
			} else {
				s.err = fmt.Errorf("%w: %w", ErrUpstream, err)
			}
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		select {
		case s.fragments <- chat.Fragment{Index: index, Text: chunk.Content}:
			index++
		case <-ctx.Done():
			s.err = fmt.Errorf("%w: %w", ErrUpstream, ctx.Err())
			return
		}
	}
}
