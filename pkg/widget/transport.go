package widget

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

const maxErrorBodyBytes = 64 << 10

// APIError is a non-200 relay response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay responded with status %d", e.StatusCode)
	}
	return e.Message
}

// StreamError is an error event received after the stream started.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}

// HTTPTransport posts conversations to the relay endpoint and decodes the SSE
// response.
type HTTPTransport struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPTransport returns a transport for endpoint using http.DefaultClient.
func NewHTTPTransport(endpoint string) *HTTPTransport {
	return &HTTPTransport{Endpoint: endpoint, Client: http.DefaultClient}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, conversation chat.Conversation) (FragmentStream, error) {
	body, err := json.Marshal(chat.RelayRequest{Messages: conversation})
	if err != nil {
		return nil, fmt.Errorf("encode relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send relay request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	return &sseStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return apiErr
	}

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil {
		apiErr.Message = payload.Error
	}
	return apiErr
}

// sseStream reads "data:" lines until the [DONE] marker.
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			if errors.Is(err, io.EOF) {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}

		data, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)

		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var event chat.StreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return "", fmt.Errorf("decode stream event: %w", err)
		}

		switch event.Type {
		case chat.EventTextDelta:
			return event.Delta, nil
		case chat.EventError:
			msg := event.ErrorText
			if strings.TrimSpace(msg) == "" {
				msg = FallbackErrorText
			}
			return "", &StreamError{Message: msg}
		}
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
