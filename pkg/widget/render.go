package widget

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

const (
	// EmptyTurnText is shown for a turn with nothing printable.
	EmptyTurnText = "[No text content]"
	// FallbackErrorText is shown when an error carries no message.
	FallbackErrorText = "Something went wrong. Check the API response."
)

// Summarize renders a turn as display text.
func Summarize(turn chat.Turn) string {
	rendered := make([]string, 0, len(turn.Parts))
	for _, part := range turn.Parts {
		rendered = append(rendered, SummarizePart(part))
	}

	text := strings.TrimSpace(strings.Join(rendered, "\n\n"))
	if text == "" {
		return EmptyTurnText
	}
	return text
}

// SummarizePart renders a single part.
func SummarizePart(part chat.Part) string {
	switch {
	case part.Type == chat.PartText, part.Type == chat.PartReasoning:
		return part.Text
	case part.IsToolCall():
		name := part.Tool()
		if name == "" {
			name = "unknown"
		}
		return "Tool call: " + name
	default:
		return fmt.Sprintf("[%s part]", part.Type)
	}
}

// ErrorText is the message shown beneath the conversation for err.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	var streamErr *StreamError
	if errors.As(err, &streamErr) && strings.TrimSpace(streamErr.Message) != "" {
		return streamErr.Message
	}

	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return FallbackErrorText
}
