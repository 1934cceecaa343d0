package widget

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name  string
		parts []chat.Part
		want  string
	}{
		{"text", []chat.Part{chat.TextPart("hello")}, "hello"},
		{"empty", nil, EmptyTurnText},
		{"blank text", []chat.Part{chat.TextPart("  \n")}, EmptyTurnText},
		{"reasoning", []chat.Part{{Type: chat.PartReasoning, Text: "thinking it over"}}, "thinking it over"},
		{"tool call", []chat.Part{{Type: chat.PartToolCall, ToolName: "search"}}, "Tool call: search"},
		{"typed tool", []chat.Part{{Type: "tool-weather"}}, "Tool call: weather"},
		{"file", []chat.Part{{Type: chat.PartFile, URL: "https://example.com/a.png"}}, "[file part]"},
		{
			"mixed",
			[]chat.Part{chat.TextPart("look"), {Type: chat.PartData}, chat.TextPart("done ")},
			"look\n\n[data part]\n\ndone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summarize(chat.Turn{Role: chat.RoleAssistant, Parts: tt.parts}))
		})
	}
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "", ErrorText(nil))
	assert.Equal(t, "bad input", ErrorText(&APIError{StatusCode: 400, Message: "bad input"}))
	assert.Equal(t, "relay responded with status 502", ErrorText(&APIError{StatusCode: 502}))
	assert.Equal(t, "gone", ErrorText(fmt.Errorf("wrapped: %w", &StreamError{Message: "gone"})))
	assert.Equal(t, FallbackErrorText, ErrorText(errors.New(" ")))
}
