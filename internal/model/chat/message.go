package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role can be forwarded to a provider.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Part types understood by the relay and the widget. Tool invocations may also
// arrive as "tool-<name>".
const (
	PartText      = "text"
	PartReasoning = "reasoning"
	PartToolCall  = "tool-call"
	PartFile      = "file"
	PartData      = "data"
	PartStepStart = "step-start"

	toolPartPrefix = "tool-"
)

// Part is one typed piece of a turn's content.
type Part struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	URL        string          `json:"url,omitempty"`
	MediaType  string          `json:"mediaType,omitempty"`
	Filename   string          `json:"filename,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// TextPart builds a plain text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// IsToolCall reports whether the part describes a tool invocation.
func (p Part) IsToolCall() bool {
	return p.Type == PartToolCall || (strings.HasPrefix(p.Type, toolPartPrefix) && p.Type != toolPartPrefix)
}

// Tool returns the invoked tool name for tool-call parts.
func (p Part) Tool() string {
	if p.ToolName != "" {
		return p.ToolName
	}
	if p.Type != PartToolCall && strings.HasPrefix(p.Type, toolPartPrefix) {
		return strings.TrimPrefix(p.Type, toolPartPrefix)
	}
	return ""
}

// Turn is one message of a conversation.
type Turn struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewTurn creates a turn with a generated identifier.
func NewTurn(role Role, parts ...Part) Turn {
	return Turn{
		ID:    uuid.NewString(),
		Role:  role,
		Parts: append([]Part(nil), parts...),
	}
}

// UnmarshalJSON accepts both the parts form and the shorthand
// {"role": "user", "content": "hello"}, where content is either a string or an
// array of parts.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      string          `json:"id"`
		Role    Role            `json:"role"`
		Parts   []Part          `json:"parts"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	t.ID = raw.ID
	t.Role = raw.Role
	t.Parts = raw.Parts

	content := bytes.TrimSpace(raw.Content)
	if len(t.Parts) > 0 || len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return nil
	}

	switch content[0] {
	case '"':
		var text string
		if err := json.Unmarshal(content, &text); err != nil {
			return err
		}
		t.Parts = []Part{TextPart(text)}
	case '[':
		if err := json.Unmarshal(content, &t.Parts); err != nil {
			return err
		}
	default:
		return fmt.Errorf("content must be a string or an array of parts")
	}
	return nil
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	clone := t
	clone.Parts = make([]Part, len(t.Parts))
	for i, part := range t.Parts {
		clone.Parts[i] = part.clone()
	}
	return clone
}

func (p Part) clone() Part {
	p.Input = cloneRaw(p.Input)
	p.Output = cloneRaw(p.Output)
	p.Data = cloneRaw(p.Data)
	return p
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// RelayRequest is the body accepted by the relay endpoint.
type RelayRequest struct {
	Messages []Turn `json:"messages"`
}

// Fragment is an incremental piece of generated text.
type Fragment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}
