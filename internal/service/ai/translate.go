package ai

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

// MessagesRequiredMessage is returned when the conversation is absent or empty.
const MessagesRequiredMessage = "Messages array is required in the request body."

// Validate checks the conversation shape only: it must be non-empty and every
// turn needs a known role and at least one part. Content is never inspected.
func Validate(turns []chat.Turn) error {
	if len(turns) == 0 {
		return badRequest(MessagesRequiredMessage)
	}

	for i, turn := range turns {
		if turn.Role == "" {
			return badRequest(fmt.Sprintf("messages[%d].role is required", i))
		}
		if !turn.Role.Valid() {
			return badRequest(fmt.Sprintf("messages[%d].role %q is not supported", i, turn.Role))
		}
		if len(turn.Parts) == 0 {
			return badRequest(fmt.Sprintf("messages[%d] has no content", i))
		}
		for j, part := range turn.Parts {
			if part.Type == "" {
				return badRequest(fmt.Sprintf("messages[%d].parts[%d].type is required", i, j))
			}
		}
	}

	return nil
}

// Translate converts turns into provider messages, one per turn, in order.
func Translate(turns []chat.Turn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		content := flattenParts(turn.Parts)
		switch turn.Role {
		case chat.RoleSystem:
			messages = append(messages, schema.SystemMessage(content))
		case chat.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(content, nil))
		default:
			messages = append(messages, schema.UserMessage(content))
		}
	}
	return messages
}

func flattenParts(parts []chat.Part) string {
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if text := flattenPart(part); text != "" {
			segments = append(segments, text)
		}
	}
	return strings.Join(segments, "\n\n")
}

func flattenPart(part chat.Part) string {
	switch {
	case part.Type == chat.PartText, part.Type == chat.PartReasoning:
		return part.Text
	case part.IsToolCall():
		var b strings.Builder
		fmt.Fprintf(&b, "[tool call: %s]", part.Tool())
		if len(part.Input) > 0 {
			fmt.Fprintf(&b, "\ninput: %s", part.Input)
		}
		if len(part.Output) > 0 {
			fmt.Fprintf(&b, "\noutput: %s", part.Output)
		}
		return b.String()
	case part.Type == chat.PartFile:
		name := part.Filename
		if name == "" {
			name = part.URL
		}
		if name == "" {
			return ""
		}
		if part.MediaType != "" {
			return fmt.Sprintf("[file: %s (%s)]", name, part.MediaType)
		}
		return fmt.Sprintf("[file: %s]", name)
	default:
		return part.Text
	}
}
