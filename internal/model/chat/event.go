package chat

// Stream event types written by the relay, in the order they appear on a
// successful exchange. EventError replaces the tail after a mid-stream failure.
const (
	EventStart     = "start"
	EventTextStart = "text-start"
	EventTextDelta = "text-delta"
	EventTextEnd   = "text-end"
	EventFinish    = "finish"
	EventError     = "error"
)

// StreamEvent is one relay output frame, sent as SSE data or a websocket
// message.
type StreamEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId,omitempty"`
	ID        string `json:"id,omitempty"`
	Delta     string `json:"delta,omitempty"`
	ErrorText string `json:"errorText,omitempty"`
}
