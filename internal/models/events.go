package models

// Canonical outbound stream event types. A stream is zero or more content
// events followed by exactly one done or error event, never neither, never
// both.
const (
	EventContent = "content"
	EventDone    = "done"
	EventError   = "error"
)

// StreamEvent is the gateway's own server-push message shape, independent of
// any upstream wire format.
type StreamEvent struct {
	Type         string       `json:"type"`
	Content      string       `json:"content,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
	Error        *StreamError `json:"error,omitempty"`
}

type StreamError struct {
	Status  int    `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

func ContentEvent(delta string) StreamEvent {
	return StreamEvent{Type: EventContent, Content: delta}
}

func DoneEvent(finishReason string, usage Usage) StreamEvent {
	u := usage
	return StreamEvent{Type: EventDone, FinishReason: finishReason, Usage: &u}
}

func ErrorEvent(status int, code, typ, message string) StreamEvent {
	return StreamEvent{Type: EventError, Error: &StreamError{
		Status:  status,
		Code:    code,
		Type:    typ,
		Message: message,
	}}
}
