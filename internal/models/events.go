package models

// EventType is the closed tag set carried on the live client channel.
// Each envelope is {type, data}.
type EventType string

const (
	EventMessageNew  EventType = "message.new"
	EventStreamStart EventType = "stream.start"
	EventStreamToken EventType = "stream.token"
	EventStreamEnd   EventType = "stream.end"
	EventJobUpdate   EventType = "job.update"
	EventPing        EventType = "ping"
)

// Envelope is the tagged record delivered over a live client channel and
// published on the Event Bus.
type Envelope struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// StreamStartPayload is Data for an EventStreamStart envelope.
type StreamStartPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// StreamTokenPayload is Data for an EventStreamToken envelope.
type StreamTokenPayload struct {
	Token          string `json:"token"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// StreamEndPayload is Data for an EventStreamEnd envelope.
type StreamEndPayload struct {
	MessageID string  `json:"message_id"`
	Blocks    []Block `json:"blocks"`
}

// JobUpdatePayload is Data for an EventJobUpdate envelope.
type JobUpdatePayload struct {
	JobID    string         `json:"job_id"`
	Status   JobStatus      `json:"status"`
	Progress int            `json:"progress"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// MessageNewPayload is Data for an EventMessageNew envelope.
type MessageNewPayload struct {
	Message Message `json:"message"`
}

// Terminal reports whether the envelope carries a terminal event that the
// Event Bus must never drop under backpressure: stream.end
// always, job.update only once its Status has reached a terminal state.
func (e Envelope) Terminal() bool {
	switch e.Type {
	case EventStreamEnd:
		return true
	case EventJobUpdate:
		if p, ok := e.Data.(JobUpdatePayload); ok {
			return p.Status.Terminal()
		}
	}
	return false
}
