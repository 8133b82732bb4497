package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the discriminator of a stream event on the wire.
type EventType string

const (
	EventTypeChunk EventType = "chunk"
	EventTypeEnd   EventType = "end"
	EventTypeError EventType = "error"
)

var (
	// ErrMalformedEvent is returned for lines that are not a valid event object.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent is returned for objects whose type is not recognized.
	ErrUnknownEvent = errors.New("unknown event type")
)

// Event is one decoded stream event: ChunkEvent, EndEvent or ErrorEvent.
type Event interface {
	Type() EventType
	isEvent()
}

// ChunkEvent carries a fragment of the assistant reply.
type ChunkEvent struct {
	Content string
}

// EndEvent closes the stream. AIMessage is nil when the server sent no record.
type EndEvent struct {
	AIMessage *MessageRecord
}

// ErrorEvent reports a server-side failure.
type ErrorEvent struct {
	Message string
}

func (ChunkEvent) Type() EventType { return EventTypeChunk }
func (EndEvent) Type() EventType   { return EventTypeEnd }
func (ErrorEvent) Type() EventType { return EventTypeError }

func (ChunkEvent) isEvent() {}
func (EndEvent) isEvent()   {}
func (ErrorEvent) isEvent() {}

// ServerID returns the id the server assigned to the reply, if any.
func (e EndEvent) ServerID() string {
	if e.AIMessage == nil {
		return ""
	}
	return e.AIMessage.ID.String()
}

// WireEvent is the JSON shape of one stream line.
type WireEvent struct {
	Type      EventType      `json:"type"`
	Content   *string        `json:"content,omitempty"`
	AIMessage *MessageRecord `json:"ai_message,omitempty"`
	Error     *string        `json:"error,omitempty"`
}

// wireLine is the decoding side of WireEvent. The reply record is kept raw so
// that a field the client does not use cannot cost it the whole end event.
type wireLine struct {
	Type      EventType       `json:"type"`
	Content   *string         `json:"content"`
	AIMessage json.RawMessage `json:"ai_message"`
	Error     *string         `json:"error"`
}

// ParseEvent decodes a single stream line.
func ParseEvent(line []byte) (Event, error) {
	var w wireLine
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch w.Type {
	case EventTypeChunk:
		if w.Content == nil {
			return nil, fmt.Errorf("%w: chunk without content", ErrMalformedEvent)
		}
		return ChunkEvent{Content: *w.Content}, nil
	case EventTypeEnd:
		return EndEvent{AIMessage: parseRecord(w.AIMessage)}, nil
	case EventTypeError:
		var msg string
		if w.Error != nil {
			msg = *w.Error
		}
		return ErrorEvent{Message: msg}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, w.Type)
	}
}

// parseRecord decodes a reply record, settling for its id and content when
// another field does not decode. It returns nil when there is no usable record.
func parseRecord(raw json.RawMessage) *MessageRecord {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var rec MessageRecord
	if err := json.Unmarshal(raw, &rec); err == nil {
		return &rec
	}

	var partial struct {
		ID      ServerID `json:"id"`
		Content string   `json:"content"`
	}
	if err := json.Unmarshal(raw, &partial); err == nil {
		return &MessageRecord{ID: partial.ID, Content: partial.Content}
	}
	var idOnly struct {
		ID ServerID `json:"id"`
	}
	if err := json.Unmarshal(raw, &idOnly); err == nil && idOnly.ID != "" {
		return &MessageRecord{ID: idOnly.ID}
	}
	return nil
}

// EncodeEvent renders an event as one NDJSON line, newline included.
func EncodeEvent(ev Event) ([]byte, error) {
	w := WireEvent{Type: ev.Type()}
	switch e := ev.(type) {
	case ChunkEvent:
		w.Content = &e.Content
	case EndEvent:
		w.AIMessage = e.AIMessage
	case ErrorEvent:
		w.Error = &e.Message
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return append(data, '\n'), nil
}
