package types

import (
	"encoding/json"
	"fmt"
)

// InboundEvent is a socket event after token extraction. The set of
// implementations is closed: TypingStartEvent, TypingStopEvent and
// ChatMessageEvent.
type InboundEvent interface {
	EventType() string
	inboundEvent()
}

// TypingStartEvent reports that the sender began composing.
type TypingStartEvent struct {
	DisplayName string
}

// TypingStopEvent reports that the sender stopped composing.
type TypingStopEvent struct {
	DisplayName string
}

// ChatMessageEvent is a user chat message. Fields holds every envelope field
// except the token so the broadcast can echo client extensions verbatim.
type ChatMessageEvent struct {
	Text        string
	DisplayName string
	Fields      map[string]json.RawMessage
}

func (TypingStartEvent) EventType() string { return EventTypingStart }
func (TypingStopEvent) EventType() string  { return EventTypingStop }
func (ChatMessageEvent) EventType() string { return EventChatMessage }

func (TypingStartEvent) inboundEvent() {}
func (TypingStopEvent) inboundEvent()  {}
func (ChatMessageEvent) inboundEvent() {}

// Envelope is a parsed socket frame. Type and Token are extracted eagerly;
// the remaining fields stay raw until Event is called.
type Envelope struct {
	Type   string
	Token  string
	fields map[string]json.RawMessage
}

// ParseEnvelope decodes a socket frame. Anything that is not a JSON object
// returns ErrMalformedEnvelope. A token that is not a string is treated as absent.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if fields == nil {
		return nil, ErrMalformedEnvelope
	}

	env := &Envelope{fields: fields}
	env.Type = stringField(fields, "type")
	env.Token = stringField(fields, "token")
	return env, nil
}

// Event resolves the envelope into its variant.
func (e *Envelope) Event() (InboundEvent, error) {
	displayName := stringField(e.fields, "displayName")

	switch e.Type {
	case EventTypingStart:
		return TypingStartEvent{DisplayName: displayName}, nil
	case EventTypingStop:
		return TypingStopEvent{DisplayName: displayName}, nil
	case EventChatMessage:
		fields := make(map[string]json.RawMessage, len(e.fields))
		for k, v := range e.fields {
			if k == "token" {
				continue
			}
			fields[k] = v
		}
		return ChatMessageEvent{
			Text:        stringField(e.fields, "text"),
			DisplayName: displayName,
			Fields:      fields,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
