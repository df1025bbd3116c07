package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Socket and broadcast event type names shared by clients and the backend.
const (
	EventTypingStart      = "typing-start"
	EventTypingStop       = "typing-stop"
	EventChatMessage      = "chat-message"
	EventAIMessage        = "ai-message"
	EventAIStreamStart    = "ai-stream-start"
	EventAIStreamToken    = "ai-stream-token"
	EventAIStreamComplete = "ai-stream-complete"
	EventSettingsUpdate   = "settings-update"
	EventMemberJoined     = "member-joined"
	EventMemberRemoved    = "member-removed"
	EventMessagesCleared  = "messages-cleared"
)

// Synthetic identity stamped on every AI-originated broadcast.
const (
	AIUserID      = "ai-assistant"
	AIDisplayName = "AI Assistant"
)

// BackendSenderID marks broadcasts relayed from the HTTP bridge rather than a socket.
const BackendSenderID = "backend"

// AnonymousDisplayName is used when neither the token nor the envelope carries a name.
const AnonymousDisplayName = "Anonymous"

// Identity is the verified subject behind a token.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// Millis is a point in time serialized as Unix epoch milliseconds.
// Decoding also accepts RFC 3339 strings since backends send both.
type Millis int64

// MillisFrom converts t to epoch milliseconds.
func MillisFrom(t time.Time) Millis {
	return Millis(t.UnixMilli())
}

// Time returns m as a time.Time.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m))
}

func (m *Millis) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}

	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("%w: timestamp %q", ErrInvalidTimestamp, s)
		}
		*m = MillisFrom(t)
		return nil
	}

	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*m = Millis(v)
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %s", ErrInvalidTimestamp, raw)
	}
	*m = Millis(int64(v))
	return nil
}

// ID is an identifier that is always carried as a string. Some backends send
// numeric ids; they are normalized here so the rest of the system only sees strings.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: id %s", ErrInvalidPayload, raw)
	}
	*id = ID(n.String())
	return nil
}

// JournalEntry is one broadcast event persisted to the room history.
type JournalEntry struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"roomId"`
	Type      string          `json:"type"`
	UserID    string          `json:"userId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}
