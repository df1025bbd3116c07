package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BridgeKind names a backend bridge endpoint, the last path segment of
// POST /rooms/{roomId}/{kind}.
type BridgeKind string

const (
	BridgeAIMessage       BridgeKind = "ai-message"
	BridgeAIStream        BridgeKind = "ai-stream"
	BridgeSettingsUpdate  BridgeKind = "settings-update"
	BridgeMemberEvent     BridgeKind = "member-event"
	BridgeUserMessage     BridgeKind = "user-message"
	BridgeMessagesCleared BridgeKind = "messages-cleared"
)

// BridgeKinds lists every kind the bridge accepts.
var BridgeKinds = []BridgeKind{
	BridgeAIMessage,
	BridgeAIStream,
	BridgeSettingsUpdate,
	BridgeMemberEvent,
	BridgeUserMessage,
	BridgeMessagesCleared,
}

// ParseBridgeKind maps a path segment to its kind.
func ParseBridgeKind(s string) (BridgeKind, bool) {
	for _, k := range BridgeKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Broadcast is the normalized outcome of a bridge event.
type Broadcast struct {
	Type    string
	UserID  string
	Payload any
	// Journal marks events that belong in the room history.
	Journal bool
	// ClearHistory drops the room history before the broadcast.
	ClearHistory bool
}

// BridgeEvent is a decoded backend request. The set of implementations is
// closed: AIMessageRequest, AIStreamRequest, SettingsUpdateRequest,
// MemberEventRequest, UserMessageRequest and MessagesClearedRequest.
type BridgeEvent interface {
	Kind() BridgeKind
	// Validate checks required fields and bounds. It does not check the room.
	Validate(maxLen int) error
	// TargetRoom is the room id the backend declared in the body.
	TargetRoom() string
	// Broadcast renders the normalized payload stamped with now.
	Broadcast(roomID string, now time.Time) Broadcast
	bridgeEvent()
}

// DecodeBridgeEvent decodes body into the variant for kind.
func DecodeBridgeEvent(kind BridgeKind, body []byte) (BridgeEvent, error) {
	var ev BridgeEvent
	switch kind {
	case BridgeAIMessage:
		ev = &AIMessageRequest{}
	case BridgeAIStream:
		ev = &AIStreamRequest{}
	case BridgeSettingsUpdate:
		ev = &SettingsUpdateRequest{}
	case BridgeMemberEvent:
		ev = &MemberEventRequest{}
	case BridgeUserMessage:
		ev = &UserMessageRequest{}
	case BridgeMessagesCleared:
		ev = &MessagesClearedRequest{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBridgeKind, kind)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	if err := json.Unmarshal(body, ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return ev, nil
}

func stampOr(ts *Millis, now time.Time) Millis {
	if ts != nil && *ts > 0 {
		return *ts
	}
	return MillisFrom(now)
}

// AIMessageRequest carries a complete AI reply.
type AIMessageRequest struct {
	Message    string  `json:"message"`
	ChatroomID ID      `json:"chatroomId"`
	Timestamp  *Millis `json:"timestamp,omitempty"`
}

func (r *AIMessageRequest) Kind() BridgeKind   { return BridgeAIMessage }
func (r *AIMessageRequest) TargetRoom() string { return string(r.ChatroomID) }
func (r *AIMessageRequest) bridgeEvent()       {}

func (r *AIMessageRequest) Validate(maxLen int) error {
	if r.ChatroomID == "" {
		return ErrRoomIDRequired
	}
	return ValidateText(r.Message, maxLen)
}

func (r *AIMessageRequest) Broadcast(roomID string, now time.Time) Broadcast {
	return Broadcast{
		Type:    EventAIMessage,
		UserID:  AIUserID,
		Journal: true,
		Payload: AIMessagePayload{
			Type:            EventAIMessage,
			Text:            r.Message,
			IsAIMessage:     true,
			UserID:          AIUserID,
			DisplayName:     AIDisplayName,
			SenderID:        AIUserID,
			RoomID:          roomID,
			Timestamp:       stampOr(r.Timestamp, now),
			ServerTimestamp: MillisFrom(now),
		},
	}
}

// AIStreamRequest carries one stream frame. Type is start, token or complete;
// the prefixed ai-stream-* forms are accepted as well.
type AIStreamRequest struct {
	Type       string  `json:"type"`
	ChatroomID ID      `json:"chatroomId"`
	StreamID   ID      `json:"streamId"`
	Token      *string `json:"token,omitempty"`
	MessageID  ID      `json:"messageId,omitempty"`
	Timestamp  *Millis `json:"timestamp,omitempty"`
}

func (r *AIStreamRequest) Kind() BridgeKind   { return BridgeAIStream }
func (r *AIStreamRequest) TargetRoom() string { return string(r.ChatroomID) }
func (r *AIStreamRequest) bridgeEvent()       {}

// Phase returns start, token or complete, or "" when Type is unrecognized.
func (r *AIStreamRequest) Phase() string {
	switch p := strings.TrimPrefix(r.Type, "ai-stream-"); p {
	case "start", "token", "complete":
		return p
	default:
		return ""
	}
}

func (r *AIStreamRequest) Validate(maxLen int) error {
	phase := r.Phase()
	if phase == "" {
		return ErrInvalidEventType
	}
	if r.ChatroomID == "" {
		return ErrRoomIDRequired
	}
	if r.StreamID == "" {
		return ErrStreamIDRequired
	}
	if phase == "token" {
		if r.Token == nil {
			return ErrStreamTokenRequired
		}
		if maxLen <= 0 {
			maxLen = DefaultMaxMessageLength
		}
		if len([]rune(*r.Token)) > maxLen {
			return ErrMessageTooLong
		}
	}
	return nil
}

func (r *AIStreamRequest) Broadcast(roomID string, now time.Time) Broadcast {
	typ := "ai-stream-" + r.Phase()
	payload := AIStreamPayload{
		Type:            typ,
		StreamID:        string(r.StreamID),
		MessageID:       string(r.MessageID),
		IsAIMessage:     true,
		UserID:          AIUserID,
		DisplayName:     AIDisplayName,
		RoomID:          roomID,
		Timestamp:       stampOr(r.Timestamp, now),
		ServerTimestamp: MillisFrom(now),
	}
	if typ == EventAIStreamToken {
		payload.Token = r.Token
	}
	return Broadcast{
		Type:    typ,
		UserID:  AIUserID,
		Payload: payload,
		Journal: typ == EventAIStreamComplete,
	}
}

// SettingsUpdateRequest announces new AI settings for the room.
type SettingsUpdateRequest struct {
	Settings *struct {
		AIMode    string `json:"aiMode"`
		AIEnabled *bool  `json:"aiEnabled"`
	} `json:"settings"`
	ChatroomID ID `json:"chatroomId"`
	UpdatedBy  *struct {
		ID          ID     `json:"id"`
		DisplayName string `json:"displayName"`
	} `json:"updatedBy"`
}

func (r *SettingsUpdateRequest) Kind() BridgeKind   { return BridgeSettingsUpdate }
func (r *SettingsUpdateRequest) TargetRoom() string { return string(r.ChatroomID) }
func (r *SettingsUpdateRequest) bridgeEvent()       {}

func (r *SettingsUpdateRequest) Validate(int) error {
	if r.ChatroomID == "" {
		return ErrRoomIDRequired
	}
	if r.Settings == nil || r.Settings.AIMode == "" || r.Settings.AIEnabled == nil {
		return ErrInvalidSettings
	}
	if r.UpdatedBy == nil || r.UpdatedBy.ID == "" || r.UpdatedBy.DisplayName == "" {
		return ErrInvalidActor
	}
	return nil
}

func (r *SettingsUpdateRequest) Broadcast(roomID string, now time.Time) Broadcast {
	return Broadcast{
		Type:    EventSettingsUpdate,
		UserID:  string(r.UpdatedBy.ID),
		Journal: true,
		Payload: SettingsUpdatePayload{
			Type: EventSettingsUpdate,
			Settings: RoomSettings{
				AIMode:    r.Settings.AIMode,
				AIEnabled: *r.Settings.AIEnabled,
			},
			UpdatedBy: SettingsActor{
				ID:          string(r.UpdatedBy.ID),
				DisplayName: r.UpdatedBy.DisplayName,
			},
			RoomID:    roomID,
			Timestamp: MillisFrom(now),
		},
	}
}

// MemberEventRequest announces a member joining or leaving.
type MemberEventRequest struct {
	Type       string `json:"type"`
	ChatroomID ID     `json:"chatroomId"`
	Member     *struct {
		ID   ID     `json:"id"`
		Name string `json:"name"`
		Role string `json:"role"`
	} `json:"member"`
}

func (r *MemberEventRequest) Kind() BridgeKind   { return BridgeMemberEvent }
func (r *MemberEventRequest) TargetRoom() string { return string(r.ChatroomID) }
func (r *MemberEventRequest) bridgeEvent()       {}

func (r *MemberEventRequest) Validate(int) error {
	if r.Type != EventMemberJoined && r.Type != EventMemberRemoved {
		return ErrInvalidEventType
	}
	if r.ChatroomID == "" {
		return ErrRoomIDRequired
	}
	if r.Member == nil || r.Member.ID == "" || r.Member.Name == "" || r.Member.Role == "" {
		return ErrInvalidMember
	}
	return nil
}

func (r *MemberEventRequest) Broadcast(roomID string, now time.Time) Broadcast {
	return Broadcast{
		Type:    r.Type,
		UserID:  string(r.Member.ID),
		Journal: true,
		Payload: MemberEventPayload{
			Type: r.Type,
			Member: Member{
				ID:   string(r.Member.ID),
				Name: r.Member.Name,
				Role: r.Member.Role,
			},
			RoomID:    roomID,
			Timestamp: MillisFrom(now),
		},
	}
}

// UserMessageRequest relays a chat message that reached the backend over HTTP.
type UserMessageRequest struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	RoomID      ID     `json:"roomId"`
	UserID      ID     `json:"userId"`
	DisplayName string `json:"displayName"`
	MessageID   ID     `json:"messageId,omitempty"`
}

func (r *UserMessageRequest) Kind() BridgeKind   { return BridgeUserMessage }
func (r *UserMessageRequest) TargetRoom() string { return string(r.RoomID) }
func (r *UserMessageRequest) bridgeEvent()       {}

func (r *UserMessageRequest) Validate(maxLen int) error {
	if r.Type != EventChatMessage {
		return ErrInvalidEventType
	}
	if r.RoomID == "" {
		return ErrRoomIDRequired
	}
	if r.UserID == "" || r.DisplayName == "" {
		return ErrInvalidSender
	}
	return ValidateText(r.Text, maxLen)
}

func (r *UserMessageRequest) Broadcast(roomID string, now time.Time) Broadcast {
	return Broadcast{
		Type:    EventChatMessage,
		UserID:  string(r.UserID),
		Journal: true,
		Payload: UserMessagePayload{
			Type:        EventChatMessage,
			Text:        r.Text,
			UserID:      string(r.UserID),
			DisplayName: r.DisplayName,
			SenderID:    BackendSenderID,
			RoomID:      roomID,
			MessageID:   string(r.MessageID),
			Timestamp:   MillisFrom(now),
		},
	}
}

// MessagesClearedRequest announces that an admin wiped the room history.
type MessagesClearedRequest struct {
	Type       string `json:"type"`
	ChatroomID ID     `json:"chatroomId"`
	ClearedBy  *struct {
		ID   ID     `json:"id"`
		Name string `json:"name"`
	} `json:"clearedBy"`
}

func (r *MessagesClearedRequest) Kind() BridgeKind   { return BridgeMessagesCleared }
func (r *MessagesClearedRequest) TargetRoom() string { return string(r.ChatroomID) }
func (r *MessagesClearedRequest) bridgeEvent()       {}

func (r *MessagesClearedRequest) Validate(int) error {
	if r.Type != EventMessagesCleared {
		return ErrInvalidEventType
	}
	if r.ChatroomID == "" {
		return ErrRoomIDRequired
	}
	if r.ClearedBy == nil || r.ClearedBy.ID == "" || r.ClearedBy.Name == "" {
		return ErrInvalidActor
	}
	return nil
}

func (r *MessagesClearedRequest) Broadcast(roomID string, now time.Time) Broadcast {
	return Broadcast{
		Type:         EventMessagesCleared,
		UserID:       string(r.ClearedBy.ID),
		ClearHistory: true,
		Payload: MessagesClearedPayload{
			Type: EventMessagesCleared,
			ClearedBy: Admin{
				ID:   string(r.ClearedBy.ID),
				Name: r.ClearedBy.Name,
			},
			RoomID:    roomID,
			Timestamp: MillisFrom(now),
		},
	}
}
