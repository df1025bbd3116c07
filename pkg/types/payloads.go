package types

// TypingPayload is broadcast for typing-start and typing-stop.
type TypingPayload struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Timestamp   Millis `json:"timestamp"`
	RoomID      string `json:"roomId"`
}

// AIMessagePayload is a complete AI reply.
type AIMessagePayload struct {
	Type            string `json:"type"`
	Text            string `json:"text"`
	IsAIMessage     bool   `json:"isAiMessage"`
	UserID          string `json:"userId"`
	DisplayName     string `json:"displayName"`
	SenderID        string `json:"senderId"`
	RoomID          string `json:"roomId"`
	Timestamp       Millis `json:"timestamp"`
	ServerTimestamp Millis `json:"serverTimestamp"`
}

// AIStreamPayload is one frame of an incremental AI reply, correlated by StreamID.
type AIStreamPayload struct {
	Type            string  `json:"type"`
	StreamID        string  `json:"streamId"`
	Token           *string `json:"token,omitempty"`
	MessageID       string  `json:"messageId,omitempty"`
	IsAIMessage     bool    `json:"isAiMessage"`
	UserID          string  `json:"userId"`
	DisplayName     string  `json:"displayName"`
	RoomID          string  `json:"roomId"`
	Timestamp       Millis  `json:"timestamp"`
	ServerTimestamp Millis  `json:"serverTimestamp"`
}

// RoomSettings is the AI configuration of a room.
type RoomSettings struct {
	AIMode    string `json:"aiMode"`
	AIEnabled bool   `json:"aiEnabled"`
}

// SettingsActor identifies who changed the settings.
type SettingsActor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type SettingsUpdatePayload struct {
	Type      string        `json:"type"`
	Settings  RoomSettings  `json:"settings"`
	UpdatedBy SettingsActor `json:"updatedBy"`
	RoomID    string        `json:"roomId"`
	Timestamp Millis        `json:"timestamp"`
}

// Member is a room participant as seen by the backend.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type MemberEventPayload struct {
	Type      string `json:"type"`
	Member    Member `json:"member"`
	RoomID    string `json:"roomId"`
	Timestamp Millis `json:"timestamp"`
}

// UserMessagePayload is a chat message relayed from the backend.
type UserMessagePayload struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	SenderID    string `json:"senderId"`
	RoomID      string `json:"roomId"`
	MessageID   string `json:"messageId,omitempty"`
	Timestamp   Millis `json:"timestamp"`
}

// Admin identifies who cleared the room history.
type Admin struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type MessagesClearedPayload struct {
	Type      string `json:"type"`
	ClearedBy Admin  `json:"clearedBy"`
	RoomID    string `json:"roomId"`
	Timestamp Millis `json:"timestamp"`
}

// ErrorReply is sent to a single socket or returned as an HTTP error body.
type ErrorReply struct {
	Error string `json:"error"`
}

// SuccessReply is the body of an accepted bridge request.
type SuccessReply struct {
	Success bool `json:"success"`
}
