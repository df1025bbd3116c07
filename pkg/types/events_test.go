package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantErr   bool
		wantType  string
		wantToken string
	}{
		{"typing start", `{"type":"typing-start","token":"abc","displayName":"Alice"}`, false, "typing-start", "abc"},
		{"missing token", `{"type":"chat-message","text":"hi"}`, false, "chat-message", ""},
		{"numeric token treated as missing", `{"type":"chat-message","token":42}`, false, "chat-message", ""},
		{"not json", `hello there`, true, "", ""},
		{"json array", `[1,2,3]`, true, "", ""},
		{"json null", `null`, true, "", ""},
		{"json string", `"typing-start"`, true, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedEnvelope))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, env.Type)
			assert.Equal(t, tt.wantToken, env.Token)
		})
	}
}

func TestEnvelopeEvent(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"typing-start","token":"t","displayName":"Alice"}`))
	require.NoError(t, err)
	ev, err := env.Event()
	require.NoError(t, err)
	assert.Equal(t, TypingStartEvent{DisplayName: "Alice"}, ev)

	env, err = ParseEnvelope([]byte(`{"type":"typing-stop","token":"t"}`))
	require.NoError(t, err)
	ev, err = env.Event()
	require.NoError(t, err)
	assert.Equal(t, TypingStopEvent{}, ev)

	env, err = ParseEnvelope([]byte(`{"type":"dance","token":"t"}`))
	require.NoError(t, err)
	_, err = env.Event()
	assert.True(t, errors.Is(err, ErrUnknownEventType))
}

func TestChatMessageEventStripsToken(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"chat-message","token":"secret","text":"hello","clientId":"c-1"}`))
	require.NoError(t, err)

	ev, err := env.Event()
	require.NoError(t, err)
	msg, ok := ev.(ChatMessageEvent)
	require.True(t, ok)

	assert.Equal(t, "hello", msg.Text)
	assert.NotContains(t, msg.Fields, "token")
	assert.JSONEq(t, `"c-1"`, string(msg.Fields["clientId"]))
	assert.JSONEq(t, `"chat-message"`, string(msg.Fields["type"]))
}

func TestMillisUnmarshal(t *testing.T) {
	ref := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    Millis
		wantErr bool
	}{
		{"epoch millis", `1714564800000`, MillisFrom(ref), false},
		{"float millis", `1714564800000.0`, MillisFrom(ref), false},
		{"rfc3339", `"2024-05-01T12:00:00Z"`, MillisFrom(ref), false},
		{"rfc3339 with offset", `"2024-05-01T14:00:00+02:00"`, MillisFrom(ref), false},
		{"garbage string", `"yesterday"`, 0, true},
		{"boolean", `true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Millis
			err := json.Unmarshal([]byte(tt.input), &m)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m)
		})
	}
}

func TestIDUnmarshal(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"room-1","b":42}`), &v))
	assert.Equal(t, ID("room-1"), v.A)
	assert.Equal(t, ID("42"), v.B)

	assert.Error(t, json.Unmarshal([]byte(`{"a":{"nested":true}}`), &v))
}

func TestIsValidRoomID(t *testing.T) {
	valid := []string{"R1", "room_1", "team.general", "org:42-room"}
	for _, id := range valid {
		assert.True(t, IsValidRoomID(id), id)
	}

	long := make([]byte, 129)
	for i := range long {
		long[i] = 'a'
	}
	invalid := []string{"", "room 1", "room/1", "room?x", string(long)}
	for _, id := range invalid {
		assert.False(t, IsValidRoomID(id), id)
	}
}

func TestValidateText(t *testing.T) {
	assert.NoError(t, ValidateText("hi", 4000))
	assert.ErrorIs(t, ValidateText("", 4000), ErrMessageRequired)
	assert.ErrorIs(t, ValidateText("   ", 4000), ErrMessageRequired)
	assert.ErrorIs(t, ValidateText("hello", 4), ErrMessageTooLong)

	// multi-byte characters count once
	assert.NoError(t, ValidateText("héllo", 5))
}
