package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/config"
)

func history(t *testing.T, relay *Relay, roomID string) []any {
	t.Helper()
	require.NoError(t, relay.App.Journal().Flush(context.Background()))
	status, body := relay.Request(t, http.MethodGet, "/api/rooms/"+roomID+"/messages", SharedSecret, "")
	require.Equal(t, http.StatusOK, status)
	messages, _ := body["messages"].([]any)
	return messages
}

// waitHistory polls until roomID has n journaled events. Socket chat is
// journaled after its fan-out, so a recipient can see it first.
func waitHistory(t *testing.T, relay *Relay, roomID string, n int) []any {
	t.Helper()
	var messages []any
	require.Eventually(t, func() bool {
		messages = history(t, relay, roomID)
		return len(messages) == n
	}, 2*time.Second, 20*time.Millisecond)
	return messages
}

func TestRelay_ChatBetweenAuthenticatedUsers(t *testing.T) {
	relay := StartRelay(t, nil)
	aliceToken := relay.Token(t, "user_alice", "Alice")
	bobToken := relay.Token(t, "user_bob", "Bob")

	alice := relay.Dial(t, "R1", aliceToken)
	assert.Equal(t, "Authenticated with Clerk", alice.ReadText())
	bob := relay.Dial(t, "R1", bobToken)
	assert.Equal(t, "Authenticated with Clerk", bob.ReadText())

	alice.Send(map[string]any{"type": "typing-start", "token": aliceToken, "displayName": "Alice"})
	ev := bob.ReadEvent()
	assert.Equal(t, "typing-start", ev["type"])
	assert.Equal(t, "user_alice", ev["userId"])

	alice.Send(map[string]any{"type": "chat-message", "token": aliceToken, "text": "hello", "clientId": "c-1"})

	// The implicit typing stop reaches everyone, the chat only the others.
	assert.Equal(t, "typing-stop", alice.ReadEvent()["type"])
	assert.Equal(t, "typing-stop", bob.ReadEvent()["type"])

	chat := bob.ReadEvent()
	assert.Equal(t, "chat-message", chat["type"])
	assert.Equal(t, "hello", chat["text"])
	assert.Equal(t, "user_alice", chat["userId"])
	assert.Equal(t, "Alice", chat["displayName"])
	assert.Equal(t, "R1", chat["roomId"])
	assert.Equal(t, "c-1", chat["clientId"])
	assert.NotContains(t, chat, "token")
	alice.ExpectSilence(150 * time.Millisecond)

	messages := waitHistory(t, relay, "R1", 1)
	assert.Equal(t, "chat-message", messages[0].(map[string]any)["type"])
}

func TestRelay_AIMessageBroadcastAndRateLimit(t *testing.T) {
	relay := StartRelay(t, nil)
	client := relay.Dial(t, "R1", "")
	assert.Equal(t, "Missing Clerk token. Connection will be limited.", client.ReadText())

	status, body := relay.Bridge(t, "R1", "ai-message", `{"message":"Hello from AI","chatroomId":"R1"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"success": true}, body)

	ev := client.ReadEvent()
	assert.Equal(t, "ai-message", ev["type"])
	assert.Equal(t, "Hello from AI", ev["text"])
	assert.Equal(t, "ai-assistant", ev["userId"])
	assert.Equal(t, "AI Assistant", ev["displayName"])
	assert.Equal(t, true, ev["isAiMessage"])

	for i := 1; i < 10; i++ {
		status, _ = relay.Bridge(t, "R1", "ai-message", fmt.Sprintf(`{"message":"m%d","chatroomId":"R1"}`, i))
		require.Equal(t, http.StatusOK, status)
	}
	status, body = relay.Bridge(t, "R1", "ai-message", `{"message":"one too many","chatroomId":"R1"}`)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "Rate limit exceeded", body["error"])

	// Other rooms keep their own window.
	status, _ = relay.Bridge(t, "R2", "ai-message", `{"message":"hi","chatroomId":"R2"}`)
	assert.Equal(t, http.StatusOK, status)
}

func TestRelay_BridgeRejections(t *testing.T) {
	relay := StartRelay(t, nil)
	client := relay.Dial(t, "R1", "")
	client.ReadText()

	status, body := relay.Request(t, http.MethodPost, "/rooms/R1/ai-message", "wrong", `{"message":"x","chatroomId":"R1"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthorized", body["error"])

	status, body = relay.Bridge(t, "R1", "settings-update", `{"settings":{"aiMode":"auto","aiEnabled":true},"chatroomId":"OTHER","updatedBy":{"id":"u1","displayName":"Ann"}}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "chatroomId does not match this room", body["error"])

	status, _ = relay.Request(t, http.MethodPost, "/rooms/R1/unknown-kind", SharedSecret, `{}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = relay.Request(t, http.MethodGet, "/rooms/R1/ai-message", SharedSecret, "")
	assert.Equal(t, http.StatusMethodNotAllowed, status)

	client.ExpectSilence(150 * time.Millisecond)
}

func TestRelay_MisconfiguredSecret(t *testing.T) {
	relay := StartRelay(t, func(c *config.Config) { c.Auth.SharedSecret = "" })

	status, body := relay.Request(t, http.MethodPost, "/rooms/R1/ai-message", "anything", `{"message":"x","chatroomId":"R1"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Server misconfigured", body["error"])
}

func TestRelay_InvalidTokenSocket(t *testing.T) {
	relay := StartRelay(t, nil)
	bob := relay.Dial(t, "R1", relay.Token(t, "user_bob", "Bob"))
	bob.ReadText()

	mallory := relay.Dial(t, "R1", "not-a-jwt")
	assert.Equal(t, "Invalid Clerk token. Connection will be limited.", mallory.ReadText())

	mallory.Send(map[string]any{"type": "chat-message", "token": "not-a-jwt", "text": "hi"})
	assert.Equal(t, map[string]any{"error": "Invalid Clerk token."}, mallory.ReadEvent())

	mallory.Send(map[string]any{"type": "chat-message", "text": "hi"})
	assert.Equal(t, map[string]any{"error": "Missing Clerk token in message."}, mallory.ReadEvent())

	bob.ExpectSilence(150 * time.Millisecond)
}

func TestRelay_UnauthenticatedConnectionUpgradesByMessage(t *testing.T) {
	relay := StartRelay(t, nil)
	carol := relay.Dial(t, "R1", "")
	carol.ReadText()
	bob := relay.Dial(t, "R1", relay.Token(t, "user_bob", "Bob"))
	bob.ReadText()

	carolToken := relay.Token(t, "user_carol", "Carol")
	carol.Send(map[string]any{"type": "chat-message", "token": carolToken, "text": "late but here"})

	chat := bob.ReadEvent()
	assert.Equal(t, "user_carol", chat["userId"])
	assert.Equal(t, "Carol", chat["displayName"])

	status, body := relay.Request(t, http.MethodGet, "/api/rooms/R1", SharedSecret, "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["connections"])
	assert.EqualValues(t, 2, body["authenticated"])
}

func TestRelay_TypingExpires(t *testing.T) {
	relay := StartRelay(t, func(c *config.Config) { c.Room.TypingTimeout = 300 * time.Millisecond })
	aliceToken := relay.Token(t, "user_alice", "Alice")
	alice := relay.Dial(t, "R1", aliceToken)
	alice.ReadText()
	bob := relay.Dial(t, "R1", relay.Token(t, "user_bob", "Bob"))
	bob.ReadText()

	start := time.Now()
	alice.Send(map[string]any{"type": "typing-start", "token": aliceToken, "displayName": "Alice"})
	assert.Equal(t, "typing-start", bob.ReadEvent()["type"])

	stop := bob.ReadEvent()
	assert.Equal(t, "typing-stop", stop["type"])
	assert.Equal(t, "user_alice", stop["userId"])
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	assert.Equal(t, "typing-stop", alice.ReadEvent()["type"])
}

func TestRelay_UnparsableInputIsIgnored(t *testing.T) {
	relay := StartRelay(t, nil)
	token := relay.Token(t, "user_alice", "Alice")
	alice := relay.Dial(t, "R1", token)
	alice.ReadText()
	bob := relay.Dial(t, "R1", "")
	bob.ReadText()

	require.NoError(t, alice.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	alice.ExpectSilence(150 * time.Millisecond)
	bob.ExpectSilence(50 * time.Millisecond)

	// The socket is still usable.
	alice.Send(map[string]any{"type": "chat-message", "token": token, "text": "still here"})
	assert.Equal(t, "still here", bob.ReadEvent()["text"])
}

func TestRelay_StreamAndHistoryLifecycle(t *testing.T) {
	relay := StartRelay(t, nil)
	client := relay.Dial(t, "R1", "")
	client.ReadText()

	frames := []string{
		`{"type":"start","chatroomId":"R1","streamId":"s1"}`,
		`{"type":"token","chatroomId":"R1","streamId":"s1","token":"Hel"}`,
		`{"type":"token","chatroomId":"R1","streamId":"s1","token":"lo"}`,
		`{"type":"complete","chatroomId":"R1","streamId":"s1","messageId":"m-9"}`,
	}
	want := []string{"ai-stream-start", "ai-stream-token", "ai-stream-token", "ai-stream-complete"}
	for i, frame := range frames {
		status, _ := relay.Bridge(t, "R1", "ai-stream", frame)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, want[i], client.ReadEvent()["type"])
	}

	status, _ := relay.Bridge(t, "R1", "member-event", `{"type":"member-joined","chatroomId":"R1","member":{"id":"u2","name":"Bo","role":"member"}}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "member-joined", client.ReadEvent()["type"])

	// Only the completed stream and the member event are journaled.
	messages := history(t, relay, "R1")
	require.Len(t, messages, 2)
	assert.Equal(t, "ai-stream-complete", messages[0].(map[string]any)["type"])
	assert.Equal(t, "member-joined", messages[1].(map[string]any)["type"])

	status, _ = relay.Bridge(t, "R1", "messages-cleared", `{"type":"messages-cleared","chatroomId":"R1","clearedBy":{"id":"a1","name":"Admin"}}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "messages-cleared", client.ReadEvent()["type"])
	assert.Empty(t, history(t, relay, "R1"))
}

func TestRelay_HealthAndRooms(t *testing.T) {
	relay := StartRelay(t, nil)
	client := relay.Dial(t, "R1", "")
	client.ReadText()

	status, body := relay.Request(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	rooms := body["rooms"].(map[string]any)
	assert.EqualValues(t, 1, rooms["rooms"])
	assert.EqualValues(t, 1, rooms["connections"])

	status, body = relay.Request(t, http.MethodGet, "/api/rooms", SharedSecret, "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["rooms"], 1)
}

func TestRelay_ShutdownClosesSockets(t *testing.T) {
	relay := StartRelay(t, nil)
	client := relay.Dial(t, "R1", "")
	client.ReadText()

	require.NoError(t, relay.App.Stop(context.Background()))
	client.ExpectClosed()
	require.NoError(t, relay.App.Stop(context.Background()))
}
