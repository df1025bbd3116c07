package integration

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatrelay/internal/app"
	"chatrelay/internal/auth"
	"chatrelay/internal/config"
)

// SharedSecret is the bridge secret every test relay is started with.
const SharedSecret = "integration-secret"

// Relay is a running application listening on a loopback port.
type Relay struct {
	App    *app.Application
	Config *config.Config
	key    *rsa.PrivateKey
}

// StartRelay builds and starts the full application against a temp database.
// modify may adjust the configuration before start.
func StartRelay(t *testing.T, modify func(*config.Config)) *Relay {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.Path = filepath.Join(t.TempDir(), "relay.db")
	cfg.Auth.SharedSecret = SharedSecret
	cfg.Auth.ClerkJWTKey = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	if modify != nil {
		modify(cfg)
	}

	application, err := app.NewApplication(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	return &Relay{App: application, Config: cfg, key: key}
}

// Token mints a session token for userID signed with the relay's key.
func (r *Relay) Token(t *testing.T, userID, name string) string {
	t.Helper()
	now := time.Now()
	claims := auth.ClerkClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(r.key)
	require.NoError(t, err)
	return token
}

// Client is one WebSocket participant.
type Client struct {
	t    *testing.T
	conn *websocket.Conn
}

// Dial joins roomID with an optional connect-time token.
func (r *Relay) Dial(t *testing.T, roomID, token string) *Client {
	t.Helper()
	url := "ws://" + r.App.Addr() + "/rooms/" + roomID
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &Client{t: t, conn: conn}
}

// Send writes one JSON frame.
func (c *Client) Send(frame map[string]any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(frame))
}

// ReadText returns the next frame as a string.
func (c *Client) ReadText() string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	return string(data)
}

// ReadEvent returns the next frame decoded as a JSON object.
func (c *Client) ReadEvent() map[string]any {
	c.t.Helper()
	var ev map[string]any
	text := c.ReadText()
	require.NoError(c.t, json.Unmarshal([]byte(text), &ev), text)
	return ev
}

// ExpectSilence fails if a frame arrives within d.
func (c *Client) ExpectSilence(d time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(d)))
	_, data, err := c.conn.ReadMessage()
	require.Error(c.t, err, "unexpected frame %s", data)
}

// ExpectClosed waits for the server to end the connection.
func (c *Client) ExpectClosed() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := c.conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			c.t.Fatalf("connection still open: %v", err)
		}
		return
	}
}

// Request performs an HTTP call against the relay and decodes a JSON body.
func (r *Relay) Request(t *testing.T, method, path, secret, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, "http://"+r.App.Addr()+path, strings.NewReader(body))
	require.NoError(t, err)
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

// Bridge posts a backend event with the correct shared secret.
func (r *Relay) Bridge(t *testing.T, roomID, kind, body string) (int, map[string]any) {
	t.Helper()
	return r.Request(t, http.MethodPost, "/rooms/"+roomID+"/"+kind, SharedSecret, body)
}
