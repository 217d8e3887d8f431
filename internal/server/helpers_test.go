package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat/internal/auth"
	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/gatekeeper"
	"github.com/Tyrowin/gochat/internal/presence"
	"github.com/Tyrowin/gochat/internal/room"
	"github.com/Tyrowin/gochat/internal/store/memstore"
)

const (
	testSecret = "server-test-secret"
	testOrigin = "http://localhost:8080"
)

// testEnv is a fully wired server listening on an httptest server.
type testEnv struct {
	server   *httptest.Server
	hub      *Hub
	registry *presence.Registry
	router   *room.Router
	issuer   *auth.Issuer
}

type envOption func(*envOptions)

type envOptions struct {
	config Config
	store  chat.MessageStore
}

func withConfig(mutate func(*Config)) envOption {
	return func(o *envOptions) { mutate(&o.config) }
}

func withStore(store chat.MessageStore) envOption {
	return func(o *envOptions) { o.store = store }
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv wires registry, router, gatekeeper, hub and handler the way
// cmd/server does, over an in-memory store.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	o := envOptions{config: DefaultConfig(), store: memstore.New()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.config.Sanitize()
	logger := quietLogger()

	jwtConfig := auth.JWTConfig{SecretKey: testSecret}
	hub := NewHub(logger)
	registry := presence.NewRegistry(logger)
	router := room.NewRouter(o.store, registry, nil, logger)
	gk := gatekeeper.New(gatekeeper.Config{
		AutoJoinLounge:   cfg.AutoJoinLounge,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, auth.NewJWTVerifier(jwtConfig), registry, router, hub, logger)

	StartHub(hub, logger)
	ts := httptest.NewServer(SetupRoutes(NewHandler(cfg, hub, gk, router, logger)))

	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
	})

	return &testEnv{
		server:   ts,
		hub:      hub,
		registry: registry,
		router:   router,
		issuer:   auth.NewIssuer(jwtConfig, time.Hour),
	}
}

func (e *testEnv) token(t *testing.T, id, name string) string {
	t.Helper()
	token, err := e.issuer.Issue(chat.Identity{ID: id, Name: name})
	require.NoError(t, err)
	return token
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
}

// dial opens a WebSocket connection, passing token as a bearer credential
// when it is not empty.
func (e *testEnv) dial(token string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", testOrigin)
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.Dial(e.wsURL(), headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// connect dials as the given user and waits for the welcome event.
func (e *testEnv) connect(t *testing.T, id, name string) *websocket.Conn {
	t.Helper()

	conn, _, err := e.dial(e.token(t, id, name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	welcome := expectEvent(t, conn, TypeWelcome)
	require.NotNil(t, welcome.Identity)
	require.Equal(t, id, welcome.Identity.ID)
	return conn
}

// joinRoom joins a room and waits for its history.
func joinRoom(t *testing.T, conn *websocket.Conn, key string) Event {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Request{Type: TypeJoinRoom, Room: key}))
	return expectEvent(t, conn, TypeRoomHistory)
}

// expectEvent reads events until one of the wanted type arrives.
func expectEvent(t *testing.T, conn *websocket.Conn, eventType string) Event {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var ev Event
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %s", eventType)
		if ev.Type == eventType {
			return ev
		}
	}
}

// expectNoEvent asserts that no event of the type arrives within wait. The
// connection must not be read from afterwards.
func expectNoEvent(t *testing.T, conn *websocket.Conn, eventType string, wait time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	for {
		var ev Event
		err := conn.ReadJSON(&ev)
		if err != nil {
			var netErr interface{ Timeout() bool }
			require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected read error: %v", err)
			return
		}
		require.NotEqual(t, eventType, ev.Type, "unexpected %s event", eventType)
	}
}

// makeRequest creates and executes an HTTP request, returning the response.
func makeRequest(t *testing.T, method, url, token string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, http.NoBody)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// closeWebSocket gracefully closes a WebSocket connection.
func closeWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
