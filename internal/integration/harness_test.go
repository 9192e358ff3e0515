package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"schoolhub/internal/app"
	"schoolhub/internal/config"
	"schoolhub/pkg/types"
)

const (
	testSecret     = "integration-secret"
	receiveTimeout = 2 * time.Second
	quietPeriod    = 150 * time.Millisecond
)

// startServer runs a full application on an ephemeral port
func startServer(t *testing.T) *app.Application {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Auth.Secret = testSecret
	cfg.Database.Path = filepath.Join(t.TempDir(), "schoolhub.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.CORS.AllowedOrigins = []string{"http://school.test"}

	application, err := app.NewApplication(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if err := application.StartOn(context.Background(), ln); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Shutdown error: %v", err)
		}
	})
	return application
}

func issueToken(t *testing.T, application *app.Application, userID string, role types.Role) string {
	t.Helper()
	token, err := application.Authenticator().Issue(types.Identity{UserID: userID, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return token
}

// TestClient is a websocket client collecting every envelope it receives
type TestClient struct {
	t        *testing.T
	UserID   string
	conn     *websocket.Conn
	messages chan types.Envelope
	done     chan struct{}

	mu       sync.Mutex
	closeErr error
}

func wsURL(application *app.Application, token string) string {
	u := url.URL{Scheme: "ws", Host: application.Addr(), Path: "/ws"}
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String()
}

// connect dials as userID and waits until the server has activated the connection
func connect(t *testing.T, application *app.Application, userID string, role types.Role) *TestClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(application, issueToken(t, application, userID, role)), nil)
	if err != nil {
		t.Fatalf("Dial as %s failed: %v", userID, err)
	}

	c := &TestClient{
		t:        t,
		UserID:   userID,
		conn:     conn,
		messages: make(chan types.Envelope, 256),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(func() { _ = c.conn.Close() })

	c.Sync()
	return c
}

func (c *TestClient) readLoop() {
	defer close(c.done)
	for {
		var env types.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			c.closeErr = err
			c.mu.Unlock()
			return
		}
		c.messages <- env
	}
}

// Send writes one event envelope
func (c *TestClient) Send(event string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.conn.WriteJSON(types.Envelope{Event: event, Data: raw}); err != nil {
		c.t.Fatalf("%s: send %s failed: %v", c.UserID, event, err)
	}
}

// Sync round-trips get-unread-count; events are handled in order per
// connection, so everything sent before has been applied when it returns
func (c *TestClient) Sync() {
	c.t.Helper()
	c.Send(types.EventGetUnreadCount, map[string]any{})
	c.Expect(types.EventUnreadCount, nil)
}

// Expect waits for the next envelope named event, skipping others, and
// decodes its data into v when v is not nil
func (c *TestClient) Expect(event string, v any) {
	c.t.Helper()
	timeout := time.After(receiveTimeout)
	for {
		select {
		case env := <-c.messages:
			if env.Event != event {
				continue
			}
			if v != nil {
				if err := json.Unmarshal(env.Data, v); err != nil {
					c.t.Fatalf("%s: cannot decode %s: %v", c.UserID, event, err)
				}
			}
			return
		case <-c.done:
			c.t.Fatalf("%s: connection closed while waiting for %s: %v", c.UserID, event, c.err())
		case <-timeout:
			c.t.Fatalf("%s: timed out waiting for %s", c.UserID, event)
		}
	}
}

// ExpectNone fails if an envelope named event arrives within the quiet period
func (c *TestClient) ExpectNone(event string) {
	c.t.Helper()
	timeout := time.After(quietPeriod)
	for {
		select {
		case env := <-c.messages:
			if env.Event == event {
				c.t.Fatalf("%s: unexpected %s: %s", c.UserID, event, env.Data)
			}
		case <-c.done:
			return
		case <-timeout:
			return
		}
	}
}

// Collect returns the data of every envelope named event received within
// the quiet period
func (c *TestClient) Collect(event string) []json.RawMessage {
	var out []json.RawMessage
	timeout := time.After(quietPeriod)
	for {
		select {
		case env := <-c.messages:
			if env.Event == event {
				out = append(out, env.Data)
			}
		case <-c.done:
			return out
		case <-timeout:
			return out
		}
	}
}

// Drain discards everything received so far
func (c *TestClient) Drain() {
	for {
		select {
		case <-c.messages:
		default:
			return
		}
	}
}

// Close performs a normal websocket close handshake
func (c *TestClient) Close() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	select {
	case <-c.done:
	case <-time.After(receiveTimeout):
	}
	_ = c.conn.Close()
}

// WaitClosed waits for the server to close the socket and returns the close code
func (c *TestClient) WaitClosed() int {
	c.t.Helper()
	select {
	case <-c.done:
	case <-time.After(receiveTimeout):
		c.t.Fatalf("%s: server did not close the connection", c.UserID)
	}
	var closeErr *websocket.CloseError
	if errors.As(c.err(), &closeErr) {
		return closeErr.Code
	}
	return -1
}

func (c *TestClient) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(receiveTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
