package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wireMessage is any server envelope, decoded loosely.
type wireMessage map[string]interface{}

func (m wireMessage) Type() string {
	s, _ := m["type"].(string)
	return s
}

// testClient is a WebSocket client that collects every server message on
// a background goroutine.
type testClient struct {
	conn     *websocket.Conn
	messages chan wireMessage
	done     chan struct{}

	mu       sync.Mutex
	closeErr *websocket.CloseError
}

func dialClient(t *testing.T, baseURL string, sessionID int64, token string) *testClient {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("invalid server URL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = fmt.Sprintf("/ws/session/%d", sessionID)
	u.RawQuery = url.Values{"token": {token}}.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	tc := &testClient{
		conn:     conn,
		messages: make(chan wireMessage, 100),
		done:     make(chan struct{}),
	}
	go tc.readLoop()
	t.Cleanup(tc.Close)
	return tc
}

func (tc *testClient) readLoop() {
	defer close(tc.done)
	for {
		_, data, err := tc.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				tc.mu.Lock()
				tc.closeErr = ce
				tc.mu.Unlock()
			}
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		tc.messages <- msg
	}
}

func (tc *testClient) send(t *testing.T, v interface{}) {
	t.Helper()
	if err := tc.conn.WriteJSON(v); err != nil {
		t.Fatalf("send failed: %v", err)
	}
}

// expect waits for the next message of msgType, skipping others.
func (tc *testClient) expect(t *testing.T, msgType string) wireMessage {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case msg := <-tc.messages:
			if msg.Type() == msgType {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", msgType)
			return nil
		}
	}
}

// waitClosed waits for the server to close the connection and returns
// the close frame, if one was received.
func (tc *testClient) waitClosed(t *testing.T) *websocket.CloseError {
	t.Helper()
	select {
	case <-tc.done:
	case <-time.After(3 * time.Second):
		t.Fatal("connection was not closed")
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.closeErr
}

func (tc *testClient) Close() {
	_ = tc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = tc.conn.Close()
}
