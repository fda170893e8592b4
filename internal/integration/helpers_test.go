package integration

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"whiteboard/internal/app"
	"whiteboard/internal/config"
)

// startRelay runs a full application on an ephemeral loopback port
func startRelay(t *testing.T, mutate func(*config.Config)) (*app.Application, string) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	if mutate != nil {
		mutate(cfg)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	if err := application.Serve(context.Background(), listener); err != nil {
		t.Fatalf("Failed to serve: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})

	return application, "http://" + application.Addr()
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialClient(t *testing.T, baseURL, query string) *client {
	t.Helper()
	url := strings.Replace(baseURL, "http://", "ws://", 1) + "/ws"
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(msgType string, data interface{}, ackID string) {
	c.t.Helper()
	msg := map[string]interface{}{"type": msgType, "data": data}
	if ackID != "" {
		msg["ackId"] = ackID
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.t.Fatalf("Failed to send %s: %v", msgType, err)
	}
}

// expect reads frames until one of msgType arrives, skipping others
func (c *client) expect(msgType string) frame {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			c.t.Fatalf("Failed to set deadline: %v", err)
		}
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.t.Fatalf("Waiting for %s: %v", msgType, err)
		}
		if f.Type == msgType {
			return f
		}
	}
}

// expectNone asserts no frame of msgType arrives within wait
func (c *client) expectNone(msgType string, wait time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(wait)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			c.t.Fatalf("Failed to set deadline: %v", err)
		}
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Type == msgType {
			c.t.Fatalf("Unexpected %s frame: %s", msgType, f.Data)
		}
	}
}

func decodeData(t *testing.T, f frame, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(f.Data, v); err != nil {
		t.Fatalf("Failed to decode %s payload %s: %v", f.Type, f.Data, err)
	}
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("Failed to decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}
