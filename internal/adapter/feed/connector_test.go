package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/V4T54L/killwatch/internal/domain"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestConnector_SubscribesForwardsAndReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscriptions := make(chan string, 10)
	release := make(chan struct{})
	var connections atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := connections.Add(1)

		_, sub, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscriptions <- string(sub)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"conn":%d,"seq":1}`, n)))
		if n == 1 {
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01})
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"conn":1,"seq":2}`))
			return
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	received := make(chan domain.RawFeedMessage, 10)
	c := NewConnector(domain.ProviderZKillboard, ConnectorOptions{
		URL:           "ws" + strings.TrimPrefix(srv.URL, "http"),
		Subscribe:     []byte(`{"action":"sub","channel":"killstream"}`),
		CheckInterval: 10 * time.Millisecond,
	}, func(m domain.RawFeedMessage) { received <- m }, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	var payloads []string
	for len(payloads) < 3 {
		select {
		case m := <-received:
			if m.Provider != domain.ProviderZKillboard {
				t.Errorf("unexpected provider %q", m.Provider)
			}
			payloads = append(payloads, string(m.Payload))
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for messages, got %v", payloads)
		}
	}
	want := []string{`{"conn":1,"seq":1}`, `{"conn":1,"seq":2}`, `{"conn":2,"seq":1}`}
	for i := range want {
		if payloads[i] != want[i] {
			t.Errorf("message %d = %s, want %s", i, payloads[i], want[i])
		}
	}

	for i := 0; i < 2; i++ {
		if sub := <-subscriptions; sub != `{"action":"sub","channel":"killstream"}` {
			t.Errorf("unexpected subscribe message %s", sub)
		}
	}

	waitFor(t, time.Second, func() bool { return c.Status().Connected })
	status := c.Status()
	if status.Messages != 3 {
		t.Errorf("Messages = %d, want 3", status.Messages)
	}
	if status.Reconnects < 1 {
		t.Errorf("Reconnects = %d, want at least 1", status.Reconnects)
	}
	if status.Session == "" {
		t.Error("expected a session id while connected")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("connector did not stop after cancel")
	}
	if c.Status().Connected {
		t.Error("expected disconnected after stop")
	}
	if got := connections.Load(); got != 2 {
		t.Errorf("connections = %d, want 2", got)
	}
}

func TestConnector_UnreachableProvider(t *testing.T) {
	c := NewConnector(domain.ProviderEveKill, ConnectorOptions{
		URL:           "ws://127.0.0.1:1/ws",
		Subscribe:     []byte(`{"type":"subscribe","topic":"all"}`),
		CheckInterval: 5 * time.Millisecond,
	}, func(domain.RawFeedMessage) { t.Error("handler must not be called") }, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c.Start(ctx)

	status := c.Status()
	if status.Connected {
		t.Error("expected disconnected")
	}
	if status.Reconnects == 0 {
		t.Error("expected repeated dial attempts")
	}
}
