package overlay

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/freestream/pkg/alert"
	"github.com/harunnryd/freestream/pkg/errorsx"
	"github.com/harunnryd/freestream/pkg/orchestrator"
)

type fakeController struct {
	mu        sync.Mutex
	completed []string
	errors    []string
	current   *orchestrator.Notification
	queue     int
}

func (c *fakeController) Complete(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, id)
	return true
}

func (c *fakeController) ReportError(id, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, id+":"+reason)
	return true
}

func (c *fakeController) Current() (orchestrator.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return orchestrator.Notification{}, false
	}
	return *c.current, true
}

func (c *fakeController) QueueSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue
}

func (c *fakeController) snapshot() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.completed...), append([]string(nil), c.errors...)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func writeMsg(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	b, _ := json.Marshal(outgoing{Type: typ, Data: data})
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitConnected(t *testing.T, h *Hub, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Connected() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected connected=%v", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifyWithoutOverlay(t *testing.T) {
	h := New(Config{})
	err := h.NotifyReady(context.Background(), orchestrator.Notification{ID: "a"})
	if !IsDisconnected(err) || !errorsx.HasReason(err, errorsx.ReasonOverlayDisconnected) {
		t.Fatalf("expected overlay_disconnected, got %v", err)
	}
}

func TestAlertReadyAndCompletion(t *testing.T) {
	ctrl := &fakeController{}
	h := New(Config{})
	h.Bind(ctrl)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	if env := readMsg(t, conn); env.Type != TypeConnected {
		t.Fatalf("expected connected, got %s", env.Type)
	}
	waitConnected(t, h, true)

	n := orchestrator.Notification{ID: "job-1", AudioID: "abc", Text: "hello", EventType: alert.EventBits, Platform: alert.PlatformTwitch}
	if err := h.NotifyReady(context.Background(), n); err != nil {
		t.Fatalf("notify: %v", err)
	}
	env := readMsg(t, conn)
	if env.Type != TypeAlertReady {
		t.Fatalf("expected alert_ready, got %s", env.Type)
	}
	var ar AlertReady
	if err := json.Unmarshal(env.Data, &ar); err != nil {
		t.Fatalf("decode alert_ready: %v", err)
	}
	if ar.ID != "job-1" || ar.AudioURL != "/api/audio/abc" || ar.EventType != alert.EventBits {
		t.Fatalf("unexpected payload %+v", ar)
	}

	writeMsg(t, conn, TypePlayComplete, PlayComplete{ID: "job-1"})
	writeMsg(t, conn, TypeError, ClientError{ID: "job-2", Error: "decode failed"})
	deadline := time.Now().Add(2 * time.Second)
	for {
		completed, errs := ctrl.snapshot()
		if len(completed) == 1 && len(errs) == 1 {
			if completed[0] != "job-1" || errs[0] != "job-2:decode failed" {
				t.Fatalf("unexpected signals %v %v", completed, errs)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("signals not delivered: %v %v", completed, errs)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := h.NotifySkip(context.Background(), "job-1"); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if env := readMsg(t, conn); env.Type != TypeSkip {
		t.Fatalf("expected skip, got %s", env.Type)
	}
}

func TestReconnectRedeliversInFlight(t *testing.T) {
	ctrl := &fakeController{
		current: &orchestrator.Notification{ID: "job-9", AudioID: "k9", Text: "hi"},
		queue:   3,
	}
	h := New(Config{AudioPath: "/audio"})
	h.Bind(ctrl)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	readMsg(t, conn)
	writeMsg(t, conn, TypeReady, struct{}{})

	env := readMsg(t, conn)
	if env.Type != TypeState {
		t.Fatalf("expected state, got %s", env.Type)
	}
	var st StateMessage
	_ = json.Unmarshal(env.Data, &st)
	if st.QueueSize != 3 || st.Current == nil || st.Current.ID != "job-9" {
		t.Fatalf("unexpected state %+v", st)
	}
	env = readMsg(t, conn)
	var ar AlertReady
	_ = json.Unmarshal(env.Data, &ar)
	if env.Type != TypeAlertReady || ar.ID != "job-9" || ar.AudioURL != "/audio/k9" {
		t.Fatalf("expected redelivered alert_ready, got %s %+v", env.Type, ar)
	}
}

func TestPublishStatePushesQueueSize(t *testing.T) {
	ctrl := &fakeController{queue: 2}
	h := New(Config{})
	h.Bind(ctrl)
	h.PublishState() // nobody connected yet

	srv := httptest.NewServer(h)
	defer srv.Close()
	conn := dial(t, srv)
	defer conn.Close()
	readMsg(t, conn)
	waitConnected(t, h, true)

	h.PublishState()
	env := readMsg(t, conn)
	if env.Type != TypeState {
		t.Fatalf("expected state, got %s", env.Type)
	}
	var st StateMessage
	_ = json.Unmarshal(env.Data, &st)
	if st.QueueSize != 2 || st.Current != nil {
		t.Fatalf("unexpected state %+v", st)
	}

	ctrl.mu.Lock()
	ctrl.queue = 0
	ctrl.current = &orchestrator.Notification{ID: "job-3", AudioID: "k3"}
	ctrl.mu.Unlock()
	h.PublishState()
	env = readMsg(t, conn)
	st = StateMessage{}
	_ = json.Unmarshal(env.Data, &st)
	if env.Type != TypeState || st.QueueSize != 0 || st.Current == nil || st.Current.ID != "job-3" {
		t.Fatalf("unexpected state %s %+v", env.Type, st)
	}
}

func TestNewConnectionReplacesOld(t *testing.T) {
	h := New(Config{})
	h.Bind(&fakeController{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	first := dial(t, srv)
	defer first.Close()
	readMsg(t, first)
	second := dial(t, srv)
	defer second.Close()
	readMsg(t, second)

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatalf("expected first connection to be closed")
	}
	if err := h.NotifySkip(context.Background(), "x"); err != nil {
		t.Fatalf("notify on replacement: %v", err)
	}
	if env := readMsg(t, second); env.Type != TypeSkip {
		t.Fatalf("expected skip on second connection, got %s", env.Type)
	}
	if !h.Connected() {
		t.Fatalf("replacement should remain connected")
	}

	second.Close()
	waitConnected(t, h, false)
}

func TestCheckOrigin(t *testing.T) {
	h := New(Config{AllowedOrigins: []string{"https://obs.local", "studio.example"}})
	cases := map[string]bool{
		"":                      true,
		"https://obs.local":     true,
		"https://obs.local/":    true,
		"http://obs.local":      false,
		"http://studio.example": true,
		"https://evil.example":  false,
	}
	for origin, want := range cases {
		r := httptest.NewRequest("GET", "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if got := h.checkOrigin(r); got != want {
			t.Fatalf("origin %q: expected %v, got %v", origin, want, got)
		}
	}
}

func TestCloseRejectsNewConnections(t *testing.T) {
	h := New(Config{})
	_ = h.Close()
	srv := httptest.NewServer(h)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatalf("expected dial to fail while draining")
	}
}
