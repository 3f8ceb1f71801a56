package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/freestream/pkg/errorsx"
	"github.com/harunnryd/freestream/pkg/logging"
	"github.com/harunnryd/freestream/pkg/metrics"
	"github.com/harunnryd/freestream/pkg/orchestrator"
)

var (
	// ErrDisconnected is returned when no overlay is connected.
	ErrDisconnected = errorsx.New(errorsx.ReasonOverlayDisconnected, "overlay: not connected")
	errSendBuffer   = errorsx.New(errorsx.ReasonOverlaySend, "overlay: send buffer full")
)

// Controller is the orchestrator side the overlay talks back to.
type Controller interface {
	Complete(id string) bool
	ReportError(id, reason string) bool
	Current() (orchestrator.Notification, bool)
	QueueSize() int
}

type Config struct {
	// AudioPath prefixes audio IDs to build audio_url.
	AudioPath      string
	AllowedOrigins []string
	AllowAnyOrigin bool
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	MaxMessageSize int64
}

func (c Config) withDefaults() Config {
	if c.AudioPath == "" {
		c.AudioPath = "/api/audio/"
	}
	if !strings.HasSuffix(c.AudioPath, "/") {
		c.AudioPath += "/"
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 120 * time.Second
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = c.PingInterval * 2
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 << 10
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

type Option func(*Hub)

func WithLogger(log *slog.Logger) Option {
	return func(h *Hub) { h.log = logging.NewComponentLogger(log, "overlay") }
}

func WithObserver(obs metrics.Observer) Option {
	return func(h *Hub) { h.obs = obs }
}

// Hub serves the single overlay WebSocket. A new connection replaces the
// previous one.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	log      *slog.Logger
	obs      metrics.Observer

	mu   sync.Mutex
	sess *session
	ctrl Controller

	draining atomic.Bool
}

func New(cfg Config, opts ...Option) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log: logging.NewComponentLogger(nil, "overlay"),
		obs: metrics.NoopObserver{},
	}
	h.upgrader.CheckOrigin = h.checkOrigin
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Bind attaches the controller that receives overlay signals.
func (h *Hub) Bind(c Controller) {
	h.mu.Lock()
	h.ctrl = c
	h.mu.Unlock()
}

func (h *Hub) controller() Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctrl
}

// Connected reports whether an overlay is attached.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess != nil
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("overlay_upgrade_failed", "error", err)
		return
	}
	sess := newSession(conn, h.cfg)
	if old := h.attach(sess); old != nil {
		h.log.Info("overlay_replaced")
		old.close()
	}
	go sess.writeLoop()
	h.log.Info("overlay_connected", "remote", r.RemoteAddr)
	metrics.Record(h.obs, metrics.EventOverlayConnected, 1, nil)
	_ = sess.send(TypeConnected, Connected{Status: "ok"})

	h.readLoop(sess)

	if h.detach(sess) {
		h.log.Info("overlay_disconnected", "remote", r.RemoteAddr)
		metrics.Record(h.obs, metrics.EventOverlayDisconnected, 1, nil)
	}
	sess.close()
}

func (h *Hub) readLoop(sess *session) {
	conn := sess.conn
	conn.SetReadLimit(h.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("overlay_read_error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			h.log.Debug("overlay_bad_message", "error", err)
			continue
		}
		h.handle(sess, env)
	}
}

func (h *Hub) handle(sess *session, env Envelope) {
	ctrl := h.controller()
	switch env.Type {
	case TypePlayComplete:
		var m PlayComplete
		if err := json.Unmarshal(env.Data, &m); err != nil || m.ID == "" {
			h.log.Debug("overlay_bad_message", "type", env.Type)
			return
		}
		if ctrl != nil && !ctrl.Complete(m.ID) {
			h.log.Debug("stale_completion", "job_id", m.ID)
		}
	case TypeError:
		var m ClientError
		if err := json.Unmarshal(env.Data, &m); err != nil || m.ID == "" {
			h.log.Debug("overlay_bad_message", "type", env.Type)
			return
		}
		reason := m.Reason
		if reason == "" {
			reason = m.Error
		}
		h.log.Warn("overlay_client_error", "job_id", m.ID, "reason", logging.Clip(reason, 200))
		if ctrl != nil {
			ctrl.ReportError(m.ID, reason)
		}
	case TypeReady, TypeRequestState:
		h.sendState(sess, ctrl)
	default:
		h.log.Debug("overlay_unknown_message", "type", env.Type)
	}
}

// PublishState pushes the queue size and in-flight alert to the overlay, if
// one is connected. It is meant to run on every queue change.
func (h *Hub) PublishState() {
	sess := h.session()
	if sess == nil {
		return
	}
	_ = sess.send(TypeState, h.state(h.controller()))
}

func (h *Hub) state(ctrl Controller) StateMessage {
	st := StateMessage{}
	if ctrl == nil {
		return st
	}
	st.QueueSize = ctrl.QueueSize()
	if n, ok := ctrl.Current(); ok {
		ar := h.alertReady(n)
		st.Current = &ar
	}
	return st
}

// sendState answers ready/request_state. An alert still in flight is
// delivered again so a reconnecting overlay can play it.
func (h *Hub) sendState(sess *session, ctrl Controller) {
	st := h.state(ctrl)
	_ = sess.send(TypeState, st)
	if st.Current != nil {
		h.log.Info("alert_redelivered", "job_id", st.Current.ID)
		_ = sess.send(TypeAlertReady, st.Current)
	}
}

// NotifyReady sends alert_ready to the overlay. It fails with
// ErrDisconnected when nobody is connected.
func (h *Hub) NotifyReady(_ context.Context, n orchestrator.Notification) error {
	sess := h.session()
	if sess == nil {
		return ErrDisconnected
	}
	return sess.send(TypeAlertReady, h.alertReady(n))
}

// NotifySkip tells the overlay to stop the alert with id.
func (h *Hub) NotifySkip(_ context.Context, id string) error {
	sess := h.session()
	if sess == nil {
		return ErrDisconnected
	}
	return sess.send(TypeSkip, Skip{ID: id})
}

// Close rejects new connections and closes the current one.
func (h *Hub) Close() error {
	h.draining.Store(true)
	h.mu.Lock()
	sess := h.sess
	h.sess = nil
	h.mu.Unlock()
	if sess != nil {
		sess.close()
	}
	return nil
}

func (h *Hub) session() *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess
}

func (h *Hub) attach(sess *session) *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.sess
	h.sess = sess
	return old
}

// detach clears sess if it is still the current session.
func (h *Hub) detach(sess *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess != sess {
		return false
	}
	h.sess = nil
	return true
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range h.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

// session owns one connection. Only writeLoop writes to conn.
type session struct {
	conn   *websocket.Conn
	cfg    Config
	sendCh chan []byte
	done   chan struct{}
	closed atomic.Bool
}

func newSession(conn *websocket.Conn, cfg Config) *session {
	return &session{
		conn:   conn,
		cfg:    cfg,
		sendCh: make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (s *session) send(typ string, data any) error {
	b, err := json.Marshal(outgoing{Type: typ, Data: data})
	if err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrDisconnected
	}
	select {
	case s.sendCh <- b:
		return nil
	case <-s.done:
		return ErrDisconnected
	default:
		return errSendBuffer
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg := <-s.sendCh:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
		_ = s.conn.Close()
	}
}

// IsDisconnected reports whether err means no overlay was reachable.
func IsDisconnected(err error) bool {
	return errors.Is(err, ErrDisconnected) || errorsx.HasReason(err, errorsx.ReasonOverlayDisconnected)
}
