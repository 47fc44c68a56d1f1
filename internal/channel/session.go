// Package channel owns the realtime websocket connection to the relay. It
// decodes inbound frames into events, tracks the online roster, and fans
// events out to subscribers in arrival order.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"zchat_go/internal/event"
	"zchat_go/pkg/logger"
)

const (
	DefaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
	listenerBuffer      = 256
)

var (
	ErrDisconnected     = errors.New("channel: not connected")
	ErrAlreadyConnected = errors.New("channel: already connected")
)

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithPingInterval sets the keepalive interval. The read deadline is twice
// the interval.
func WithPingInterval(d time.Duration) Option {
	return func(s *Session) { s.pingInterval = d }
}

// WithClock sets the clock driving the keepalive ticker.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session is one authenticated connection to the relay.
type Session struct {
	url          string
	token        string
	dialer       *websocket.Dialer
	pingInterval time.Duration
	clock        clock.Clock
	log          *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
	online  map[string]struct{}

	writeMu sync.Mutex

	listenerMu sync.RWMutex
	listeners  map[chan event.Inbound]struct{}
}

// New creates a disconnected Session for the relay websocket URL.
func New(url, token string, opts ...Option) *Session {
	s := &Session{
		url:          url,
		token:        token,
		dialer:       websocket.DefaultDialer,
		pingInterval: DefaultPingInterval,
		clock:        clock.New(),
		online:       make(map[string]struct{}),
		listeners:    make(map[chan event.Inbound]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrDiscard(s.log).With("component", "channel")
	return s
}

// Connect dials the relay and starts the read and keepalive loops.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return ErrAlreadyConnected
	}

	header := http.Header{}
	dialer := *s.dialer
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
		dialer.Subprotocols = []string{"bearer", s.token}
	}
	conn, resp, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", s.url, resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	pongWait := 2 * s.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	s.conn = conn
	s.closing = false
	s.online = make(map[string]struct{})

	go s.readLoop(conn, done)
	go s.pingLoop(conn, done)
	s.log.Info("connected", "url", s.url)
	return nil
}

// Disconnect closes the connection. The read loop then publishes
// event.Disconnected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	if conn != nil {
		s.closing = true
	}
	s.mu.Unlock()
	if conn == nil {
		return ErrDisconnected
	}

	s.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.writeMu.Unlock()
	return conn.Close()
}

// Connected reports whether the session holds a live connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send writes one outbound event.
func (s *Session) Send(e event.Outbound) error {
	data, err := event.Encode(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrDisconnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", e.Name(), err)
	}
	return nil
}

// Online reports whether identity is in the roster.
func (s *Session) Online(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[identity]
	return ok
}

// Roster returns the online identities, sorted.
func (s *Session) Roster() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.online))
	for id := range s.online {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// Subscribe registers a listener for inbound events. Events are dropped for
// a listener whose buffer is full.
func (s *Session) Subscribe() (<-chan event.Inbound, func()) {
	ch := make(chan event.Inbound, listenerBuffer)
	s.listenerMu.Lock()
	s.listeners[ch] = struct{}{}
	s.listenerMu.Unlock()

	cancel := func() {
		s.listenerMu.Lock()
		if _, ok := s.listeners[ch]; ok {
			delete(s.listeners, ch)
			close(ch)
		}
		s.listenerMu.Unlock()
	}
	return ch, cancel
}

func (s *Session) publish(e event.Inbound) {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	for ch := range s.listeners {
		select {
		case ch <- e:
		default:
			s.log.Warn("listener full, dropping event", "event", e.Name())
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn, done chan struct{}) {
	var readErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				readErr = err
			}
			break
		}
		e, err := event.Decode(data)
		if err != nil {
			if errors.Is(err, event.ErrUnknownEvent) {
				s.log.Debug("ignoring frame", "err", err)
			} else {
				s.log.Warn("bad frame", "err", err)
			}
			continue
		}
		s.applyPresence(e)
		s.publish(e)
	}

	close(done)
	_ = conn.Close()

	s.mu.Lock()
	if s.conn == conn {
		if s.closing {
			readErr = nil
		}
		s.conn = nil
		s.closing = false
		s.online = make(map[string]struct{})
	}
	s.mu.Unlock()

	if readErr != nil {
		s.log.Warn("connection lost", "err", readErr)
	} else {
		s.log.Info("disconnected")
	}
	s.publish(event.Disconnected{Err: readErr})
}

func (s *Session) applyPresence(e event.Inbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e := e.(type) {
	case event.Roster:
		s.online = make(map[string]struct{}, len(e.Online))
		for _, id := range e.Online {
			s.online[id] = struct{}{}
		}
	case event.UserOnline:
		s.online[e.Identity] = struct{}{}
	case event.UserOffline:
		delete(s.online, e.Identity)
	}
}

func (s *Session) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := s.clock.Ticker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.log.Debug("ping failed", "err", err)
				_ = conn.Close()
				return
			}
		}
	}
}
