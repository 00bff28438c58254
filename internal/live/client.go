package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eleven-am/voice-intake/internal/audio"
)

const DefaultURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	maxMessageSize     = 16 * 1024 * 1024
	defaultDialTimeout = 30 * time.Second
)

var ErrSessionClosed = errors.New("live: session closed")

type Config struct {
	URL         string
	APIKey      string
	DialTimeout time.Duration
}

// Callbacks are invoked from the session's single reader goroutine, in the
// order the transport delivered the underlying events.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(msg *ServerMessage)
	OnClose   func(code int, reason string)
	OnError   func(err error)
}

type Client struct {
	cfg      Config
	dialer   *websocket.Dialer
	log      *slog.Logger
	pongWait time.Duration
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		log:      log.With("component", "live_client"),
		pongWait: pongWait,
	}
}

// Connect dials the live endpoint and sends the setup message. The returned
// session accepts sends immediately; they are held until the server confirms
// setup.
func (c *Client) Connect(ctx context.Context, cfg SessionConfig, cb Callbacks) (*Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("x-goog-api-key", c.cfg.APIKey)
	}

	conn, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial live endpoint: %w", err)
	}

	s := &Session{
		id:       uuid.New().String(),
		conn:     conn,
		cb:       cb,
		out:      newOutbox(),
		pongWait: c.pongWait,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.log = c.log.With("live_session_id", s.id)

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(&ClientMessage{Setup: BuildSetup(cfg)}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}

	go s.readPump()
	go s.writePump()

	s.log.Info("live session dialed", "model", cfg.Model)
	return s, nil
}

type Session struct {
	id   string
	conn *websocket.Conn
	cb   Callbacks
	log  *slog.Logger
	out  *outbox

	pongWait time.Duration

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) SendRealtimeInput(blob audio.Blob) error {
	return s.out.push(&ClientMessage{
		RealtimeInput: &RealtimeInput{MediaChunks: []audio.Blob{blob}},
	})
}

func (s *Session) SendToolResponse(responses ...FunctionResponse) error {
	if len(responses) == 0 {
		return nil
	}
	return s.out.push(&ClientMessage{
		ToolResponse: &ToolResponse{FunctionResponses: responses},
	})
}

// Close ends the session locally. No callbacks fire afterwards.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.out.close()

		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = s.conn.Close()
		s.log.Debug("live session closed locally")
	})
	return err
}

// readPump waits for setupComplete without a deadline; the keepalive
// deadline is armed once the session is open and pings start.
func (s *Session) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	open := false
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		if open {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("discarding undecodable server message", "error", err)
			continue
		}

		if s.closed.Load() {
			return
		}

		if msg.SetupComplete != nil {
			if !open {
				open = true
				_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
			}
			s.readyOnce.Do(func() { close(s.ready) })
			s.log.Debug("live session open")
			if s.cb.OnOpen != nil {
				s.cb.OnOpen()
			}
			continue
		}

		if msg.GoAway != nil {
			s.log.Warn("server announced disconnect", "time_left", msg.GoAway.TimeLeft)
		}
		if msg.ToolCallCancellation != nil {
			s.log.Info("server cancelled tool calls", "ids", msg.ToolCallCancellation.IDs)
		}

		if s.cb.OnMessage != nil {
			s.cb.OnMessage(&msg)
		}
	}
}

// finish reports how the transport ended unless the session was closed
// locally, then releases the connection.
func (s *Session) finish(err error) {
	if s.closed.Load() {
		return
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) &&
		(closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
		s.log.Info("live session closed by server", "code", closeErr.Code, "reason", closeErr.Text)
		s.shutdown()
		if s.cb.OnClose != nil {
			s.cb.OnClose(closeErr.Code, closeErr.Text)
		}
		return
	}

	s.log.Error("live session transport failed", "error", err)
	s.shutdown()
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.out.close()
		s.conn.Close()
	})
}

func (s *Session) writePump() {
	select {
	case <-s.ready:
	case <-s.done:
		return
	}

	ticker := time.NewTicker(s.pongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case <-s.out.notify:
			for _, msg := range s.out.drain() {
				_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.conn.WriteJSON(msg); err != nil {
					s.log.Error("live write failed", "error", err)
					// The reader observes the broken connection and reports it.
					s.conn.Close()
					return
				}
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}
