package scan

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSConfig holds configuration for the WebSocket capture.
type WSConfig struct {
	// Logger for connection events.
	Logger zerolog.Logger

	// WriteTimeout bounds close frames sent on Stop (default: 5 seconds).
	WriteTimeout time.Duration

	// ReadLimit caps a single decoded frame (default: 4 KiB).
	ReadLimit int64

	// CheckOrigin overrides the upgrader origin check. Nil allows same-origin only.
	CheckOrigin func(r *http.Request) bool
}

var _ Capture = (*WSCapture)(nil)

// WSCapture receives decoded payloads from a camera page over WebSocket.
// Each text frame is one decoded payload. Connections are only accepted while the capture runs.
type WSCapture struct {
	logger       zerolog.Logger
	writeTimeout time.Duration
	readLimit    int64
	upgrader     websocket.Upgrader

	mu    sync.Mutex
	out   chan string
	conns map[*websocket.Conn]struct{}
}

// NewWSCapture creates an idle WebSocket capture.
func NewWSCapture(cfg WSConfig) *WSCapture {
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 5 * time.Second
	}
	readLimit := cfg.ReadLimit
	if readLimit == 0 {
		readLimit = 4096
	}

	return &WSCapture{
		logger:       cfg.Logger,
		writeTimeout: writeTimeout,
		readLimit:    readLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Start opens the payload stream.
func (c *WSCapture) Start(_ context.Context) (<-chan string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.out != nil {
		return nil, ErrCaptureActive
	}
	c.out = make(chan string, 8)
	c.logger.Debug().Msg("websocket capture started")
	return c.out, nil
}

// Stop closes the payload stream and sends a close frame to every connected camera page.
func (c *WSCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.out == nil {
		return
	}
	close(c.out)
	c.out = nil

	deadline := time.Now().Add(c.writeTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scanner closed")
	for conn := range c.conns {
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
		delete(c.conns, conn)
	}
	c.logger.Debug().Msg("websocket capture stopped")
}

// Active reports whether the capture is running.
func (c *WSCapture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out != nil
}

// ServeHTTP upgrades a camera page connection and forwards its text frames.
func (c *WSCapture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !c.Active() {
		http.Error(w, "scanner is not open", http.StatusConflict)
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	if !c.register(conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scanner closed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		_ = conn.Close()
		return
	}

	c.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("camera connected")
	c.readPump(conn)
}

func (c *WSCapture) register(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == nil {
		return false
	}
	c.conns[conn] = struct{}{}
	return true
}

func (c *WSCapture) unregister(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, conn)
}

func (c *WSCapture) readPump(conn *websocket.Conn) {
	defer func() {
		c.unregister(conn)
		_ = conn.Close()
	}()

	conn.SetReadLimit(c.readLimit)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug().Err(err).Msg("camera connection closed")
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.emit(string(data))
	}
}

func (c *WSCapture) emit(payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.out == nil {
		return
	}
	select {
	case c.out <- payload:
	default:
		c.logger.Warn().Msg("dropping decoded payload, buffer full")
	}
}
