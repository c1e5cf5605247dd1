package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/sfcalls/internal/version"
)

// wsDialer opens WebSocket connections with gorilla/websocket.
type wsDialer struct {
	cfg    ClientConfig
	logger *slog.Logger
}

// NewDialer creates a Dialer for the feed endpoint.
func NewDialer(cfg ClientConfig, logger *slog.Logger) Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultClientConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}

	return &wsDialer{cfg: cfg, logger: logger}
}

// Dial establishes the WebSocket connection.
func (d *wsDialer) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	for k, v := range d.cfg.Header {
		header[k] = v
	}
	header.Set("Accept", "application/json")
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", version.UserAgent())
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, d.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.cfg.URL, err)
	}

	if d.cfg.ReadLimit > 0 {
		conn.SetReadLimit(d.cfg.ReadLimit)
	}

	d.logger.Debug("websocket connected", "url", d.cfg.URL)

	return &wsConn{
		conn:         conn,
		writeTimeout: d.cfg.WriteTimeout,
	}, nil
}

// wsConn adapts *websocket.Conn to Conn.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// Write serialization
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// ReadMessage returns the next text frame. Binary frames are skipped.
func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

// WriteMessage writes one text frame under the write deadline.
func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal-closure frame and closes the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		// Best effort: the peer may already be gone.
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
