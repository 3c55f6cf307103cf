package cdp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"

	"github.com/grafana/xk6-browser-agent/log"
)

const (
	handshakeTimeout = 10 * time.Second
	wsBufferSize     = 1 << 20
	closeWriteWait   = time.Second
)

type connection struct {
	ws        *websocket.Conn
	wsURL     string
	logger    *log.Logger
	closeOnce sync.Once
}

func newConnection(ctx context.Context, wsURL string, logger *log.Logger) (*connection, error) {
	wd := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   wsBufferSize,
		WriteBufferSize:  wsBufferSize,
	}
	ws, _, err := wd.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dialing %q: %w", wsURL, err)
	}

	return &connection{
		ws:     ws,
		wsURL:  wsURL,
		logger: logger,
	}, nil
}

func (c *connection) readMessage() (*cdproto.Message, error) {
	_, buf, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading from %q: %w", c.wsURL, err)
	}

	var msg cdproto.Message
	if err := easyjson.Unmarshal(buf, &msg); err != nil {
		return nil, fmt.Errorf("decoding CDP message: %w", err)
	}

	return &msg, nil
}

// writeMessage must only be called from a single goroutine.
func (c *connection) writeMessage(msg *cdproto.Message) error {
	buf, err := easyjson.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding CDP message %d: %w", msg.ID, err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, buf); err != nil {
		return fmt.Errorf("writing CDP message %d: %w", msg.ID, err)
	}

	return nil
}

// Close sends a close frame and closes the underlying connection.
func (c *connection) Close() {
	c.closeOnce.Do(func() {
		c.logger.Debugf("connection:Close", "wsURL:%q", c.wsURL)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
		_ = c.ws.Close()
	})
}
