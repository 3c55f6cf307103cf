/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package cdp is a minimal Chrome DevTools Protocol client over a websocket.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"

	"github.com/grafana/xk6-browser-agent/cdp/domains"
	"github.com/grafana/xk6-browser-agent/log"
)

// ErrDisconnected is returned by Execute once the connection is gone.
var ErrDisconnected = errors.New("CDP connection closed")

var _ cdp.Executor = &Client{}

// Client manages CDP communication with the browser.
type Client struct {
	ctx    context.Context
	logger *log.Logger

	Browser domains.Browser
	DOM     domains.DOM
	Fetch   domains.Fetch
	Network domains.Network
	Page    domains.Page
	Storage domains.Storage

	conn      *connection
	msgID     int64
	sendCh    chan *cdproto.Message
	msgSubsMu sync.Mutex
	msgSubs   map[int64]chan *cdproto.Message
	done      chan struct{}
	watcher   *eventWatcher
	wsURL     string
}

// NewClient returns a new Client that is unusable until a CDP connection is
// established with Connect().
func NewClient(ctx context.Context, logger *log.Logger) *Client {
	c := &Client{
		ctx:     ctx,
		logger:  logger,
		sendCh:  make(chan *cdproto.Message, 32), // Buffered to avoid blocking in Execute
		msgSubs: make(map[int64]chan *cdproto.Message),
		done:    make(chan struct{}),
		watcher: newEventWatcher(ctx),
	}

	c.Browser = domains.NewBrowser(c)
	c.DOM = domains.NewDOM(c)
	c.Fetch = domains.NewFetch(c)
	c.Network = domains.NewNetwork(c)
	c.Page = domains.NewPage(c)
	c.Storage = domains.NewStorage(c)

	return c
}

// Connect to the browser target that exposes a CDP API at wsURL.
func (c *Client) Connect(wsURL string) (err error) {
	if c.wsURL != "" {
		return fmt.Errorf("CDP connection already established to %q", c.wsURL)
	}

	if c.conn, err = newConnection(c.ctx, wsURL, c.logger); err != nil {
		return err
	}
	c.logger.Infof("cdp", "established CDP connection to %q", wsURL)
	c.wsURL = wsURL

	go c.recvLoop()
	go c.sendLoop()

	return nil
}

// Disconnect from the browser's CDP API.
func (c *Client) Disconnect() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Done is closed when the connection is lost or closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Execute implements cdp.Executor and performs a synchronous send and
// receive.
func (c *Client) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	c.logger.Debugf("Client:Execute", "wsURL:%q method:%q", c.wsURL, method)

	select {
	case <-c.done:
		return fmt.Errorf("executing %s: %w", method, ErrDisconnected)
	default:
	}

	var buf []byte
	if params != nil {
		var err error
		if buf, err = easyjson.Marshal(params); err != nil {
			return fmt.Errorf("encoding %s params: %w", method, err)
		}
	}

	id := atomic.AddInt64(&c.msgID, 1)
	msg := &cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
		Params: buf,
	}
	// Without a session ID the message goes to the target the websocket is
	// connected to.
	if sid := GetSessionID(ctx); sid != "" {
		msg.SessionID = target.SessionID(sid)
	}

	recvCh := make(chan *cdproto.Message, 1)
	c.msgSubsMu.Lock()
	c.msgSubs[id] = recvCh
	c.msgSubsMu.Unlock()
	defer func() {
		c.msgSubsMu.Lock()
		delete(c.msgSubs, id)
		c.msgSubsMu.Unlock()
	}()

	select {
	case c.sendCh <- msg:
	case <-c.done:
		return fmt.Errorf("sending %s: %w", method, ErrDisconnected)
	case <-ctx.Done():
		return fmt.Errorf("sending %s: %w", method, ctx.Err())
	case <-c.ctx.Done():
		return fmt.Errorf("sending %s: %w", method, c.ctx.Err())
	}

	select {
	case reply := <-recvCh:
		if reply.Error != nil {
			return fmt.Errorf("%s: %w", method, reply.Error)
		}
		if res != nil && len(reply.Result) > 0 {
			return easyjson.Unmarshal(reply.Result, res)
		}
		return nil
	case <-c.done:
		return fmt.Errorf("waiting for %s: %w", method, ErrDisconnected)
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s: %w", method, ctx.Err())
	case <-c.ctx.Done():
		return fmt.Errorf("waiting for %s: %w", method, c.ctx.Err())
	}
}

// Subscribe returns a channel that will be notified when the provided CDP
// events are received, and a cancellation function that will unsubscribe and
// close the channel. Without events, every event is delivered in the order
// it was received.
func (c *Client) Subscribe(events ...cdproto.MethodType) (<-chan *Event, func()) {
	return c.watcher.subscribe(events...)
}

func (c *Client) recvLoop() {
	defer close(c.done)

	for {
		msg, err := c.conn.readMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.Is(err, net.ErrClosed), errors.As(err, &closeErr):
				c.logger.Debugf("Client:recvLoop", "wsURL:%q closed: %v", c.wsURL, err)
			default:
				c.logger.Errorf("Client:recvLoop", "wsURL:%q err:%v", c.wsURL, err)
			}
			return
		}

		switch {
		case msg.Method != "":
			evt, err := cdproto.UnmarshalMessage(msg)
			if err != nil {
				c.logger.Debugf("Client:recvLoop", "skipping event %q: %v", msg.Method, err)
				continue
			}
			c.watcher.notify(&Event{
				Name:      msg.Method,
				Data:      evt,
				SessionID: msg.SessionID,
			})
		case msg.ID > 0:
			c.msgSubsMu.Lock()
			ch, ok := c.msgSubs[msg.ID]
			c.msgSubsMu.Unlock()
			if !ok {
				c.logger.Debugf("Client:recvLoop", "no waiter for reply %d", msg.ID)
				continue
			}
			select {
			case ch <- msg:
			default:
				c.logger.Debugf("Client:recvLoop", "duplicate reply %d", msg.ID)
			}
		default:
			c.logger.Errorf("Client:recvLoop", "ignoring malformed incoming message (missing id or method): %#v", msg)
		}
	}
}

func (c *Client) sendLoop() {
	for {
		select {
		case msg := <-c.sendCh:
			if err := c.conn.writeMessage(msg); err != nil {
				c.logger.Errorf("Client:sendLoop", "wsURL:%q err:%v", c.wsURL, err)
				c.failMessage(msg.ID, err)
			}
		case <-c.done:
			return
		case <-c.ctx.Done():
			c.logger.Debugf("Client:sendLoop", "returning, ctx.Err: %q", c.ctx.Err())
			c.conn.Close()
			return
		}
	}
}

func (c *Client) failMessage(id int64, err error) {
	c.msgSubsMu.Lock()
	ch, ok := c.msgSubs[id]
	c.msgSubsMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- &cdproto.Message{ID: id, Error: &cdproto.Error{Message: err.Error()}}:
	default:
	}
}
