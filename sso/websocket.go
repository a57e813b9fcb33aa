// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package sso

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// defaultWriteTimeout bounds a Post to one connection when ctx has no
// deadline.
const defaultWriteTimeout = 10 * time.Second

// WebSocketChannel is a Channel for host applications which connect over a
// websocket. Every connected host counts as an opener. Inbound messages
// carry the Origin header of their connection; it's up to a Listener to
// filter them.
type WebSocketChannel struct {
	upgrader  websocket.Upgrader
	logger    hclog.Logger
	readLimit int64

	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	in     chan Inbound
	closed bool
	wg     sync.WaitGroup
}

var (
	_ Channel      = (*WebSocketChannel)(nil)
	_ http.Handler = (*WebSocketChannel)(nil)
)

type wsConn struct {
	origin string

	writeMu sync.Mutex
	conn    *websocket.Conn
}

func (c *wsConn) writeJSON(ctx context.Context, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// NewWebSocketChannel creates a WebSocketChannel. Serve it with an
// http.Server to accept host connections.
//
// Supported options: WithLogger, WithReadLimit, WithBufferSize
func NewWebSocketChannel(opt ...Option) *WebSocketChannel {
	opts := getOpts(opt...)
	return &WebSocketChannel{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// window messages cross origins; the Listener filters them
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:    opts.withLogger,
		readLimit: opts.withReadLimit,
		conns:     map[*wsConn]struct{}{},
		in:        make(chan Inbound, opts.withBufferSize),
	}
}

// ServeHTTP upgrades the request and reads messages until the connection
// closes.
func (c *WebSocketChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Debug("unable to upgrade connection", "error", err)
		return
	}
	conn.SetReadLimit(c.readLimit)
	wc := &wsConn{origin: r.Header.Get("Origin"), conn: conn}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conns[wc] = struct{}{}
	c.mu.Unlock()
	c.logger.Debug("opener connected", "origin", wc.origin)

	defer func() {
		c.mu.Lock()
		delete(c.conns, wc)
		c.mu.Unlock()
		_ = conn.Close()
		c.logger.Debug("opener disconnected", "origin", wc.origin)
	}()
	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("unable to read message", "origin", wc.origin, "error", err)
			}
			return
		}
		c.deliver(Inbound{Origin: wc.origin, Message: m})
	}
}

// deliver drops the message when the buffer is full.
func (c *WebSocketChannel) deliver(in Inbound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.in <- in:
	default:
		c.logger.Warn("inbound buffer full, dropping message", "origin", in.Origin, "type", in.Message.Type)
	}
}

// HasOpener implements Channel.
func (c *WebSocketChannel) HasOpener() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns) > 0
}

// Post implements Channel by writing m to every connected opener.
func (c *WebSocketChannel) Post(ctx context.Context, m Message) error {
	const op = "WebSocketChannel.Post"
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	conns := make([]*wsConn, 0, len(c.conns))
	for wc := range c.conns {
		conns = append(conns, wc)
	}
	c.mu.Unlock()
	if len(conns) == 0 {
		return fmt.Errorf("%s: %w", op, ErrNoOpener)
	}

	var result *multierror.Error
	for _, wc := range conns {
		if err := wc.writeJSON(ctx, m); err != nil {
			result = multierror.Append(result, fmt.Errorf("opener %s: %w", wc.origin, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Messages implements Channel.
func (c *WebSocketChannel) Messages() <-chan Inbound { return c.in }

// Close disconnects every opener and closes the inbound messages.
func (c *WebSocketChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conns := make([]*wsConn, 0, len(c.conns))
	for wc := range c.conns {
		conns = append(conns, wc)
	}
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	for _, wc := range conns {
		wc.writeMu.Lock()
		_ = wc.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		wc.writeMu.Unlock()
		// the read loop sees the error and returns
		_ = wc.conn.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	close(c.in)
	c.mu.Unlock()
}
