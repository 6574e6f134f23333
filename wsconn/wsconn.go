// Package wsconn wraps a gorilla/websocket client connection with
// context-aware reads and writes, so callers can use context deadlines and
// cancellation instead of manually juggling SetReadDeadline/SetWriteDeadline.
package wsconn

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a context-aware client websocket connection.
type Conn struct {
	c *websocket.Conn
}

// DialOptions provides optional headers and a custom dialer (needed for the
// TLS-PSK transport, which supplies its own tls.Config via Dialer.TLSClientConfig).
type DialOptions struct {
	Header http.Header
	Dialer *websocket.Dialer
}

// Dial opens a websocket connection with a deadline-aware handshake.
func Dial(ctx context.Context, urlStr string, opts DialOptions) (*Conn, *http.Response, error) {
	var d websocket.Dialer
	if opts.Dialer != nil {
		d = *opts.Dialer
	}
	if deadline, ok := ctx.Deadline(); ok {
		dl := time.Until(deadline)
		if d.HandshakeTimeout == 0 || d.HandshakeTimeout > dl {
			d.HandshakeTimeout = dl
		}
	}
	c, resp, err := d.DialContext(ctx, urlStr, opts.Header)
	if err != nil {
		return nil, resp, err
	}
	return &Conn{c: c}, resp, nil
}

// SetReadLimit forwards the read limit to the underlying websocket.
func (c *Conn) SetReadLimit(n int64) {
	c.c.SetReadLimit(n)
}

// ReadMessage reads a websocket frame, honoring the context deadline and cancellation.
func (c *Conn) ReadMessage(ctx context.Context) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = c.c.SetReadDeadline(deadline)
	} else {
		_ = c.c.SetReadDeadline(time.Time{})
	}
	// gorilla/websocket does not unblock ReadMessage on context cancellation
	// unless a read deadline is set; force a blocked read to wake up promptly
	// when ctx is canceled, and map the resulting I/O timeout back to ctx.Err().
	if ctx.Done() != nil {
		var active atomic.Bool
		active.Store(true)
		stop := context.AfterFunc(ctx, func() {
			if !active.Load() {
				return
			}
			_ = c.c.SetReadDeadline(time.Now())
		})
		defer func() {
			active.Store(false)
			stop()
		}()
	}
	mt, b, err := c.c.ReadMessage()
	if err == nil {
		return mt, b, nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		if cerr := ctx.Err(); cerr != nil {
			return 0, nil, cerr
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return 0, nil, context.DeadlineExceeded
		}
	}
	return 0, nil, err
}

// WriteMessage writes a websocket frame, honoring the context deadline and cancellation.
func (c *Conn) WriteMessage(ctx context.Context, messageType int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = c.c.SetWriteDeadline(deadline)
	} else {
		_ = c.c.SetWriteDeadline(time.Time{})
	}
	if ctx.Done() != nil {
		var active atomic.Bool
		active.Store(true)
		stop := context.AfterFunc(ctx, func() {
			if !active.Load() {
				return
			}
			_ = c.c.SetWriteDeadline(time.Now())
		})
		defer func() {
			active.Store(false)
			stop()
		}()
	}
	err := c.c.WriteMessage(messageType, data)
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
	}
	return err
}

// Close closes the websocket connection.
func (c *Conn) Close() error {
	return c.c.Close()
}

// Underlying exposes the raw gorilla/websocket connection for advanced callers.
func (c *Conn) Underlying() *websocket.Conn {
	return c.c
}

const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)
