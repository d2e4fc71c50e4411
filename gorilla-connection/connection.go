// Package gorillaconnection serves lucets applications with
// github.com/gorilla/websocket instead of the default coder/websocket
// handshaker.
//
//	app := lucets.NewApplication()
//	app.SetHandshaker(&gorillaconnection.Handshaker{
//	    Upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
//	})
package gorillaconnection

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	coder "github.com/coder/websocket"
	"github.com/gorilla/websocket"
	"github.com/lucets/lucets"
)

// DefaultCloseTimeout bounds how long writing a close frame may take.
const DefaultCloseTimeout = 5 * time.Second

// Handshaker upgrades requests with a gorilla/websocket Upgrader.
type Handshaker struct {
	// Upgrader performs the handshake. Its zero value only accepts same
	// origin requests.
	Upgrader websocket.Upgrader

	// ReadLimit is the maximum message size in bytes. Zero means no limit.
	ReadLimit int64

	// CloseTimeout bounds writing the close frame. Defaults to
	// DefaultCloseTimeout.
	CloseTimeout time.Duration
}

var _ lucets.Handshaker = &Handshaker{}

// Handshake upgrades the request. On failure the Upgrader has already
// written an HTTP error response.
func (h *Handshaker) Handshake(res http.ResponseWriter, req *http.Request) (lucets.SocketConnection, error) {
	conn, err := h.Upgrader.Upgrade(res, req, nil)
	if err != nil {
		return nil, err
	}
	if h.ReadLimit > 0 {
		conn.SetReadLimit(h.ReadLimit)
	}

	connection := New(conn)
	if h.CloseTimeout > 0 {
		connection.closeTimeout = h.CloseTimeout
	}
	return connection, nil
}

// Connection adapts a gorilla/websocket connection to
// lucets.SocketConnection.
type Connection struct {
	conn         *websocket.Conn
	closeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ lucets.SocketConnection = &Connection{}

// New wraps an established gorilla/websocket connection.
func New(conn *websocket.Conn) *Connection {
	return &Connection{
		conn:         conn,
		closeTimeout: DefaultCloseTimeout,
	}
}

// Read blocks until the next data message arrives. Cancelling ctx unblocks
// it by expiring the read deadline. Once Read fails the underlying
// connection is closed. A close frame from the peer is reported as a
// coder/websocket CloseError so websocket.CloseStatus works on it.
func (c *Connection) Read(ctx context.Context) (*lucets.SocketMessage, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		_ = c.conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, closeError(err)
	}

	return &lucets.SocketMessage{
		Type: toMessageType(messageType),
		Data: data,
	}, nil
}

func (c *Connection) Write(ctx context.Context, msg *lucets.SocketMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return c.conn.WriteMessage(fromMessageType(msg.Type), msg.Data)
}

// Close sends a close frame with the given status and reason, then closes
// the underlying connection. Only the first call has any effect.
func (c *Connection) Close(status lucets.Status, reason string) error {
	c.closeOnce.Do(func() {
		payload := websocket.FormatCloseMessage(int(status), reason)
		err := c.conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(c.closeTimeout))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = err
		}
		if err := c.conn.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// Subprotocol returns the negotiated subprotocol, if any.
func (c *Connection) Subprotocol() string {
	return c.conn.Subprotocol()
}

func closeError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return coder.CloseError{
			Code:   coder.StatusCode(closeErr.Code),
			Reason: closeErr.Text,
		}
	}
	return err
}

func toMessageType(messageType int) lucets.MessageType {
	if messageType == websocket.BinaryMessage {
		return lucets.MessageBinary
	}
	return lucets.MessageText
}

func fromMessageType(messageType lucets.MessageType) int {
	if messageType == lucets.MessageBinary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
