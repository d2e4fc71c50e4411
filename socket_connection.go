package lucets

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// SocketConnection is a live WebSocket connection. The application reads
// from it sequentially in a single goroutine, while Write and Close may be
// called from any goroutine.
//
// Read must return an error once the connection is closed. If the peer sent
// a close frame, the error should satisfy websocket.CloseStatus so the close
// code can be logged. The application does not call Close after Read fails,
// so the implementation must release the transport itself.
type SocketConnection interface {
	Read(ctx context.Context) (*SocketMessage, error)
	Write(ctx context.Context, msg *SocketMessage) error
	Close(status Status, reason string) error
}

// Handshaker performs the protocol upgrade of an HTTP request. When it fails
// it is responsible for answering the client. Returning an *HTTPError sets
// the status reported for the failure.
type Handshaker interface {
	Handshake(res http.ResponseWriter, req *http.Request) (SocketConnection, error)
}

// HandshakerFunc adapts a function to the Handshaker interface.
type HandshakerFunc func(res http.ResponseWriter, req *http.Request) (SocketConnection, error)

func (f HandshakerFunc) Handshake(res http.ResponseWriter, req *http.Request) (SocketConnection, error) {
	return f(res, req)
}

// AcceptHandshaker upgrades requests with github.com/coder/websocket. It is
// the handshaker used by an Application unless another is set.
type AcceptHandshaker struct {
	// OriginPatterns lists the host patterns allowed to connect across
	// origins. Defaults to allowing all origins.
	OriginPatterns []string

	// Subprotocols lists the subprotocols the server supports, in order of
	// preference.
	Subprotocols []string

	// ReadLimit is the maximum message size in bytes. Zero keeps the library
	// default of 32768.
	ReadLimit int64
}

var _ Handshaker = &AcceptHandshaker{}

func (h *AcceptHandshaker) Handshake(res http.ResponseWriter, req *http.Request) (SocketConnection, error) {
	origins := h.OriginPatterns
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	conn, err := websocket.Accept(res, req, &websocket.AcceptOptions{
		OriginPatterns: origins,
		Subprotocols:   h.Subprotocols,
	})
	if err != nil {
		return nil, err
	}
	if h.ReadLimit > 0 {
		conn.SetReadLimit(h.ReadLimit)
	}

	return NewWebSocketConnection(conn), nil
}

// WebSocketConnection is a SocketConnection implementation that wraps
// github.com/coder/websocket.Conn.
type WebSocketConnection struct {
	webSocketConnection *websocket.Conn
}

var _ SocketConnection = &WebSocketConnection{}

// NewWebSocketConnection creates a WebSocketConnection from a
// github.com/coder/websocket.Conn.
func NewWebSocketConnection(websocketConnection *websocket.Conn) *WebSocketConnection {
	return &WebSocketConnection{
		webSocketConnection: websocketConnection,
	}
}

// Read blocks until the next message arrives or the connection fails.
func (c *WebSocketConnection) Read(ctx context.Context) (*SocketMessage, error) {
	messageType, data, err := c.webSocketConnection.Read(ctx)
	if err != nil {
		return nil, err
	}

	return &SocketMessage{
		Type: messageType,
		Data: data,
	}, nil
}

func (c *WebSocketConnection) Write(ctx context.Context, msg *SocketMessage) error {
	return c.webSocketConnection.Write(ctx, msg.Type, msg.Data)
}

// Close performs the closing handshake and returns once it completes or
// times out.
func (c *WebSocketConnection) Close(status Status, reason string) error {
	return c.webSocketConnection.Close(status, reason)
}

// Subprotocol returns the negotiated subprotocol, if any.
func (c *WebSocketConnection) Subprotocol() string {
	return c.webSocketConnection.Subprotocol()
}
