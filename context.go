package lucets

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ConnectionState is the position of a connection in the upgrade lifecycle.
type ConnectionState int32

const (
	StateInit ConnectionState = iota
	StatePreUpgrade
	StateHandshake
	StatePostUpgrade
	StateEstablished
	StateRejected
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePreUpgrade:
		return "pre_upgrade"
	case StateHandshake:
		return "handshake"
	case StatePostUpgrade:
		return "post_upgrade"
	case StateEstablished:
		return "established"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Context is created for each upgrade request and passed to every hook that
// runs for the connection, from the pre-upgrade hooks through each message.
//
// The request, response writer and application never change. The state bag
// holds values hooks want to share for the lifetime of the connection.
//
// Send, Close and Conn only work while the connection is established. They
// become available once the handshake succeeds and stop working when the
// connection closes. Context also implements context.Context, and is
// cancelled once the connection has closed.
type Context struct {
	ctx    context.Context
	cancel context.CancelFunc

	id  string
	app *Application
	req *http.Request
	res http.ResponseWriter

	state atomic.Int32

	valuesMu sync.Mutex
	values   map[string]any

	capabilities atomic.Pointer[capabilities]
	installed    atomic.Bool
}

var _ context.Context = &Context{}

// capabilities are the operations a context has while its connection is
// live. They are swapped in and out as a whole.
type capabilities struct {
	conn    SocketConnection
	codec   Codec
	closing atomic.Bool
}

func newContext(app *Application, res http.ResponseWriter, req *http.Request) *Context {
	ctx, cancel := context.WithCancel(req.Context())
	return &Context{
		ctx:    ctx,
		cancel: cancel,
		id:     uuid.NewString(),
		app:    app,
		req:    req,
		res:    res,
		values: map[string]any{},
	}
}

// ID returns a unique identifier for the connection.
func (c *Context) ID() string {
	return c.id
}

// App returns the application handling the connection.
func (c *Context) App() *Application {
	return c.app
}

// Request returns the upgrade request.
func (c *Context) Request() *http.Request {
	return c.req
}

// Raw returns the response writer of the upgrade request. Its underlying
// transport is taken over by the handshake, so it must not be written to
// once the connection is established.
func (c *Context) Raw() http.ResponseWriter {
	return c.res
}

// Headers returns the headers of the upgrade request.
func (c *Context) Headers() http.Header {
	return c.req.Header
}

// RemoteAddr returns the network address of the client.
func (c *Context) RemoteAddr() string {
	return c.req.RemoteAddr
}

// State returns the current lifecycle state of the connection.
func (c *Context) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Context) setState(state ConnectionState) {
	c.state.Store(int32(state))
}

// Set stores a value on the connection.
func (c *Context) Set(key string, value any) {
	c.valuesMu.Lock()
	defer c.valuesMu.Unlock()
	c.values[key] = value
}

// Get retrieves a value stored on the connection.
func (c *Context) Get(key string) (any, bool) {
	c.valuesMu.Lock()
	defer c.valuesMu.Unlock()
	value, ok := c.values[key]
	return value, ok
}

// MustGet is like Get but panics if the key is not set.
func (c *Context) MustGet(key string) any {
	value, ok := c.Get(key)
	if !ok {
		panic(fmt.Sprintf("key %q not set on context", key))
	}
	return value
}

// Delete removes a value from the connection.
func (c *Context) Delete(key string) {
	c.valuesMu.Lock()
	defer c.valuesMu.Unlock()
	delete(c.values, key)
}

// Conn returns the live connection. The second return value is false if
// the connection is not established.
func (c *Context) Conn() (SocketConnection, bool) {
	caps := c.capabilities.Load()
	if caps == nil {
		return nil, false
	}
	return caps.conn, true
}

// IsOpen reports whether the connection is established and not closing.
func (c *Context) IsOpen() bool {
	caps := c.capabilities.Load()
	return caps != nil && !caps.closing.Load()
}

// Send encodes a message with the application codec and writes it to the
// connection. It returns once the message is written. Send fails with
// ErrConnectionNotOpen if the connection is not open.
func (c *Context) Send(message any) error {
	caps := c.capabilities.Load()
	if caps == nil || caps.closing.Load() {
		return ErrConnectionNotOpen
	}

	data, err := caps.codec.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	return caps.conn.Write(c, &SocketMessage{
		Type: caps.codec.MessageType(),
		Data: data,
	})
}

// Close starts the closing handshake with the given status and reason, and
// returns once it completes. Close fails with ErrConnectionNotOpen if the
// connection is not open, including when another close is in progress.
func (c *Context) Close(status Status, reason string) error {
	caps := c.capabilities.Load()
	if caps == nil || !caps.closing.CompareAndSwap(false, true) {
		return ErrConnectionNotOpen
	}
	c.app.metrics.ConnectionClosedWith(int(status))
	return caps.conn.Close(status, truncateReason(reason))
}

// install makes the connection available on the context. It only succeeds
// once per context.
func (c *Context) install(conn SocketConnection, codec Codec) bool {
	if !c.installed.CompareAndSwap(false, true) {
		return false
	}
	c.capabilities.Store(&capabilities{
		conn:  conn,
		codec: codec,
	})
	return true
}

// teardown removes the connection from the context and cancels it.
func (c *Context) teardown() {
	if caps := c.capabilities.Swap(nil); caps != nil {
		caps.closing.Store(true)
	}
	c.cancel()
}

// Deadline returns the deadline of the upgrade request context, if any.
func (c *Context) Deadline() (time.Time, bool) {
	return c.ctx.Deadline()
}

// Done is closed once the connection has closed or the upgrade ended.
func (c *Context) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err returns context.Canceled once Done is closed.
func (c *Context) Err() error {
	return c.ctx.Err()
}

// Value returns values from the upgrade request context.
func (c *Context) Value(key any) any {
	return c.ctx.Value(key)
}
