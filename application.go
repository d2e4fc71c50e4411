package lucets

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lucets/lucets/hooks"
	"github.com/lucets/lucets/metrics"
)

// UpgradePhase selects which upgrade hook chain UseUpgrade adds to.
type UpgradePhase string

const (
	// PreUpgrade hooks run before the handshake. An error rejects the
	// upgrade with an HTTP response.
	PreUpgrade UpgradePhase = "pre"

	// PostUpgrade hooks run once the connection is established, before any
	// message is read. An error closes the connection.
	PostUpgrade UpgradePhase = "post"
)

// UpgradeHook intercepts a connection before or after the handshake.
type UpgradeHook func(ctx *Context, next hooks.Next) error

// MessageHook intercepts each decoded inbound message.
type MessageHook func(msg *Message, ctx *Context, next hooks.Next) error

// ErrorObserver receives server faults raised in any phase along with the
// context of the connection they occurred on.
type ErrorObserver func(err error, ctx *Context)

const (
	phasePreUpgrade  = "pre_upgrade"
	phaseHandshake   = "handshake"
	phasePostUpgrade = "post_upgrade"
	phaseMessage     = "message"
)

// Application upgrades HTTP requests to WebSocket connections and runs them
// through its hook chains. It implements http.Handler.
//
// Hooks run in three chains. Pre-upgrade hooks can reject a request before
// the handshake. Post-upgrade hooks run once the connection is established.
// Message hooks run for every decoded inbound message. Hooks should be
// registered during setup; hooks added while connections are being served
// only apply to chains that start after they were added.
type Application struct {
	preUpgradeHooks  hooks.Chain[struct{}, *Context]
	postUpgradeHooks hooks.Chain[struct{}, *Context]
	messageHooks     hooks.Chain[*Message, *Context]

	observersMu sync.RWMutex
	observers   []ErrorObserver

	handshaker   Handshaker
	origins      []string
	subprotocols []string
	readLimit    int64
	codec        Codec
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

var _ http.Handler = &Application{}

// NewApplication creates an application with the JSON codec and the
// coder/websocket handshaker.
func NewApplication() *Application {
	return &Application{
		codec:  JSONCodec{},
		logger: slog.Default(),
	}
}

// SetOrigins configures the origin patterns the default handshaker accepts.
// If not set, all origins are allowed.
func (a *Application) SetOrigins(origins []string) {
	a.origins = origins
}

// SetSubprotocols configures the subprotocols the default handshaker
// negotiates, in order of preference.
func (a *Application) SetSubprotocols(subprotocols []string) {
	a.subprotocols = subprotocols
}

// SetReadLimit sets the maximum size in bytes of an inbound message for the
// default handshaker. A larger message closes the connection with
// StatusMessageTooBig.
func (a *Application) SetReadLimit(limit int64) {
	a.readLimit = limit
}

// SetHandshaker replaces the handshaker. Origins, subprotocols and read limit
// set on the application are ignored when a handshaker is set.
func (a *Application) SetHandshaker(handshaker Handshaker) {
	a.handshaker = handshaker
}

// SetCodec sets the codec used to decode inbound and encode outbound
// messages.
func (a *Application) SetCodec(codec Codec) {
	if codec == nil {
		panic(&UsageError{Op: "SetCodec", Message: "codec must not be nil"})
	}
	a.codec = codec
}

// SetLogger sets the structured logger. Defaults to slog.Default.
func (a *Application) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	a.logger = logger
}

// SetMetrics enables Prometheus instrumentation.
func (a *Application) SetMetrics(m *metrics.Metrics) {
	a.metrics = m
}

// UseUpgrade registers hooks in the pre-upgrade or post-upgrade chain. Hooks
// run in the order they are registered. It panics with a *UsageError if no
// hooks are given, a hook is nil, or the phase is unknown.
//
//	app.UseUpgrade(lucets.PreUpgrade, func(ctx *lucets.Context, next hooks.Next) error {
//	    if ctx.Headers().Get("Authorization") == "" {
//	        return lucets.NewHTTPError(http.StatusUnauthorized, "missing credentials")
//	    }
//	    return next()
//	})
func (a *Application) UseUpgrade(phase UpgradePhase, upgradeHooks ...UpgradeHook) *Application {
	if len(upgradeHooks) == 0 {
		panic(&UsageError{Op: "UseUpgrade", Message: "expects at least one hook"})
	}

	var chain *hooks.Chain[struct{}, *Context]
	switch phase {
	case PreUpgrade:
		chain = &a.preUpgradeHooks
	case PostUpgrade:
		chain = &a.postUpgradeHooks
	default:
		panic(&UsageError{Op: "UseUpgrade", Message: "unknown upgrade phase " + string(phase)})
	}

	adapted := make([]hooks.Hook[struct{}, *Context], 0, len(upgradeHooks))
	for _, hook := range upgradeHooks {
		if hook == nil {
			panic(&UsageError{Op: "UseUpgrade", Message: "hook must not be nil"})
		}
		hook := hook
		adapted = append(adapted, func(_ struct{}, ctx *Context, next hooks.Next) error {
			return hook(ctx, next)
		})
	}
	chain.Add(adapted...)

	return a
}

// UseMessage registers hooks in the message chain. Hooks run in the order
// they are registered. It panics with a *UsageError if no hooks are given or
// a hook is nil.
//
//	app.UseMessage(func(msg *lucets.Message, ctx *lucets.Context, next hooks.Next) error {
//	    return ctx.Send(msg.Data)
//	})
func (a *Application) UseMessage(messageHooks ...MessageHook) *Application {
	if len(messageHooks) == 0 {
		panic(&UsageError{Op: "UseMessage", Message: "expects at least one hook"})
	}

	adapted := make([]hooks.Hook[*Message, *Context], 0, len(messageHooks))
	for _, hook := range messageHooks {
		if hook == nil {
			panic(&UsageError{Op: "UseMessage", Message: "hook must not be nil"})
		}
		adapted = append(adapted, hooks.Hook[*Message, *Context](hook))
	}
	a.messageHooks.Add(adapted...)

	return a
}

// OnError registers an observer for server faults. Client faults, such as
// a 401 from a pre-upgrade hook or a 4400 close, are not reported.
func (a *Application) OnError(observer ErrorObserver) {
	if observer == nil {
		panic(&UsageError{Op: "OnError", Message: "observer must not be nil"})
	}
	a.observersMu.Lock()
	defer a.observersMu.Unlock()
	a.observers = append(a.observers, observer)
}

// ServeHTTP implements the http.Handler interface. Upgrade requests are
// run through the hook chains and, if accepted, served until the connection
// closes. Other requests get a 400 Bad Request response.
func (a *Application) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	if isWebsocketUpgradeRequest(req) {
		a.handleUpgrade(res, req)
		return
	}
	res.WriteHeader(http.StatusBadRequest)
	if _, err := res.Write([]byte("Bad Request. Expected websocket upgrade request")); err != nil {
		a.logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

func (a *Application) handleUpgrade(res http.ResponseWriter, req *http.Request) {
	ctx := newContext(a, res, req)
	defer ctx.cancel()

	ctx.setState(StatePreUpgrade)
	if err := a.runUpgradeChain(&a.preUpgradeHooks, metrics.ChainPreUpgrade, ctx); err != nil {
		a.reject(ctx, err)
		return
	}

	ctx.setState(StateHandshake)
	conn, err := a.getHandshaker().Handshake(res, req)
	if err != nil {
		a.handshakeFailed(ctx, err)
		return
	}

	ctx.install(conn, a.codec)
	a.metrics.UpgradeAccepted()
	a.metrics.ConnectionOpened()
	defer a.metrics.ConnectionEnded()

	ctx.setState(StatePostUpgrade)
	if err := a.runUpgradeChain(&a.postUpgradeHooks, metrics.ChainPostUpgrade, ctx); err != nil {
		a.fail(ctx, phasePostUpgrade, err)
		ctx.setState(StateClosed)
		ctx.teardown()
		return
	}

	ctx.setState(StateEstablished)
	a.logger.Debug("connection established", slog.String("connection", ctx.ID()))

	for a.handleNextMessage(ctx, conn) {
	}

	ctx.setState(StateClosed)
	ctx.teardown()
}

func (a *Application) runUpgradeChain(chain *hooks.Chain[struct{}, *Context], name string, ctx *Context) error {
	defer a.metrics.ObserveChain(name, time.Now())
	return chain.Run(struct{}{}, ctx)
}

// reject answers a request refused by a pre-upgrade hook and ends its
// transport.
func (a *Application) reject(ctx *Context, err error) {
	httpErr := AsHTTPError(err)
	isServerError := IsServerError(httpErr)

	if writeErr := writeHTTPError(ctx.Raw(), httpErr); writeErr != nil {
		a.logger.Debug("failed to write rejection",
			slog.String("connection", ctx.ID()),
			slog.String("error", writeErr.Error()),
		)
	}

	a.metrics.UpgradeRejected(httpErr.Status)
	a.metrics.Fault(phasePreUpgrade, isServerError)
	if isServerError {
		a.logger.Error("upgrade hook failed",
			slog.String("connection", ctx.ID()),
			slog.Int("status", httpErr.Status),
			slog.String("error", describeError(httpErr)),
		)
		a.report(httpErr, ctx)
	} else {
		a.logger.Debug("upgrade rejected",
			slog.String("connection", ctx.ID()),
			slog.Int("status", httpErr.Status),
		)
	}

	ctx.setState(StateRejected)
}

// handshakeFailed records a failed handshake. The handshaker has already
// answered the client.
func (a *Application) handshakeFailed(ctx *Context, err error) {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		httpErr = &HTTPError{
			Status:  http.StatusBadRequest,
			Message: http.StatusText(http.StatusBadRequest),
			Expose:  true,
			Err:     err,
		}
	}
	isServerError := IsServerError(httpErr)

	a.metrics.HandshakeFailed(httpErr.Status)
	a.metrics.Fault(phaseHandshake, isServerError)
	if isServerError {
		a.logger.Error("handshake failed",
			slog.String("connection", ctx.ID()),
			slog.String("error", describeError(httpErr)),
		)
		a.report(httpErr, ctx)
	} else {
		a.logger.Debug("handshake failed",
			slog.String("connection", ctx.ID()),
			slog.String("error", describeError(httpErr)),
		)
	}

	ctx.setState(StateClosed)
}

// fail closes an established connection after a hook fault.
func (a *Application) fail(ctx *Context, phase string, err error) {
	wsErr := AsWebSocketError(err)
	isServerError := IsServerError(wsErr)

	if ctx.IsOpen() {
		if closeErr := ctx.Close(wsErr.Code, wsErr.Reason()); closeErr != nil {
			a.logger.Debug("failed to close connection",
				slog.String("connection", ctx.ID()),
				slog.String("error", closeErr.Error()),
			)
		}
	}

	a.metrics.Fault(phase, isServerError)
	if isServerError {
		a.logger.Error("hook failed",
			slog.String("connection", ctx.ID()),
			slog.String("phase", phase),
			slog.Int("code", int(wsErr.Code)),
			slog.String("error", describeError(wsErr)),
		)
		a.report(wsErr, ctx)
	} else {
		a.logger.Debug("connection closed by hook",
			slog.String("connection", ctx.ID()),
			slog.String("phase", phase),
			slog.Int("code", int(wsErr.Code)),
		)
	}
}

func (a *Application) report(err error, ctx *Context) {
	a.observersMu.RLock()
	observers := make([]ErrorObserver, len(a.observers))
	copy(observers, a.observers)
	a.observersMu.RUnlock()

	for _, observer := range observers {
		a.notify(observer, err, ctx)
	}
}

func (a *Application) notify(observer ErrorObserver, err error, ctx *Context) {
	defer func() {
		if maybeErr := recover(); maybeErr != nil {
			a.logger.Error("error observer panicked",
				slog.String("connection", ctx.ID()),
				slog.Any("panic", maybeErr),
			)
		}
	}()
	observer(err, ctx)
}

func (a *Application) getHandshaker() Handshaker {
	if a.handshaker != nil {
		return a.handshaker
	}
	return &AcceptHandshaker{
		OriginPatterns: a.origins,
		Subprotocols:   a.subprotocols,
		ReadLimit:      a.readLimit,
	}
}

func isWebsocketUpgradeRequest(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}

// describeError returns the most specific message available for logs,
// including the text of a wrapped cause that is hidden from clients.
func describeError(err error) string {
	if cause := errors.Unwrap(err); cause != nil {
		return err.Error() + ": " + cause.Error()
	}
	return err.Error()
}
