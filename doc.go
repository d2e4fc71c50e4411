// Package lucets upgrades HTTP requests to WebSocket connections through
// chains of hooks.
//
// An Application owns three hook chains. Pre-upgrade hooks run before the
// handshake and may reject the request. Post-upgrade hooks run once the
// connection is established. Message hooks run for every inbound message
// after it has been decoded.
//
// # Quick Start
//
//	app := lucets.NewApplication()
//
//	app.UseUpgrade(lucets.PreUpgrade, func(ctx *lucets.Context, next hooks.Next) error {
//	    token := ctx.Headers().Get("Authorization")
//	    if token == "" {
//	        return lucets.NewHTTPError(http.StatusUnauthorized, "missing token")
//	    }
//	    ctx.Set("token", token)
//	    return next()
//	})
//
//	app.UseUpgrade(lucets.PostUpgrade, func(ctx *lucets.Context, next hooks.Next) error {
//	    if err := ctx.Send(map[string]any{"hello": ctx.ID()}); err != nil {
//	        return err
//	    }
//	    return next()
//	})
//
//	app.UseMessage(func(msg *lucets.Message, ctx *lucets.Context, next hooks.Next) error {
//	    return ctx.Send(msg.Data)
//	})
//
//	app.OnError(func(err error, ctx *lucets.Context) {
//	    log.Printf("connection %s: %v", ctx.ID(), err)
//	})
//
//	http.ListenAndServe(":8080", app)
//
// # Hooks
//
// A hook calls next to continue the chain, returns nil without calling next
// to end it, or returns an error to abort it. See package hooks for the
// chain semantics.
//
// # Errors
//
// Errors are translated once per phase:
//
//   - Before the upgrade, an *HTTPError becomes the HTTP response. Any other
//     error becomes a 500 whose body is the reason phrase.
//   - After the upgrade, a *WebSocketError closes the connection with its
//     code. Any other error closes it with 4500.
//   - A message that cannot be decoded closes the connection with 4400.
//
// Messages are only sent to the client when the error is exposed, which is
// the default for client faults. Server faults (5xx and 45xx, or any error
// without a status) are passed to the observers registered with OnError.
//
// # Connection Capabilities
//
// Context.Send and Context.Close only work while the connection is live.
// Once it closes they return ErrConnectionNotOpen, and the context, which is
// also a context.Context, is cancelled.
package lucets
