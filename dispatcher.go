package lucets

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/coder/websocket"
	"github.com/lucets/lucets/metrics"
)

// handleNextMessage reads one message from the connection and runs it
// through the message chain. It returns false once the connection has
// closed.
func (a *Application) handleNextMessage(ctx *Context, conn SocketConnection) bool {
	socketMessage, err := conn.Read(ctx)
	if err != nil {
		a.logReadError(ctx, err)
		return false
	}

	data, err := a.codec.Decode(socketMessage.Data)
	if err != nil {
		a.metrics.MessageRejected()
		wsErr := NewWebSocketError(StatusBadRequest, "")
		wsErr.Err = err
		a.fail(ctx, phaseMessage, wsErr)
		return true
	}

	message := &Message{
		Type:    socketMessage.Type,
		RawData: socketMessage.Data,
		Data:    data,
		codec:   a.codec,
	}

	start := time.Now()
	err = a.messageHooks.Run(message, ctx)
	a.metrics.ObserveChain(metrics.ChainMessage, start)
	if err != nil {
		a.metrics.MessageFailed()
		a.fail(ctx, phaseMessage, err)
		return true
	}

	a.metrics.MessageHandled()
	return true
}

func (a *Application) logReadError(ctx *Context, err error) {
	status := websocket.CloseStatus(err)
	expected := status != -1 ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		!ctx.IsOpen()

	if expected {
		a.logger.Debug("connection closed",
			slog.String("connection", ctx.ID()),
			slog.Int("code", int(status)),
		)
		return
	}

	a.logger.Warn("socket read failed",
		slog.String("connection", ctx.ID()),
		slog.String("error", err.Error()),
	)
}
