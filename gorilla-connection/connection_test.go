package gorillaconnection

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	coder "github.com/coder/websocket"
	"github.com/gorilla/websocket"
	"github.com/lucets/lucets"
	"github.com/lucets/lucets/hooks"
)

func setupApplication(t *testing.T) (*lucets.Application, string) {
	t.Helper()

	app := lucets.NewApplication()
	app.SetHandshaker(&Handshaker{})

	server := httptest.NewServer(app)
	t.Cleanup(server.Close)

	return app, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestGorillaConnectionEcho(t *testing.T) {
	app, url := setupApplication(t)
	app.UseMessage(func(msg *lucets.Message, ctx *lucets.Context, next hooks.Next) error {
		return ctx.Send(msg.Data)
	})

	conn := dial(t, url)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"ping":true}`)); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if messageType != websocket.TextMessage {
		t.Errorf("expected text message, got %d", messageType)
	}
	if string(data) != `{"ping":true}` {
		t.Errorf("unexpected echo %s", data)
	}
}

func TestGorillaConnectionCloseFromHook(t *testing.T) {
	app, url := setupApplication(t)
	app.UseMessage(func(msg *lucets.Message, ctx *lucets.Context, next hooks.Next) error {
		return lucets.NewWebSocketError(lucets.StatusUnauthorized, "token expired")
	})

	conn := dial(t, url)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{}`)); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected a close error, got %v", err)
	}
	if closeErr.Code != 4401 || closeErr.Text != "token expired" {
		t.Errorf("expected 4401 token expired, got %d %q", closeErr.Code, closeErr.Text)
	}
}

func TestGorillaConnectionPeerClose(t *testing.T) {
	app, url := setupApplication(t)

	done := make(chan *lucets.Context, 1)
	app.UseUpgrade(lucets.PostUpgrade, func(ctx *lucets.Context, next hooks.Next) error {
		go func() {
			<-ctx.Done()
			done <- ctx
		}()
		return next()
	})

	conn := dial(t, url)
	payload := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	select {
	case ctx := <-done:
		if err := ctx.Send(map[string]any{}); !errors.Is(err, lucets.ErrConnectionNotOpen) {
			t.Errorf("expected ErrConnectionNotOpen, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for the connection to end")
	}
}

func TestCloseError(t *testing.T) {
	err := closeError(&websocket.CloseError{Code: 4403, Text: "nope"})
	if status := coder.CloseStatus(err); status != 4403 {
		t.Errorf("expected status 4403, got %d", status)
	}

	plain := errors.New("broken pipe")
	if closeError(plain) != plain {
		t.Error("expected other errors to pass through")
	}
}

func TestMessageTypes(t *testing.T) {
	if toMessageType(websocket.BinaryMessage) != lucets.MessageBinary {
		t.Error("expected binary")
	}
	if toMessageType(websocket.TextMessage) != lucets.MessageText {
		t.Error("expected text")
	}
	if fromMessageType(lucets.MessageBinary) != websocket.BinaryMessage {
		t.Error("expected binary")
	}
	if fromMessageType(lucets.MessageText) != websocket.TextMessage {
		t.Error("expected text")
	}
}
