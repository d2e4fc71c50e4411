package msgpack

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/lucets/lucets"
	"github.com/lucets/lucets/hooks"
	"github.com/vmihailenco/msgpack/v5"
)

func TestCodecDecodeMap(t *testing.T) {
	data, _ := msgpack.Marshal(map[string]any{"name": "Alice", "age": 30})

	value, err := Codec{}.Decode(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", value)
	}
	if m["name"] != "Alice" {
		t.Errorf("expected name Alice, got %v", m["name"])
	}
}

func TestCodecDecodeArray(t *testing.T) {
	data, _ := msgpack.Marshal([]any{"a", "b"})

	value, err := Codec{}.Decode(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list, ok := value.([]any); !ok || len(list) != 2 {
		t.Errorf("expected two element list, got %#v", value)
	}
}

func TestCodecDecodeRejectsScalars(t *testing.T) {
	data, _ := msgpack.Marshal("just a string")

	_, err := Codec{}.Decode(data)
	if !errors.Is(err, lucets.ErrUnstructuredMessage) {
		t.Errorf("expected ErrUnstructuredMessage, got %v", err)
	}
}

func TestCodecDecodeInvalid(t *testing.T) {
	if _, err := (Codec{}).Decode([]byte{0xc1}); err == nil {
		t.Error("expected an error for an invalid payload")
	}
}

func TestCodecUnmarshal(t *testing.T) {
	type greeting struct {
		Name string `msgpack:"name"`
	}
	data, _ := msgpack.Marshal(map[string]any{"name": "Bob"})

	var g greeting
	if err := (Codec{}).Unmarshal(data, &g); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Name != "Bob" {
		t.Errorf("expected Bob, got %s", g.Name)
	}
}

func TestCodecWithApplication(t *testing.T) {
	app := lucets.NewApplication()
	app.SetCodec(Codec{})
	app.SetSubprotocols([]string{Subprotocol})
	app.UseMessage(func(msg *lucets.Message, ctx *lucets.Context, next hooks.Next) error {
		var in struct {
			Name string `msgpack:"name"`
		}
		if err := msg.Unmarshal(&in); err != nil {
			return err
		}
		return ctx.Send(map[string]string{"greeting": "hello " + in.Name})
	})

	server := httptest.NewServer(app)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.CloseNow()

	if conn.Subprotocol() != Subprotocol {
		t.Errorf("expected subprotocol %q, got %q", Subprotocol, conn.Subprotocol())
	}

	request, _ := msgpack.Marshal(map[string]any{"name": "Alice"})
	if err := conn.Write(ctx, websocket.MessageBinary, request); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if msgType != websocket.MessageBinary {
		t.Errorf("expected binary frame, got %v", msgType)
	}

	var response map[string]string
	if err := msgpack.Unmarshal(data, &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["greeting"] != "hello Alice" {
		t.Errorf("expected greeting, got %v", response)
	}
}
