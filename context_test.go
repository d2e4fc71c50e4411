package lucets_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/lucets/lucets"
	"github.com/lucets/lucets/hooks"
)

func TestContextGetSetDelete(t *testing.T) {
	app, server := setupApplication()
	defer server.Close()

	app.UseMessage(func(msg *lucets.Message, ctx *lucets.Context, next hooks.Next) error {
		ctx.Set("key1", "value1")
		ctx.Set("key2", 42)

		val1, ok1 := ctx.Get("key1")
		if !ok1 || val1 != "value1" {
			t.Errorf("expected key1='value1', got ok=%v, val=%v", ok1, val1)
		}
		if val2 := ctx.MustGet("key2"); val2 != 42 {
			t.Errorf("expected key2=42, got %v", val2)
		}

		ctx.Delete("key1")
		if _, ok := ctx.Get("key1"); ok {
			t.Error("expected key1 to be deleted")
		}

		func() {
			defer func() {
				if recover() == nil {
					t.Error("expected MustGet to panic for a missing key")
				}
			}()
			ctx.MustGet("nonexistent")
		}()

		return ctx.Send(map[string]any{"msg": "success"})
	})

	conn, ctx := dialWebSocket(t, server.URL)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	writeJSON(t, conn, ctx, map[string]any{})
	if response := readJSON(t, conn, ctx); response["msg"] != "success" {
		t.Errorf("expected 'success', got %v", response["msg"])
	}
}

func TestContextRequestDetails(t *testing.T) {
	app, server := setupApplication()
	defer server.Close()

	details := make(chan map[string]string, 1)
	app.UseUpgrade(lucets.PreUpgrade, func(ctx *lucets.Context, next hooks.Next) error {
		details <- map[string]string{
			"header":     ctx.Headers().Get("X-Client"),
			"path":       ctx.Request().URL.Path,
			"remoteAddr": ctx.RemoteAddr(),
		}
		return next()
	})

	conn, _, err := websocket.Dial(context.Background(), server.URL+"/chat", &websocket.DialOptions{
		HTTPHeader: http.Header{"X-Client": {"tests"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	got := <-details
	if got["header"] != "tests" {
		t.Errorf("expected X-Client header, got %q", got["header"])
	}
	if got["path"] != "/chat" {
		t.Errorf("expected /chat, got %q", got["path"])
	}
	if got["remoteAddr"] == "" {
		t.Error("expected a remote address")
	}
}

func TestContextIDsAreUnique(t *testing.T) {
	app, server := setupApplication()
	defer server.Close()

	ids := make(chan string, 10)
	app.UseUpgrade(lucets.PostUpgrade, func(ctx *lucets.Context, next hooks.Next) error {
		ids <- ctx.ID()
		return next()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, _, err := websocket.Dial(context.Background(), server.URL, nil)
			if err != nil {
				t.Error(err)
				return
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		var id string
		select {
		case id = <-ids:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for connection id")
		}
		if id == "" || seen[id] {
			t.Errorf("expected unique non-empty id, got %q", id)
		}
		seen[id] = true
	}
}

func TestContextStatesByPhase(t *testing.T) {
	app, server := setupApplication()
	defer server.Close()

	var mu sync.Mutex
	states := map[string]lucets.ConnectionState{}
	record := func(phase string, ctx *lucets.Context) {
		mu.Lock()
		states[phase] = ctx.State()
		mu.Unlock()
	}

	app.UseUpgrade(lucets.PreUpgrade, func(ctx *lucets.Context, next hooks.Next) error {
		record("pre", ctx)
		return next()
	})
	app.UseUpgrade(lucets.PostUpgrade, func(ctx *lucets.Context, next hooks.Next) error {
		record("post", ctx)
		return next()
	})
	app.UseMessage(func(msg *lucets.Message, ctx *lucets.Context, next hooks.Next) error {
		record("message", ctx)
		if ctx.Err() != nil {
			t.Errorf("expected an open context, got %v", ctx.Err())
		}
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline")
		}
		return ctx.Send(map[string]any{})
	})

	conn, ctx := dialWebSocket(t, server.URL)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	writeJSON(t, conn, ctx, map[string]any{})
	readJSON(t, conn, ctx)

	mu.Lock()
	defer mu.Unlock()
	want := map[string]lucets.ConnectionState{
		"pre":     lucets.StatePreUpgrade,
		"post":    lucets.StatePostUpgrade,
		"message": lucets.StateEstablished,
	}
	for phase, state := range want {
		if states[phase] != state {
			t.Errorf("expected %s state in %s hooks, got %s", state, phase, states[phase])
		}
	}
}

func TestContextSendConcurrently(t *testing.T) {
	app, server := setupApplication()
	defer server.Close()

	app.UseUpgrade(lucets.PostUpgrade, func(ctx *lucets.Context, next hooks.Next) error {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				if err := ctx.Send(map[string]any{"n": n}); err != nil {
					t.Errorf("send failed: %v", err)
				}
			}(i)
		}
		wg.Wait()
		return next()
	})

	conn, ctx := dialWebSocket(t, server.URL)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	deadline := time.Now().Add(5 * time.Second)
	seen := map[float64]bool{}
	for len(seen) < 20 && time.Now().Before(deadline) {
		n, _ := readJSON(t, conn, ctx)["n"].(float64)
		seen[n] = true
	}
	if len(seen) != 20 {
		t.Errorf("expected 20 distinct messages, got %d", len(seen))
	}
}
