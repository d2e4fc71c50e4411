package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

const testSecret = "test-secret"

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := defaultConfig()
	cfg.JWTSecret = testSecret

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()
	app := newApplication(cfg, logger, registry)

	server := httptest.NewServer(newRouter(cfg, app, registry))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func readEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("failed to decode %s: %v", data, err)
	}
	return envelope
}

func TestServerHealthz(t *testing.T) {
	server := setupServer(t)

	res, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("expected 200 ok, got %d %q", res.StatusCode, body)
	}
}

func TestServerRejectsMissingToken(t *testing.T) {
	server := setupServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, res, err := websocket.Dial(ctx, wsURL(server, "/ws"), nil)
	if err == nil {
		t.Fatal("expected the upgrade to fail")
	}
	if res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", res)
	}
	if res.Header.Get("WWW-Authenticate") == "" {
		t.Error("expected a WWW-Authenticate header")
	}
}

func TestServerRejectsInvalidToken(t *testing.T) {
	server := setupServer(t)

	token, err := signToken("alice", "wrong-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, res, err := websocket.Dial(ctx, wsURL(server, "/ws?token="+token), nil)
	if err == nil {
		t.Fatal("expected the upgrade to fail")
	}
	if res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", res)
	}
}

func TestServerWelcomeAndEcho(t *testing.T) {
	server := setupServer(t)

	token, err := signToken("alice", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(server, "/ws"), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + token}},
	})
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.CloseNow()

	welcome := readEnvelope(t, ctx, conn)
	if welcome["type"] != "welcome" || welcome["user"] != "alice" {
		t.Errorf("unexpected welcome %v", welcome)
	}
	if id, _ := welcome["connection"].(string); id == "" {
		t.Errorf("expected a connection id, got %v", welcome["connection"])
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"n":1}`)); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	echo := readEnvelope(t, ctx, conn)
	data, _ := echo["data"].(map[string]any)
	if echo["type"] != "echo" || data["n"] != float64(1) {
		t.Errorf("unexpected echo %v", echo)
	}

	res, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), `lucets_upgrades_total{result="accepted",status="101"} 1`) {
		t.Errorf("expected the accepted upgrade in metrics, got:\n%s", body)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		query  string
		want   string
	}{
		{"Bearer abc", "", "abc"},
		{"bearer abc", "", "abc"},
		{"Basic abc", "", ""},
		{"", "xyz", "xyz"},
		{"Bearer abc", "xyz", "abc"},
		{"", "", ""},
	}

	for _, test := range tests {
		req := httptest.NewRequest(http.MethodGet, "/ws?token="+test.query, nil)
		if test.header != "" {
			req.Header.Set("Authorization", test.header)
		}
		if got := bearerToken(req); got != test.want {
			t.Errorf("bearerToken(%q, %q) = %q, want %q", test.header, test.query, got, test.want)
		}
	}
}
