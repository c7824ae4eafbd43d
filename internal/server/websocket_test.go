package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"users-api/internal/auth"
	"users-api/internal/hub"
	"users-api/internal/store"
)

func dialUsers(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/users"
	if token != "" {
		wsURL += "?token=" + url.QueryEscape(token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func pingPong(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var resp map[string]any
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if resp["type"] != "pong" {
		t.Fatalf("expected pong, got %v", resp)
	}
}

func TestWebSocketPingPong(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokenCfg := auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	r := NewRouter(Deps{Users: store.NewMemory(), TokenConfig: tokenCfg})

	tok, err := auth.IssueToken("user-1", tokenCfg)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	srv := httptest.NewServer(r)
	defer srv.Close()

	pingPong(t, dialUsers(t, srv, tok))
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokenCfg := auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	srv := httptest.NewServer(NewRouter(Deps{Users: store.NewMemory(), TokenConfig: tokenCfg}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/users"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestWebSocketReceivesUserCreated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	events := hub.New()
	r := NewRouter(Deps{Users: store.NewMemory(), Hub: events})

	srv := httptest.NewServer(r)
	defer srv.Close()

	conn := dialUsers(t, srv, "")
	// A round trip guarantees the connection is registered.
	pingPong(t, conn)

	form := url.Values{"name": {"Ada"}, "address": {"12 Analytical St"}}
	resp, err := http.PostForm(srv.URL+"/users", form)
	if err != nil {
		t.Fatalf("PostForm: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg hub.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Type != "update" || msg.Event != hub.EventUserCreated {
		t.Fatalf("unexpected message: %+v", msg)
	}
	body, ok := msg.Body.(map[string]any)
	if !ok || body["name"] != "Ada" {
		t.Fatalf("unexpected body: %#v", msg.Body)
	}
}
