package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dentaflow/labchat/internal/messaging"
	"github.com/gorilla/websocket"
)

func dialGateway(t *testing.T, g *Gateway) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.Serve(context.Background(), ws, 8)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func writeFrame(t *testing.T, ws *websocket.Conn, typ string, data any) {
	t.Helper()
	if err := ws.WriteJSON(envelope(t, typ, data)); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, ws *websocket.Conn) inbound {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f inbound
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func TestServe_RoundTrip(t *testing.T) {
	g := setupGateway(t, Opts{})
	c := createChat(t, g, "alice", "bob")
	ws := dialGateway(t, g)

	writeFrame(t, ws, EventRegister, RegisterPayload{Identity: "alice"})
	writeFrame(t, ws, EventJoinChat, ChatRef{ChatID: c.ID})
	writeFrame(t, ws, EventSendMessage, SendMessagePayload{
		ChatID:  c.ID,
		Message: messaging.Draft{Content: "margin looks clean"},
	})

	f := readFrame(t, ws)
	if f.Type != EventNewMessage {
		t.Fatalf("frame type = %q, want newMessage", f.Type)
	}
	var nm struct {
		ChatID  string `json:"chatId"`
		Message struct {
			Sender string   `json:"sender"`
			ReadBy []string `json:"readBy"`
		} `json:"message"`
	}
	if err := json.Unmarshal(f.Data, &nm); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if nm.ChatID != c.ID || nm.Message.Sender != "alice" || len(nm.Message.ReadBy) != 1 {
		t.Errorf("newMessage = %+v", nm)
	}
}

func TestServe_InvalidFrame(t *testing.T) {
	g := setupGateway(t, Opts{})
	ws := dialGateway(t, g)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readFrame(t, ws); f.Type != EventError {
		t.Errorf("frame type = %q, want error", f.Type)
	}
}

func TestServe_DisconnectCleansUp(t *testing.T) {
	g := setupGateway(t, Opts{})
	ws := dialGateway(t, g)
	writeFrame(t, ws, EventRegister, RegisterPayload{Identity: "bob"})
	writeFrame(t, ws, EventJoinChat, ChatRef{ChatID: "c1"})
	writeFrame(t, ws, EventTyping, TypingPayload{ChatID: "c1", IsTyping: true})

	deadline := time.Now().Add(5 * time.Second)
	for !g.Presence().IsActive("c1", "bob") {
		if time.Now().After(deadline) {
			t.Fatal("bob never became active")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ws.Close()
	for g.Presence().IsActive("c1", "bob") || g.SessionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session state not cleaned up after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := g.Registry().Lookup("bob"); ok {
		t.Error("bob still registered")
	}
}
