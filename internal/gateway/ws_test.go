package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quartermaster/internal/domain"
)

type fakeRouter struct {
	mu    sync.Mutex
	reply string
	err   error
	chans []string
	tcs   []domain.TurnContext
}

func (f *fakeRouter) Route(_ context.Context, channelID, message string, tc domain.TurnContext) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chans = append(f.chans, channelID)
	f.tcs = append(f.tcs, tc)
	return f.reply + message, f.err
}

func (f *fakeRouter) seen() ([]string, []domain.TurnContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.chans...), append([]domain.TurnContext(nil), f.tcs...)
}

func dialWS(t *testing.T, deps Deps) *websocket.Conn {
	t.Helper()
	srv, err := NewServer(domain.GatewayConfig{}, deps)
	if err != nil {
		t.Fatal(err)
	}
	server := httptest.NewServer(srv.Handler())
	t.Cleanup(server.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out WSMessage
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return out
}

func TestWS_WhenChat_ShouldBracketReplyWithTyping(t *testing.T) {
	// Given
	rtr := &fakeRouter{reply: "re: "}
	conn := dialWS(t, Deps{Router: rtr})

	// When
	if err := conn.WriteJSON(WSMessage{Type: "chat", Content: "list stockpiles", ChannelID: "ops", Context: &domain.TurnContext{RegimentID: "42"}}); err != nil {
		t.Fatal(err)
	}

	// Then
	var types []string
	var reply WSMessage
	for range 3 {
		m := readWS(t, conn)
		types = append(types, m.Type)
		if m.Type == "chat" {
			reply = m
		}
	}
	if strings.Join(types, ",") != "typing_start,chat,typing_stop" {
		t.Errorf("frames: %v", types)
	}
	if reply.Content != "re: list stockpiles" || reply.ChannelID != "ops" {
		t.Errorf("reply: %+v", reply)
	}
	if chans, tcs := rtr.seen(); chans[0] != "ws-ops" || tcs[0].RegimentID != "42" {
		t.Errorf("routed: %v %+v", chans, tcs)
	}
}

func TestWS_WhenNoChannel_ShouldUseDefault(t *testing.T) {
	rtr := &fakeRouter{}
	conn := dialWS(t, Deps{Router: rtr})

	_ = conn.WriteJSON(WSMessage{Type: "chat", Content: "hi"})
	for range 3 {
		readWS(t, conn)
	}

	if chans, _ := rtr.seen(); chans[0] != "ws-"+DefaultChannelID {
		t.Errorf("got %v", chans)
	}
}

func TestWS_WhenRouterFails_ShouldSendErrorThenTypingStop(t *testing.T) {
	conn := dialWS(t, Deps{Router: &fakeRouter{err: errors.New("model down")}})

	_ = conn.WriteJSON(WSMessage{Type: "chat", Content: "hi"})

	readWS(t, conn)
	if m := readWS(t, conn); m.Type != "error" || m.Content != "model down" {
		t.Errorf("got %+v", m)
	}
	if m := readWS(t, conn); m.Type != "typing_stop" {
		t.Errorf("got %+v", m)
	}
}

func TestWS_Frames(t *testing.T) {
	cases := []struct {
		name    string
		deps    Deps
		raw     string
		want    string
		content string
	}{
		{"invalid json", Deps{}, "not json", "error", "invalid JSON"},
		{"ping", Deps{}, `{"type":"ping"}`, "pong", ""},
		{"chat without router", Deps{}, `{"type":"chat","content":"hi"}`, "error", "chat is not configured"},
		{"unknown type", Deps{}, `{"type":"dance"}`, "error", "unknown message type dance"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dialWS(t, tc.deps)

			_ = conn.WriteMessage(websocket.TextMessage, []byte(tc.raw))

			m := readWS(t, conn)
			if m.Type != tc.want || m.Content != tc.content {
				t.Errorf("got %+v", m)
			}
		})
	}
}

func TestWS_WhenMethodNotGet_ShouldReturn405(t *testing.T) {
	if rec := serve(t, Deps{}, http.MethodPost, "/ws", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("got %d", rec.Code)
	}
}

func TestWS_WhenNotUpgrade_ShouldReturn400(t *testing.T) {
	if rec := serve(t, Deps{}, http.MethodGet, "/ws", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("got %d", rec.Code)
	}
}

func TestWriteWSMessage_WhenMarshalFails_ShouldNotSend(t *testing.T) {
	jsonMarshalMu.Lock()
	old := jsonMarshal
	jsonMarshal = func(any) ([]byte, error) { return nil, errors.New("marshal fail") }
	jsonMarshalMu.Unlock()
	t.Cleanup(func() {
		jsonMarshalMu.Lock()
		jsonMarshal = old
		jsonMarshalMu.Unlock()
	})
	conn := dialWS(t, Deps{})

	_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var out WSMessage

	if err := conn.ReadJSON(&out); err == nil {
		t.Error("expected no reply when marshal fails")
	}
}
