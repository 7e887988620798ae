package gateway

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"quartermaster/internal/domain"
)

// DefaultChannelID is used when a message arrives without a ChannelID.
const DefaultChannelID = "default"

// WSMessage is the JSON message protocol for the WebSocket gateway.
// Example: {"type":"chat","content":"how many bmats?","channelId":"ops","context":{"regimentId":"42"}}
type WSMessage struct {
	Type      string              `json:"type"`
	Content   string              `json:"content,omitempty"`
	ChannelID string              `json:"channelId,omitempty"`
	Context   *domain.TurnContext `json:"context,omitempty"`
}

// jsonMarshal is used when encoding WSMessage; tests may replace it to force Marshal errors.
var (
	jsonMarshalMu sync.RWMutex
	jsonMarshal   = json.Marshal
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS runs a read loop on one connection. "chat" messages go through the
// channel router bracketed by typing_start/typing_stop; "ping" answers
// "pong"; anything else is an error frame. Channels are prefixed "ws-" so
// they never share history with chat transports.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log().Debug("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(msg WSMessage) { writeWSMessage(conn, &writeMu, &msg) }
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in WSMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			send(WSMessage{Type: "error", Content: "invalid JSON"})
			continue
		}
		channelID := in.ChannelID
		if channelID == "" {
			channelID = DefaultChannelID
		}

		switch in.Type {
		case "ping":
			send(WSMessage{Type: "pong", ChannelID: channelID})
		case "chat":
			if s.deps.Router == nil {
				send(WSMessage{Type: "error", Content: "chat is not configured", ChannelID: channelID})
				continue
			}
			var tc domain.TurnContext
			if in.Context != nil {
				tc = *in.Context
			}
			send(WSMessage{Type: "typing_start", ChannelID: channelID})
			reply, err := s.deps.Router.Route(r.Context(), "ws-"+channelID, in.Content, tc)
			if err != nil {
				s.log().Error("ws chat failed", "channel", channelID, "error", err)
				send(WSMessage{Type: "error", Content: err.Error(), ChannelID: channelID})
			} else {
				send(WSMessage{Type: "chat", Content: reply, ChannelID: channelID})
			}
			send(WSMessage{Type: "typing_stop", ChannelID: channelID})
		default:
			send(WSMessage{Type: "error", Content: "unknown message type " + in.Type, ChannelID: channelID})
		}
	}
}

func writeWSMessage(conn *websocket.Conn, mu *sync.Mutex, msg *WSMessage) {
	jsonMarshalMu.RLock()
	marshal := jsonMarshal
	jsonMarshalMu.RUnlock()
	data, err := marshal(msg)
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}
