package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"coursebot/internal/domain"
)

// WSMessage is the JSON protocol of /ws.
//
//	-> {"type":"query","content":"What is MCP?","sessionId":"session_..."}
//	<- {"type":"typing_start","sessionId":"..."}
//	<- {"type":"answer","content":"...","sources":[...],"sessionId":"..."}
//	<- {"type":"typing_stop","sessionId":"..."}
type WSMessage struct {
	Type      string            `json:"type"`
	Content   string            `json:"content,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	Sources   []domain.Citation `json:"sources,omitempty"`
}

const (
	wsTypeQuery       = "query"
	wsTypeAnswer      = "answer"
	wsTypeError       = "error"
	wsTypeTypingStart = "typing_start"
	wsTypeTypingStop  = "typing_stop"
)

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

// HandleWS upgrades to WebSocket and answers "query" messages in order over
// the same connection. The session id of the first answer is reused for
// later queries that omit one.
func HandleWS(w http.ResponseWriter, r *http.Request, svc QueryService, logger *slog.Logger) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	var sessionID string
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in WSMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			writeWSMessage(conn, &writeMu, &WSMessage{Type: wsTypeError, Content: "invalid JSON"})
			continue
		}
		if in.Type != wsTypeQuery {
			writeWSMessage(conn, &writeMu, &WSMessage{Type: wsTypeError, Content: "unsupported message type: " + in.Type})
			continue
		}
		if in.SessionID != "" {
			sessionID = in.SessionID
		}

		writeWSMessage(conn, &writeMu, &WSMessage{Type: wsTypeTypingStart, SessionID: sessionID})
		ans, err := svc.Query(r.Context(), in.Content, sessionID)
		if err != nil {
			writeWSMessage(conn, &writeMu, &WSMessage{Type: wsTypeError, Content: err.Error(), SessionID: sessionID})
		} else {
			sessionID = ans.SessionID
			writeWSMessage(conn, &writeMu, &WSMessage{
				Type: wsTypeAnswer, Content: ans.Text, Sources: ans.Sources, SessionID: sessionID,
			})
		}
		writeWSMessage(conn, &writeMu, &WSMessage{Type: wsTypeTypingStop, SessionID: sessionID})
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
