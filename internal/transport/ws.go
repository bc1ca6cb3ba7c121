package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/mlexpertio/neuromind/internal/protocol"
)

// handleChatWS runs one turn over a WebSocket: the client sends a single
// {"content"} message, the server answers with one text message per event
// and closes after the terminal one.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := validThreadName(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket accept", "err", err)
		return
	}
	conn.SetReadLimit(512 * 1024)
	defer conn.CloseNow()

	ctx := r.Context()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return
	}
	var req chatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		conn.Close(websocket.StatusUnsupportedData, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		conn.Close(websocket.StatusPolicyViolation, "content is required")
		return
	}

	t, _, err := s.store.GetOrCreateThread(name, s.personas.Default())
	if err != nil {
		s.log.Error("get or create thread", "err", err)
		conn.Close(websocket.StatusInternalError, "get or create thread failed")
		return
	}

	turn := s.engine.NewTurn(t, req.Content, &wsSink{conn: conn, ctx: ctx})
	turn.Run(ctx)
	conn.Close(websocket.StatusNormalClosure, "")
}

type wsSink struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (s *wsSink) Send(ev protocol.Event) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(s.ctx, sinkWriteTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// wsSource reads events from a chat WebSocket.
type wsSource struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (s *wsSource) Next() (protocol.Event, error) {
	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil, io.EOF
			}
			return nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		ev, err := protocol.Decode(data)
		if err != nil {
			// unknown or malformed events are skipped, as in SSE
			continue
		}
		return ev, nil
	}
}
