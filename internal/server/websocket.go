package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/michaelbrown/crucible/internal/report"
	"github.com/michaelbrown/crucible/internal/request"
	"github.com/michaelbrown/crucible/internal/runner"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // deployed behind the platform gateway
	},
}

// wsIncoming is a message from the client. ID names the run a "cancel"
// message targets.
type wsIncoming struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	request.Encoded
}

// wsOutgoing is a message to the client.
type wsOutgoing struct {
	Type        string         `json:"type"`
	ID          string         `json:"id,omitempty"`
	Result      *report.Result `json:"result,omitempty"`
	Content     string         `json:"content,omitempty"`
	Environment bool           `json:"environment,omitempty"`
}

// wsConn serializes writes to one connection and tracks the runs it owns.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex

	runsMu sync.Mutex
	runs   map[string]struct{}
}

func (c *wsConn) own(id string) {
	c.runsMu.Lock()
	c.runs[id] = struct{}{}
	c.runsMu.Unlock()
}

func (c *wsConn) release(id string) {
	c.runsMu.Lock()
	delete(c.runs, id)
	c.runsMu.Unlock()
}

func (c *wsConn) owns(id string) bool {
	c.runsMu.Lock()
	defer c.runsMu.Unlock()
	_, ok := c.runs[id]
	return ok
}

// handleWebSocket serves runs over one connection. Each "run" message is
// answered with "started" and later "result" or "error"; runs proceed
// concurrently and the client may stop one with {"type":"cancel","id":...}.
// Runs still in flight when the connection closes are cancelled.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn, runs: make(map[string]struct{})}

	// Hijacked connections keep r.Context() alive; runs hang off a context
	// that ends with the read loop.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		var msg wsIncoming
		if err := conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				s.wsWriteJSON(c, wsOutgoing{Type: "error", Content: "invalid JSON: " + err.Error()})
				continue
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			return
		}

		switch msg.Type {
		case "run":
			id := uuid.NewString()
			c.own(id)
			s.wsWriteJSON(c, wsOutgoing{Type: "started", ID: id})

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer c.release(id)
				s.wsRun(ctx, c, id, msg.Encoded)
			}()
		case "cancel":
			if !c.owns(msg.ID) || !s.active.Cancel(msg.ID) {
				s.wsWriteJSON(c, wsOutgoing{Type: "error", ID: msg.ID, Content: "no active run " + msg.ID})
			}
		default:
			s.wsWriteJSON(c, wsOutgoing{Type: "error", Content: "invalid message type " + msg.Type})
		}
	}
}

func (s *Server) wsRun(ctx context.Context, c *wsConn, id string, enc request.Encoded) {
	res, err := s.execute(ctx, id, enc)
	if err != nil {
		s.wsWriteJSON(c, wsOutgoing{
			Type:        "error",
			ID:          id,
			Content:     err.Error(),
			Environment: runner.IsEnvironment(err),
		})
		return
	}
	s.wsWriteJSON(c, wsOutgoing{Type: "result", ID: id, Result: &res})
}

func (s *Server) wsWriteJSON(c *wsConn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("websocket marshal failed", slog.String("error", err.Error()))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("websocket write failed", slog.String("error", err.Error()))
	}
}
