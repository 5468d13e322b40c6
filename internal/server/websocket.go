package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vipcre/portal/internal/identity"
	"github.com/vipcre/portal/internal/logging"
	"github.com/vipcre/portal/internal/metrics"
	"github.com/vipcre/portal/internal/usage"
)

// WebSocket message types for the live usage stream.
const (
	MessageTypeSummary   = "usage_summary"
	MessageTypeError     = "error"
	MessageTypeHeartbeat = "heartbeat"
)

// WSMessage is one frame pushed to the dashboard.
type WSMessage struct {
	Type      string         `json:"type"`
	Summary   *usage.Summary `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// wsConnection is one live dashboard subscriber.
type wsConnection struct {
	conn      *websocket.Conn
	server    *Server
	subjectID string
	sessionID string

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *Server) upgrader() websocket.Upgrader {
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	allowAll := len(s.cfg.AllowedOrigins) == 0
	for _, origin := range s.cfg.AllowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}
}

// handleUsageStream upgrades the connection and pushes the subject's usage
// summary on an interval until the client goes away.
func (s *Server) handleUsageStream(w http.ResponseWriter, r *http.Request, p *identity.Principal) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	ws := &wsConnection{
		conn:      conn,
		server:    s,
		subjectID: p.SubjectID,
		sessionID: logging.NewCorrelationID(),
		ctx:       ctx,
		cancel:    cancel,
	}

	metrics.WebSocketConnections.Inc()
	s.logger.Info("usage stream opened",
		zap.String("session_id", ws.sessionID), zap.String("subject_id", p.SubjectID))

	go ws.readLoop()
	ws.pushLoop()
}

// readLoop drains client frames. The dashboard sends nothing meaningful; the
// read is what detects the close.
func (ws *wsConnection) readLoop() {
	defer ws.cancel()
	for {
		if _, _, err := ws.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				ws.server.logger.Warn("usage stream read error",
					zap.String("session_id", ws.sessionID), zap.Error(err))
			}
			return
		}
		metrics.WebSocketMessagesTotal.WithLabelValues("inbound").Inc()
	}
}

func (ws *wsConnection) pushLoop() {
	defer func() {
		ws.cancel()
		ws.conn.Close()
		metrics.WebSocketConnections.Dec()
		ws.server.logger.Info("usage stream closed", zap.String("session_id", ws.sessionID))
	}()

	// first frame immediately so the dashboard does not render empty
	ws.pushSummary()

	summaryTicker := time.NewTicker(ws.server.cfg.StreamInterval)
	defer summaryTicker.Stop()
	heartbeatTicker := time.NewTicker(30 * time.Second)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ws.ctx.Done():
			return
		case <-summaryTicker.C:
			if !ws.pushSummary() {
				return
			}
		case <-heartbeatTicker.C:
			if err := ws.send(&WSMessage{Type: MessageTypeHeartbeat, Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}

func (ws *wsConnection) pushSummary() bool {
	summary, err := ws.server.service.UsageSummary(ws.ctx, ws.subjectID, ws.server.cfg.SummaryDays)
	if err != nil {
		_ = ws.send(&WSMessage{Type: MessageTypeError, Error: "usage summary unavailable", Timestamp: time.Now().UTC()})
		return true
	}
	return ws.send(&WSMessage{Type: MessageTypeSummary, Summary: summary, Timestamp: time.Now().UTC()}) == nil
}

func (ws *wsConnection) send(msg *WSMessage) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	ws.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err := ws.conn.WriteJSON(msg)
	if err == nil {
		metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()
	}
	return err
}
