package handler

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rdrelay/internal/broker"
	"rdrelay/internal/metrics"
	"rdrelay/internal/middleware"
	"rdrelay/internal/protocol"
	"rdrelay/internal/registry"
	"rdrelay/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errSendQueueFull = errors.New("send queue full")

// wsSender pushes outbound messages through a bounded queue drained by a
// single writer goroutine. Write never blocks: a full queue drops the
// connection instead of stalling the broker.
type wsSender struct {
	conn  *websocket.Conn
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func newWSSender(conn *websocket.Conn, depth int) *wsSender {
	s := &wsSender{
		conn:  conn,
		queue: make(chan []byte, depth),
		done:  make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *wsSender) Write(message []byte) error {
	select {
	case <-s.done:
		return errors.New("connection closed")
	case s.queue <- message:
		return nil
	default:
		s.Close()
		return errSendQueueFull
	}
}

func (s *wsSender) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *wsSender) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case message := <-s.queue:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.Close()
				return
			}
		}
	}
}

// WebSocketHandler owns the relay protocol endpoint. Every device and
// controller holds exactly one connection here for its whole lifetime.
type WebSocketHandler struct {
	Registry    *registry.Registry
	Sessions    *session.Manager
	Broker      *broker.Broker
	Metrics     *metrics.Metrics
	Violations  *middleware.ViolationTracker
	Broadcaster *DeviceListBroadcaster
	Log         *zap.Logger
	TokenConfig session.TokenConfig

	// RequireAuth gates control traffic behind an auth exchange. Set
	// when users are configured.
	RequireAuth    bool
	SendQueueDepth int
	MaxMessageSize int64
}

func (h *WebSocketHandler) Serve(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	if h.MaxMessageSize > 0 {
		ws.SetReadLimit(h.MaxMessageSize)
	}

	// The first message announces who is connecting. Anything else is a
	// protocol violation and the socket is dropped before registration.
	ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return
	}
	msg, err := protocol.Decode(data)
	if err != nil || msg.Type != protocol.TypeConnect {
		h.Metrics.ProtocolErrorsTotal.Inc()
		_ = ws.Close()
		return
	}
	var info protocol.DeviceInfo
	if err := msg.DecodePayload(&info); err != nil || info.DeviceID == "" ||
		(info.Role != protocol.RoleController && info.Role != protocol.RoleControlled) {
		h.Metrics.ProtocolErrorsTotal.Inc()
		_ = ws.Close()
		return
	}
	ws.SetReadDeadline(time.Time{})

	// A reconnecting device supersedes its previous connection.
	if prior, ok := h.Registry.FindByDeviceID(info.DeviceID); ok {
		h.Log.Info("replacing stale connection",
			zap.String("device_id", info.DeviceID),
			zap.String("old_conn", prior.ID))
		_ = h.Registry.Unregister(prior.ID)
	}

	connID := uuid.NewString()
	sender := newWSSender(ws, h.SendQueueDepth)
	conn, err := h.Registry.Register(connID, info.DeviceID, info.Name, info.Role, info.Capabilities, sender)
	if err != nil {
		_ = sender.Close()
		return
	}
	h.Metrics.ActiveConnections.WithLabelValues(info.Role).Inc()
	h.Log.Info("connection registered",
		zap.String("conn", connID),
		zap.String("device_id", info.DeviceID),
		zap.String("role", info.Role))

	defer func() {
		_ = h.Registry.Unregister(connID)
		h.Violations.Forget(connID)
		h.Metrics.ActiveConnections.WithLabelValues(info.Role).Dec()
		h.Broadcaster.Broadcast()
		h.Log.Info("connection closed", zap.String("conn", connID))
	}()

	h.reply(connID, protocol.TypeAck, protocol.Ack{Status: conn.Status})
	h.Broadcaster.Broadcast()

	done := make(chan struct{})
	defer close(done)
	go pingLoop(ws, done)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if !h.dispatch(connID, info.Role, data) {
			return
		}
	}
}

func pingLoop(ws *websocket.Conn, done <-chan struct{}) {
	const pingPeriod = 54 * time.Second
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}

// dispatch routes one inbound message. A false return tells the read
// loop to drop the connection.
func (h *WebSocketHandler) dispatch(connID, role string, data []byte) bool {
	msg, err := protocol.Decode(data)
	if err != nil {
		h.Metrics.ProtocolErrorsTotal.Inc()
		h.sendError(connID, "malformed_message", "message could not be decoded")
		return h.recordViolation(connID)
	}

	switch msg.Type {
	case protocol.TypeHeartbeat:
		_ = h.Registry.Touch(connID)
		h.reply(connID, protocol.TypeHeartbeat, protocol.Heartbeat{Timestamp: time.Now().UnixMilli()})

	case protocol.TypeAuth:
		h.handleAuth(connID, msg)

	case protocol.TypeDeviceList:
		h.Broadcaster.SendTo(connID)

	case protocol.TypeControlRequest:
		if role != protocol.RoleController {
			h.sendError(connID, "invalid_role", "only controllers may request control")
			return h.recordViolation(connID)
		}
		if h.RequireAuth && !h.Sessions.Authenticated(connID) {
			h.sendError(connID, "not_authenticated", "authenticate before requesting control")
			return true
		}
		var req protocol.ControlRequest
		if err := msg.DecodePayload(&req); err != nil {
			h.Metrics.ProtocolErrorsTotal.Inc()
			return h.recordViolation(connID)
		}
		h.Broker.RequestControl(connID, req)

	case protocol.TypeControlResponse:
		var resp protocol.ControlResponse
		if err := msg.DecodePayload(&resp); err != nil {
			h.Metrics.ProtocolErrorsTotal.Inc()
			return h.recordViolation(connID)
		}
		h.Broker.HandleControlResponse(connID, resp)

	case protocol.TypeEndControl:
		var end protocol.EndControl
		_ = msg.DecodePayload(&end)
		reason := end.Reason
		if reason == "" {
			reason = "ended"
		}
		h.Broker.EndControl(connID, reason)

	case protocol.TypeScreenFrame:
		h.Broker.RelayFrame(connID, msg)

	case protocol.TypeMouseEvent, protocol.TypeKeyboardEvent:
		h.Broker.RelayInput(connID, msg)

	case protocol.TypeConnect:
		h.sendError(connID, "already_connected", "connection already announced")
		return h.recordViolation(connID)

	default:
		h.Metrics.ProtocolErrorsTotal.Inc()
		h.sendError(connID, "unexpected_message", string(msg.Type)+" is not accepted here")
		return h.recordViolation(connID)
	}
	return true
}

func (h *WebSocketHandler) handleAuth(connID string, msg *protocol.Message) {
	var creds protocol.Auth
	if err := msg.DecodePayload(&creds); err != nil {
		h.Metrics.ProtocolErrorsTotal.Inc()
		h.sendError(connID, "malformed_message", "auth payload could not be decoded")
		return
	}

	sess, err := h.Sessions.Authenticate(connID, creds.Username, creds.Password)
	if err != nil {
		h.Log.Warn("authentication failed",
			zap.String("conn", connID),
			zap.String("username", creds.Username))
		h.sendError(connID, "auth_failed", "invalid credentials")
		return
	}

	ack := protocol.Ack{Status: protocol.StatusAuthenticated, SessionID: sess.ID}
	if h.TokenConfig.Secret != "" {
		tok, err := session.CreateToken(sess, h.TokenConfig)
		if err != nil {
			h.Log.Error("token mint failed", zap.Error(err))
		} else {
			ack.Token = tok
		}
	}
	_ = h.Registry.UpdateStatus(connID, protocol.StatusAuthenticated)
	h.reply(connID, protocol.TypeAck, ack)
	h.Broadcaster.Broadcast()
}

// recordViolation reports whether the connection may continue.
func (h *WebSocketHandler) recordViolation(connID string) bool {
	if h.Violations.Record(connID) {
		return true
	}
	h.Log.Warn("violation limit crossed, dropping connection", zap.String("conn", connID))
	return false
}

func (h *WebSocketHandler) reply(connID string, t protocol.Type, payload interface{}) {
	msg, err := protocol.New(t, payload)
	if err != nil {
		return
	}
	out, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	_ = h.Registry.Send(connID, out)
}

func (h *WebSocketHandler) sendError(connID, code, message string) {
	h.reply(connID, protocol.TypeError, protocol.ErrorInfo{Code: code, Message: message})
}
