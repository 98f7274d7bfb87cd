package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/config"
	"huddle/pkg/tracing"
	"huddle/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Envelope is the wire shape of every inbound message.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// ConnectedPayload announces the server-assigned connection id right after the
// upgrade completes.
type ConnectedPayload struct {
	ConnectionID domain.ConnectionID `json:"connection_id"`
}

// LeavePayload is the inbound payload of a leave-meeting event.
type LeavePayload struct {
	MeetingID domain.MeetingID `json:"meeting_id"`
}

// ConnectionObserver is notified when websocket connections open and close.
type ConnectionObserver interface {
	ConnectionOpened()
	ConnectionClosed()
}

// Gateway owns the websocket transport. It assigns connection ids, dispatches
// inbound events to the room and relay services, and implements
// ports.EventSender for everything the services push back out.
type Gateway struct {
	rooms ports.RoomService
	relay ports.RelayService

	mu       sync.RWMutex
	sessions map[domain.ConnectionID]*session

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	msgRate      rate.Limit
	msgBurst     int
	maxMsgSize   int64

	observer ConnectionObserver
	logger   *zap.SugaredLogger
}

// session is one live websocket connection. Writes are serialized through
// writeMu because gorilla/websocket allows only one concurrent writer.
type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter

	mu      sync.Mutex
	meeting domain.MeetingID
}

func (s *session) write(timeout time.Duration, msg outbound) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(timeout))
	return s.conn.WriteJSON(msg)
}

func (s *session) setMeeting(id domain.MeetingID) {
	s.mu.Lock()
	s.meeting = id
	s.mu.Unlock()
}

func (s *session) currentMeeting() domain.MeetingID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meeting
}

func NewGateway(cfg *config.Config, rooms ports.RoomService, relay ports.RelayService, observer ConnectionObserver, logger *zap.SugaredLogger) *Gateway {
	return &Gateway{
		rooms:        rooms,
		relay:        relay,
		sessions:     make(map[domain.ConnectionID]*session),
		pingInterval: cfg.Signal.PingInterval,
		pongTimeout:  cfg.Signal.PongTimeout,
		writeTimeout: cfg.Signal.WriteTimeout,
		msgRate:      rate.Limit(cfg.Signal.MessagesPerSecond),
		msgBurst:     cfg.Signal.Burst,
		maxMsgSize:   cfg.Signal.MaxMessageSizeBytes,
		observer:     observer,
		logger:       logger,
	}
}

// Send implements ports.EventSender.
func (g *Gateway) Send(id domain.ConnectionID, event string, payload any) error {
	g.mu.RLock()
	sess, ok := g.sessions[id]
	g.mu.RUnlock()

	if !ok {
		return fmt.Errorf("connection %s is not open", id)
	}
	return sess.write(g.writeTimeout, outbound{Event: event, Payload: payload})
}

// IsConnected implements ports.EventSender.
func (g *Gateway) IsConnected(id domain.ConnectionID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.sessions[id]
	return ok
}

// ConnectionCount reports the number of open websocket sessions.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connID := domain.ConnectionID(utils.GenerateConnectionID())
	sess := &session{
		conn:    conn,
		limiter: rate.NewLimiter(g.msgRate, g.msgBurst),
	}

	g.mu.Lock()
	g.sessions[connID] = sess
	g.mu.Unlock()

	if g.observer != nil {
		g.observer.ConnectionOpened()
	}
	g.logger.Infow("connection opened", "connection_id", connID)

	// The connection id is server-assigned; the client learns it from this
	// first frame and uses it in every subsequent exchange.
	if err := sess.write(g.writeTimeout, outbound{
		Event:   domain.EventConnected,
		Payload: ConnectedPayload{ConnectionID: connID},
	}); err != nil {
		g.logger.Errorw("failed to send connected event", "connection_id", connID, "error", err)
		g.teardown(connID, sess)
		return
	}

	if g.maxMsgSize > 0 {
		conn.SetReadLimit(g.maxMsgSize)
	}
	conn.SetReadDeadline(time.Now().Add(g.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(g.pongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(g.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan Envelope, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg Envelope
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(g.pongTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if !sess.limiter.Allow() {
				g.logger.Warnw("inbound rate limit exceeded", "connection_id", connID, "event", msg.Event)
				g.sendError(sess, "rate limit exceeded")
				continue
			}
			if err := g.dispatch(r.Context(), connID, sess, msg); err != nil {
				g.logger.Infow("error handling event",
					"connection_id", connID,
					"event", msg.Event,
					"error", err,
				)
				g.sendError(sess, err.Error())
			}

		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(g.writeTimeout)); err != nil {
				g.logger.Infow("error sending ping", "connection_id", connID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Infow("error reading message", "connection_id", connID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	g.teardown(connID, sess)
}

// teardown unregisters the session and removes the connection from whatever
// meeting it was joined to or waiting on.
func (g *Gateway) teardown(connID domain.ConnectionID, sess *session) {
	g.mu.Lock()
	delete(g.sessions, connID)
	g.mu.Unlock()

	if g.observer != nil {
		g.observer.ConnectionClosed()
	}

	if meetingID := sess.currentMeeting(); meetingID != "" {
		if err := g.rooms.Leave(context.Background(), meetingID, connID); err != nil {
			g.logger.Infow("error leaving meeting on disconnect",
				"connection_id", connID,
				"meeting_id", meetingID,
				"error", err,
			)
		}
	}

	g.logger.Infow("connection closed", "connection_id", connID)
}

func (g *Gateway) dispatch(ctx context.Context, connID domain.ConnectionID, sess *session, msg Envelope) error {
	if msg.Event == "" {
		return fmt.Errorf("event name is required")
	}

	ctx, span := tracing.TraceSignalMessage(ctx, msg.Event, string(connID))
	defer span.End()

	switch {
	case msg.Event == domain.EventJoinMeeting:
		return g.handleJoin(ctx, connID, sess, msg)
	case msg.Event == domain.EventLeaveMeeting:
		return g.handleLeave(ctx, connID, sess, msg)
	case msg.Event == domain.EventAdmitParticipant:
		return g.handleAdmission(ctx, connID, msg, true)
	case msg.Event == domain.EventDenyParticipant:
		return g.handleAdmission(ctx, connID, msg, false)
	case domain.IsNegotiationKind(msg.Event):
		return g.handleSignal(ctx, connID, msg)
	case domain.IsStateKind(msg.Event):
		return g.handleToggle(ctx, connID, msg)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownSignalKind, msg.Event)
	}
}

func (g *Gateway) handleJoin(ctx context.Context, connID domain.ConnectionID, sess *session, msg Envelope) error {
	var req domain.JoinRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return fmt.Errorf("invalid join-meeting payload: %w", err)
	}
	if req.MeetingID == "" {
		return fmt.Errorf("meeting_id is required")
	}

	snapshot, err := g.rooms.Join(ctx, req.MeetingID, connID, req.UserName)
	if err != nil {
		return err
	}

	// Track the membership even while the participant is only waiting for
	// admission, so a disconnect cleans up the pending entry too.
	sess.setMeeting(req.MeetingID)

	if snapshot == nil {
		// Parked in the waiting room; the room service already notified both
		// sides.
		return nil
	}
	return g.Send(connID, domain.EventMeetingJoined, *snapshot)
}

func (g *Gateway) handleLeave(ctx context.Context, connID domain.ConnectionID, sess *session, msg Envelope) error {
	var req LeavePayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return fmt.Errorf("invalid leave-meeting payload: %w", err)
	}
	if req.MeetingID == "" {
		return fmt.Errorf("meeting_id is required")
	}

	if err := g.rooms.Leave(ctx, req.MeetingID, connID); err != nil {
		return err
	}
	sess.setMeeting("")
	return nil
}

func (g *Gateway) handleAdmission(ctx context.Context, connID domain.ConnectionID, msg Envelope, admit bool) error {
	var req domain.AdmissionRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return fmt.Errorf("invalid admission payload: %w", err)
	}
	if req.MeetingID == "" || req.ConnectionID == "" {
		return fmt.Errorf("meeting_id and connection_id are required")
	}

	if admit {
		return g.rooms.Admit(ctx, req.MeetingID, connID, req.ConnectionID)
	}
	return g.rooms.Deny(ctx, req.MeetingID, connID, req.ConnectionID)
}

func (g *Gateway) handleSignal(ctx context.Context, connID domain.ConnectionID, msg Envelope) error {
	var env domain.SignalEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return fmt.Errorf("invalid %s payload: %w", msg.Event, err)
	}
	return g.relay.Relay(ctx, connID, msg.Event, env)
}

func (g *Gateway) handleToggle(ctx context.Context, connID domain.ConnectionID, msg Envelope) error {
	var payload domain.TogglePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid %s payload: %w", msg.Event, err)
	}
	return g.relay.Toggle(ctx, connID, msg.Event, payload)
}

func (g *Gateway) sendError(sess *session, message string) {
	_ = sess.write(g.writeTimeout, outbound{
		Event:   domain.EventError,
		Payload: domain.ErrorPayload{Message: message},
	})
}
