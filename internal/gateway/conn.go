package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbright/reelnote/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 64 << 10
	outboundBuffer = 64
)

// conn is one client connection bound to a single session id.
type conn struct {
	gw        *Gateway
	ws        *websocket.Conn
	identity  Identity
	sessionID string
	logger    *slog.Logger

	send        chan Outbound
	done        chan struct{}
	closeOnce   sync.Once
	unsubscribe func()
}

func newConn(gw *Gateway, ws *websocket.Conn, identity Identity, sessionID string) *conn {
	return &conn{
		gw:          gw,
		ws:          ws,
		identity:    identity,
		sessionID:   sessionID,
		logger:      gw.logger.With("session_id", sessionID, "user_id", identity.UserID),
		send:        make(chan Outbound, outboundBuffer),
		done:        make(chan struct{}),
		unsubscribe: func() {},
	}
}

// serve runs the writer and blocks in the reader until the client goes away.
func (c *conn) serve(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	c.readLoop(ctx)
	c.close()
	wg.Wait()
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// push queues a frame without blocking; frames for a stalled client are dropped.
func (c *conn) push(msg Outbound) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		recordDroppedFrame()
		c.logger.Warn("outbound buffer full; frame dropped", "event", msg.Event)
	}
}

// notify runs on the actor goroutine via the hub.
func (c *conn) notify(n session.Notification) {
	c.push(notificationFrame(n))
}

func (c *conn) readLoop(ctx context.Context) {
	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("connection read failed", "error", err.Error())
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.push(errorFrame(CodeBadFrame, "", errors.New("binary frames are not supported")))
			continue
		}

		msg, err := decodeInbound(data)
		if err != nil {
			c.push(errorFrame(CodeBadFrame, "", err))
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.logger.Debug("connection write failed", "error", err.Error())
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) dispatch(ctx context.Context, msg Inbound) {
	ctx, span := tracer.Start(ctx, "gateway."+msg.Type, trace.WithAttributes(
		attribute.String("session.id", c.sessionID),
	))
	defer span.End()

	err := c.handle(ctx, msg)
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.push(errorFrame(errorCode(err), msg.Type, err))
}

func (c *conn) handle(ctx context.Context, msg Inbound) error {
	if ev, ok := msg.sessionEvent(); ok {
		return c.gw.sessions.HandleEvent(ctx, c.sessionID, ev)
	}

	switch msg.Type {
	case TypeStartSession:
		return c.startSession(ctx, msg)
	case TypeReconcile:
		return c.reconcile(ctx, msg)
	case TypeGetState:
		snap, err := c.gw.sessions.State(ctx, c.sessionID)
		if err != nil {
			return err
		}
		c.push(Outbound{Event: EventState, Payload: snap})
		return nil
	case TypeStopSession:
		if err := c.gw.sessions.Stop(ctx, c.sessionID); err != nil {
			return err
		}
		c.push(Outbound{Event: EventSessionStopped, Payload: map[string]string{"session_id": c.sessionID}})
		return nil
	default:
		c.logger.Debug("unknown frame type dropped", "type", msg.Type)
		return nil
	}
}

// startSession creates the actor, or re-anchors an existing one when the
// client supplies a video id on reconnect.
func (c *conn) startSession(ctx context.Context, msg Inbound) error {
	_, err := c.gw.sessions.Start(ctx, session.StartRequest{
		SessionID: c.sessionID,
		UserID:    c.identity.UserID,
		VideoID:   msg.VideoID,
	})
	switch {
	case errors.Is(err, session.ErrAlreadyStarted):
		if msg.VideoID != "" {
			update := session.Event{Type: session.EventUpdateVideoContext, VideoID: msg.VideoID, Sequence: msg.Seq}
			if err := c.gw.sessions.HandleEvent(ctx, c.sessionID, update); err != nil {
				return err
			}
		}
	case err != nil:
		return err
	}

	snap, err := c.gw.sessions.State(ctx, c.sessionID)
	if err != nil {
		return err
	}
	c.push(Outbound{Event: EventSessionStarted, Payload: snap})
	return nil
}

func (c *conn) reconcile(ctx context.Context, msg Inbound) error {
	if msg.LastSeq == nil {
		return &session.MalformedEventError{Field: "last_seq"}
	}

	result, err := c.gw.sessions.Reconcile(ctx, c.sessionID, *msg.LastSeq)
	switch {
	case errors.Is(err, session.ErrResetRequired):
		c.push(Outbound{Event: EventResetSession, Payload: ResetPayload{SessionID: c.sessionID, Reason: "gap_exceeded", Gap: result.Gap}})
		return nil
	case errors.Is(err, session.ErrSessionNotFound):
		c.push(Outbound{Event: EventResetSession, Payload: ResetPayload{SessionID: c.sessionID, Reason: "session_not_found"}})
		return nil
	case err != nil:
		return err
	}
	c.push(Outbound{Event: EventReconciled, Payload: result})
	return nil
}
