// Package gateway exposes voice sessions to browser clients over WebSocket.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rbright/reelnote/internal/session"
)

// Sessions is the supervisor surface the gateway drives.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (*session.Actor, error)
	Stop(ctx context.Context, sessionID string) error
	HandleEvent(ctx context.Context, sessionID string, ev session.Event) error
	State(ctx context.Context, sessionID string) (session.Snapshot, error)
	Reconcile(ctx context.Context, sessionID string, lastKnown uint64) (session.ReconcileResult, error)
}

// Subscriber delivers session notifications to connections.
type Subscriber interface {
	Subscribe(sessionID string, fn func(session.Notification)) func()
	Subscribers(sessionID string) int
}

// Options configures a Gateway.
type Options struct {
	AllowedOrigins []string
	// IdleTimeout is how long a session outlives its last connection; zero
	// stops it immediately.
	IdleTimeout  time.Duration
	Auth         *Authenticator
	Limiter      JoinLimiter
	NewSessionID func() string
}

type grace struct {
	timer *time.Timer
	gen   uint64
}

// Gateway upgrades authenticated HTTP requests and binds each connection to
// one session.
type Gateway struct {
	logger   *slog.Logger
	sessions Sessions
	hub      Subscriber
	auth     *Authenticator
	limiter  JoinLimiter
	upgrader websocket.Upgrader
	idle     time.Duration
	newID    func() string

	mu      sync.Mutex
	owners  map[string]string
	graces  map[string]grace
	nextGen uint64
}

func New(logger *slog.Logger, sessions Sessions, hub Subscriber, opts Options) *Gateway {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Limiter == nil {
		opts.Limiter = allowAll{}
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = uuid.NewString
	}
	if opts.Auth == nil {
		opts.Auth = NewAuthenticator(AuthConfig{})
	}

	g := &Gateway{
		logger:   logger.With("component", "gateway"),
		sessions: sessions,
		hub:      hub,
		auth:     opts.Auth,
		limiter:  opts.Limiter,
		idle:     opts.IdleTimeout,
		newID:    opts.NewSessionID,
		owners:   make(map[string]string),
		graces:   make(map[string]grace),
	}
	origins := append([]string(nil), opts.AllowedOrigins...)
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, origins)
		},
	}
	return g
}

// ServeHTTP authenticates, rate limits, and upgrades one client connection.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "gateway.join")
	defer span.End()

	identity, err := g.auth.Verify(bearerToken(r))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		recordJoin(ctx, "unauthorized")
		g.logger.Info("connection rejected", "reason", err.Error(), "remote", r.RemoteAddr)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	span.SetAttributes(attribute.String("user.id", identity.UserID))

	if !g.limiter.Allow(identity.LimitKey()) {
		recordJoin(ctx, "rate_limited")
		g.logger.Warn("join rate limit exceeded", "user_id", identity.UserID, "device_id", identity.DeviceID)
		http.Error(w, "too many joins", http.StatusTooManyRequests)
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = g.newID()
	}
	if !g.claim(sessionID, identity.UserID) {
		recordJoin(ctx, "forbidden")
		g.logger.Warn("session owned by another user", "session_id", sessionID, "user_id", identity.UserID)
		http.Error(w, "session belongs to another user", http.StatusForbidden)
		return
	}
	span.SetAttributes(attribute.String("session.id", sessionID))

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		g.release(sessionID)
		span.RecordError(err)
		recordJoin(ctx, "upgrade_failed")
		return
	}
	recordJoin(ctx, "accepted")

	c := newConn(g, ws, identity, sessionID)
	c.unsubscribe = g.hub.Subscribe(sessionID, c.notify)
	g.attach(sessionID)
	g.logger.Info("connection opened", "session_id", sessionID, "user_id", identity.UserID)

	c.serve(context.WithoutCancel(ctx))

	c.unsubscribe()
	g.detach(sessionID)
	g.logger.Info("connection closed", "session_id", sessionID, "user_id", identity.UserID)
}

// claim binds sessionID to userID unless another user already owns it.
func (g *Gateway) claim(sessionID, userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	owner, ok := g.owners[sessionID]
	if ok && owner != userID {
		return false
	}
	g.owners[sessionID] = userID
	return true
}

// release drops ownership when nothing is attached to sessionID.
func (g *Gateway) release(sessionID string) {
	if g.hub.Subscribers(sessionID) > 0 {
		return
	}
	g.mu.Lock()
	delete(g.owners, sessionID)
	g.mu.Unlock()
}

func (g *Gateway) attach(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pending, ok := g.graces[sessionID]; ok {
		pending.timer.Stop()
		delete(g.graces, sessionID)
	}
}

// detach schedules the session stop once its last connection is gone.
func (g *Gateway) detach(sessionID string) {
	if g.hub.Subscribers(sessionID) > 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if pending, ok := g.graces[sessionID]; ok {
		pending.timer.Stop()
	}
	g.nextGen++
	gen := g.nextGen
	g.graces[sessionID] = grace{
		gen:   gen,
		timer: time.AfterFunc(g.idle, func() { g.expire(sessionID, gen) }),
	}
}

func (g *Gateway) expire(sessionID string, gen uint64) {
	g.mu.Lock()
	pending, ok := g.graces[sessionID]
	if !ok || pending.gen != gen || g.hub.Subscribers(sessionID) > 0 {
		g.mu.Unlock()
		return
	}
	delete(g.graces, sessionID)
	delete(g.owners, sessionID)
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := g.sessions.Stop(ctx, sessionID)
	switch {
	case err == nil:
		g.logger.Info("session stopped after disconnect grace", "session_id", sessionID)
	case errors.Is(err, session.ErrSessionNotFound):
	default:
		g.logger.Warn("stop after disconnect grace failed", "session_id", sessionID, "error", err.Error())
	}
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
		return rest
	}
	return ""
}

// originAllowed accepts non-browser clients, listed origins, and same-host
// origins when no list is configured.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(allowed) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	for _, candidate := range allowed {
		if candidate == "*" || strings.EqualFold(candidate, origin) {
			return true
		}
	}
	return false
}
