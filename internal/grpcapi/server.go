package grpcapi

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rbright/reelnote/internal/session"
)

var tracer = otel.Tracer("github.com/rbright/reelnote/internal/grpcapi")

// Sessions is the supervisor surface exposed over gRPC.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (*session.Actor, error)
	Stop(ctx context.Context, sessionID string) error
	HandleEvent(ctx context.Context, sessionID string, ev session.Event) error
	UpdateVideoContext(ctx context.Context, sessionID, videoID string) error
	State(ctx context.Context, sessionID string) (session.Snapshot, error)
	Reconcile(ctx context.Context, sessionID string, lastKnown uint64) (session.ReconcileResult, error)
	List() []string
}

// Server implements SessionService on top of a session supervisor.
type Server struct {
	logger   *slog.Logger
	sessions Sessions
	health   *health.Server
}

func NewServer(logger *slog.Logger, sessions Sessions) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		logger:   logger.With("component", "grpcapi"),
		sessions: sessions,
		health:   health.NewServer(),
	}
}

// NewGRPCServer builds a grpc.Server with logging and tracing interceptors
// and registers SessionService plus the standard health service.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.observe))
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs
}

// Register adds SessionService and health to registrar.
func (s *Server) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&ServiceDesc, s)
	healthpb.RegisterHealthServer(registrar, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Shutdown marks every service NOT_SERVING.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

func (s *Server) observe(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, span := tracer.Start(ctx, info.FullMethod)
	defer span.End()

	started := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	span.SetAttributes(attribute.String("rpc.grpc.status_code", code.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Debug("rpc failed", "method", info.FullMethod, "code", code.String(), "error", err.Error())
	} else {
		s.logger.Debug("rpc served", "method", info.FullMethod, "elapsed_ms", time.Since(started).Milliseconds())
	}
	return resp, err
}

func (s *Server) StartSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireSessionID(in)
	if err != nil {
		return nil, toStatus(err)
	}
	if _, err := s.sessions.Start(ctx, session.StartRequest{
		SessionID: id,
		UserID:    stringField(in, "user_id"),
		VideoID:   stringField(in, "video_id"),
	}); err != nil {
		return nil, toStatus(err)
	}
	return s.snapshot(ctx, id)
}

func (s *Server) StopSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireSessionID(in)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.sessions.Stop(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"session_id": id})
}

func (s *Server) HandleEvent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireSessionID(in)
	if err != nil {
		return nil, toStatus(err)
	}
	seq, err := uintField(in, "seq")
	if err != nil {
		return nil, toStatus(&session.MalformedEventError{Type: session.EventType(stringField(in, "type")), Field: "seq"})
	}

	ev := session.Event{
		Type:     session.EventType(stringField(in, "type")),
		Sequence: seq,
		VideoID:  stringField(in, "video_id"),
	}
	if data := in.GetFields()["data"].GetStructValue(); data != nil {
		ev.Data = data.AsMap()
	}
	if err := s.sessions.HandleEvent(ctx, id, ev); err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"accepted": true})
}

func (s *Server) UpdateVideoContext(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireSessionID(in)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.sessions.UpdateVideoContext(ctx, id, stringField(in, "video_id")); err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"accepted": true})
}

func (s *Server) GetState(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireSessionID(in)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.snapshot(ctx, id)
}

func (s *Server) Reconcile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireSessionID(in)
	if err != nil {
		return nil, toStatus(err)
	}
	lastSeq, err := uintField(in, "last_seq")
	if err != nil || lastSeq == nil {
		return nil, toStatus(&session.MalformedEventError{Field: "last_seq"})
	}

	result, err := s.sessions.Reconcile(ctx, id, *lastSeq)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(result)
}

func (s *Server) ListSessions(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ids := s.sessions.List()
	values := make([]any, 0, len(ids))
	for _, id := range ids {
		values = append(values, id)
	}
	return structpb.NewStruct(map[string]any{"session_ids": values})
}

func (s *Server) snapshot(ctx context.Context, id string) (*structpb.Struct, error) {
	snap, err := s.sessions.State(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := toStruct(snap)
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}
