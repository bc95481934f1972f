package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rbright/reelnote/internal/session"
)

// Client calls SessionService on a remote daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target and waits until the channel is Ready.
func Dial(ctx context.Context, target string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("grpc target is empty")
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial session grpc %q: %w", target, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for session grpc readiness: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Healthy reports whether the remote SessionService is SERVING.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func (c *Client) StartSession(ctx context.Context, req session.StartRequest) (session.Snapshot, error) {
	out, err := c.invoke(ctx, methodStartSession, map[string]any{
		"session_id": req.SessionID,
		"user_id":    req.UserID,
		"video_id":   req.VideoID,
	})
	if err != nil {
		return session.Snapshot{}, err
	}
	var snap session.Snapshot
	return snap, fromStruct(out, &snap)
}

func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	_, err := c.invoke(ctx, methodStopSession, map[string]any{"session_id": sessionID})
	return err
}

func (c *Client) HandleEvent(ctx context.Context, sessionID string, ev session.Event) error {
	in := map[string]any{
		"session_id": sessionID,
		"type":       string(ev.Type),
	}
	if ev.Sequence != nil {
		in["seq"] = float64(*ev.Sequence)
	}
	if ev.VideoID != "" {
		in["video_id"] = ev.VideoID
	}
	if ev.Data != nil {
		in["data"] = ev.Data
	}
	_, err := c.invoke(ctx, methodHandleEvent, in)
	return err
}

func (c *Client) UpdateVideoContext(ctx context.Context, sessionID, videoID string) error {
	_, err := c.invoke(ctx, methodUpdateVideoContext, map[string]any{"session_id": sessionID, "video_id": videoID})
	return err
}

func (c *Client) State(ctx context.Context, sessionID string) (session.Snapshot, error) {
	out, err := c.invoke(ctx, methodGetState, map[string]any{"session_id": sessionID})
	if err != nil {
		return session.Snapshot{}, err
	}
	var snap session.Snapshot
	return snap, fromStruct(out, &snap)
}

func (c *Client) Reconcile(ctx context.Context, sessionID string, lastKnown uint64) (session.ReconcileResult, error) {
	out, err := c.invoke(ctx, methodReconcile, map[string]any{"session_id": sessionID, "last_seq": float64(lastKnown)})
	if err != nil {
		return session.ReconcileResult{}, err
	}
	var result session.ReconcileResult
	return result, fromStruct(out, &result)
}

func (c *Client) List(ctx context.Context) ([]string, error) {
	out, err := c.invoke(ctx, methodListSessions, map[string]any{})
	if err != nil {
		return nil, err
	}
	var resp struct {
		SessionIDs []string `json:"session_ids"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return nil, err
	}
	return resp.SessionIDs, nil
}

func (c *Client) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

// waitForReady blocks until the connection enters Ready or fails.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}
