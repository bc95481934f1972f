package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbright/reelnote/internal/ipc"
	"github.com/rbright/reelnote/internal/session"
)

// controlSessions is the supervisor surface the control socket exposes.
type controlSessions interface {
	List() []string
	State(ctx context.Context, sessionID string) (session.Snapshot, error)
	Stop(ctx context.Context, sessionID string) error
}

var errSessionIDRequired = errors.New("session_id is required")

func controlHandler(sessions controlSessions, startedAt time.Time, now func() time.Time) ipc.Handler {
	return ipc.HandlerFunc(func(ctx context.Context, req ipc.Request) ipc.Response {
		switch req.Command {
		case ipc.CommandStatus:
			uptime := now().Sub(startedAt).Truncate(time.Second)
			return ipc.Response{
				OK:      true,
				State:   "serving",
				Message: fmt.Sprintf("%d sessions, up %s", len(sessions.List()), uptime),
			}
		case ipc.CommandSessions:
			return ipc.Response{OK: true, Sessions: sessions.List()}
		case ipc.CommandInspect:
			if req.SessionID == "" {
				return ipc.Failure(errSessionIDRequired)
			}
			snap, err := sessions.State(ctx, req.SessionID)
			if err != nil {
				return ipc.Failure(err)
			}
			return ipc.Response{OK: true, Session: &snap}
		case ipc.CommandStop:
			if req.SessionID == "" {
				return ipc.Failure(errSessionIDRequired)
			}
			if err := sessions.Stop(ctx, req.SessionID); err != nil {
				return ipc.Failure(err)
			}
			return ipc.Response{OK: true, Message: "stopped " + req.SessionID}
		default:
			return ipc.Failure(fmt.Errorf("unsupported command %q", req.Command))
		}
	})
}
