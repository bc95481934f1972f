// Package ipc carries the local control protocol between the reelnote CLI and
// a running daemon over a unix socket. Messages are newline-delimited JSON.
package ipc

import "github.com/rbright/reelnote/internal/session"

// Control commands understood by the daemon.
const (
	CommandStatus   = "status"
	CommandSessions = "sessions"
	CommandInspect  = "inspect"
	CommandStop     = "stop"
)

type Request struct {
	Command   string `json:"command"`
	SessionID string `json:"session_id,omitempty"`
}

type Response struct {
	OK       bool              `json:"ok"`
	State    string            `json:"state,omitempty"`
	Sessions []string          `json:"sessions,omitempty"`
	Session  *session.Snapshot `json:"session,omitempty"`
	Message  string            `json:"message,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Failure builds an error response.
func Failure(err error) Response {
	return Response{OK: false, Error: err.Error()}
}
