package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/reelnote/internal/fsm"
	"github.com/rbright/reelnote/internal/session"
)

func serveOn(t *testing.T, socketPath string, handler Handler) (context.CancelFunc, <-chan error) {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, handler)
	}()
	return cancel, serveDone
}

func TestSendRoundTripCarriesSessionSnapshot(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "reelnote.sock")

	seen := make(chan Request, 1)
	cancel, serveDone := serveOn(t, socketPath, HandlerFunc(func(_ context.Context, req Request) Response {
		seen <- req
		return Response{OK: true, Session: &session.Snapshot{
			SessionID:      req.SessionID,
			Status:         fsm.StateRecording,
			VideoID:        "vid-1",
			SequenceNumber: 12,
		}}
	}))
	defer cancel()

	resp, err := Send(context.Background(), socketPath, Request{Command: CommandInspect, SessionID: "s-1"}, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.NotNil(t, resp.Session)
	require.Equal(t, "s-1", resp.Session.SessionID)
	require.Equal(t, fsm.StateRecording, resp.Session.Status)
	require.EqualValues(t, 12, resp.Session.SequenceNumber)

	req := <-seen
	require.Equal(t, CommandInspect, req.Command)

	cancel()
	require.NoError(t, <-serveDone)
}

func TestSendDecodeResponseError(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "reelnote.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()

		_, _ = bufio.NewReader(conn).ReadBytes('\n')
		_, _ = conn.Write([]byte("not-json\n"))
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: CommandStatus}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestSendReadResponseError(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "reelnote.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		_ = conn.Close()
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: CommandStatus}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "read response")
}

func TestServeDecodeRequestErrorResponse(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "reelnote.sock")
	cancel, serveDone := serveOn(t, socketPath, HandlerFunc(func(_ context.Context, _ Request) Response {
		return Response{OK: true}
	}))
	defer cancel()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not-json\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "decode request")

	cancel()
	require.NoError(t, <-serveDone)
}

func TestFailureCarriesMessage(t *testing.T) {
	resp := Failure(errors.New("session not found"))
	require.False(t, resp.OK)
	require.Equal(t, "session not found", resp.Error)
}

func TestProbe(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "reelnote.sock")
	cancel, serveDone := serveOn(t, socketPath, HandlerFunc(func(_ context.Context, req Request) Response {
		if req.Command == CommandStatus {
			return Response{OK: true, State: "serving"}
		}
		return Response{Error: "bad"}
	}))

	alive, probeErr := Probe(context.Background(), socketPath, 200*time.Millisecond)
	require.NoError(t, probeErr)
	require.True(t, alive)

	cancel()
	require.NoError(t, <-serveDone)

	alive, probeErr = Probe(context.Background(), socketPath, 100*time.Millisecond)
	require.NoError(t, probeErr)
	require.False(t, alive)
}
