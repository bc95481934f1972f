package doctor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/reelnote/internal/config"
	"github.com/rbright/reelnote/internal/grpcapi"
	"github.com/rbright/reelnote/internal/session"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestReportOKAllPassing(t *testing.T) {
	report := Report{Checks: []Check{{Name: "one", Pass: true}, {Name: "two", Pass: true}}}
	require.True(t, report.OK())
}

func TestCheckEnv(t *testing.T) {
	t.Setenv("TEST_DOCTOR_ENV", "present")

	check := checkEnv("TEST_DOCTOR_ENV", func(v string) bool { return v != "" }, "looks good", "unexpected")
	require.True(t, check.Pass)
	require.Equal(t, "looks good", check.Message)
}

func TestCheckSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		pass   bool
		want   string
	}{
		{name: "missing", secret: "", want: "REELNOTE_AUTH_SECRET"},
		{name: "short", secret: "abc", want: "only 3 bytes"},
		{name: "ok", secret: strings.Repeat("k", 32), pass: true, want: "set"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			check := checkSecret(config.AuthConfig{Secret: tc.secret})
			require.Equal(t, tc.pass, check.Pass)
			require.Contains(t, check.Message, tc.want)
		})
	}
}

func TestCheckListenBindable(t *testing.T) {
	check := checkListen("server.listen", "127.0.0.1:0", func(context.Context) error {
		t.Fatal("probe must not run for a bindable address")
		return nil
	})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "bindable")
}

func TestCheckListenInUseByGateway(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)
	addr := strings.TrimPrefix(server.URL, "http://")

	check := checkListen("server.listen", addr, func(ctx context.Context) error {
		return probeGateway(ctx, addr)
	})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "running reelnote daemon")
}

func TestCheckListenInUseByStranger(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)
	addr := strings.TrimPrefix(server.URL, "http://")

	check := checkListen("server.listen", addr, func(ctx context.Context) error {
		return probeGateway(ctx, addr)
	})
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "cannot bind")
}

func TestCheckListenInUseByGRPCDaemon(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	sup := session.NewSupervisor(nil, session.DefaultSupervisorConfig(), nil, nil)
	gs := grpcapi.NewServer(nil, sup).NewGRPCServer()
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	addr := lis.Addr().String()
	check := checkListen("grpc.listen", addr, func(ctx context.Context) error {
		return probeGRPC(ctx, addr)
	})
	require.True(t, check.Pass, check.Message)
}

func TestRunReportsCoreChecks(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.GRPC.Enable = true
	cfg.GRPC.Listen = "127.0.0.1:0"
	cfg.Auth.Secret = strings.Repeat("k", 32)

	report := Run(config.Loaded{Path: filepath.Join(t.TempDir(), "config.jsonc"), Config: cfg})
	names := make([]string, 0, len(report.Checks))
	for _, check := range report.Checks {
		names = append(names, check.Name)
	}
	require.Equal(t, []string{"config", "auth.secret", "XDG_RUNTIME_DIR", "server.listen", "grpc.listen"}, names)
	require.True(t, report.OK(), report.String())
}

func TestRunFailsWithoutSecretOrRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")

	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"

	report := Run(config.Loaded{Path: "/tmp/config.jsonc", Config: cfg})
	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[FAIL] auth.secret")
	require.Contains(t, text, "[FAIL] XDG_RUNTIME_DIR")
}
