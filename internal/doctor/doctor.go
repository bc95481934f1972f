// Package doctor runs readiness diagnostics for config, secrets, listeners, and the control socket.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rbright/reelnote/internal/config"
	"github.com/rbright/reelnote/internal/grpcapi"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(loaded config.Loaded) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded), checkSecret(cfg.Auth)}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		info, err := os.Stat(strings.TrimSpace(v))
		return strings.TrimSpace(v) != "" && err == nil && info.IsDir()
	}, "control socket directory available", "XDG_RUNTIME_DIR is unset or not a directory"))

	checks = append(checks, checkListen("server.listen", cfg.Server.Listen, func(ctx context.Context) error {
		return probeGateway(ctx, cfg.Server.Listen)
	}))
	if cfg.GRPC.Enable {
		checks = append(checks, checkListen("grpc.listen", cfg.GRPC.Listen, func(ctx context.Context) error {
			return probeGRPC(ctx, cfg.GRPC.Listen)
		}))
	}

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	if !loaded.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("no file at %q; using defaults", loaded.Path)}
	}
	return Check{Name: "config", Pass: true, Message: fmt.Sprintf("loaded %q", loaded.Path)}
}

func checkSecret(auth config.AuthConfig) Check {
	secret := strings.TrimSpace(auth.Secret)
	switch {
	case secret == "":
		return Check{Name: "auth.secret", Pass: false, Message: "not set; export REELNOTE_AUTH_SECRET"}
	case len(secret) < 32:
		return Check{Name: "auth.secret", Pass: false, Message: fmt.Sprintf("only %d bytes; use at least 32", len(secret))}
	default:
		return Check{Name: "auth.secret", Pass: true, Message: fmt.Sprintf("set (issuer=%q audience=%q)", auth.Issuer, auth.Audience)}
	}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkListen passes when addr is bindable or already served by a healthy
// reelnote daemon according to running.
func checkListen(name, addr string, running func(context.Context) error) Check {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Check{Name: name, Pass: false, Message: "address is empty"}
	}

	ln, bindErr := net.Listen("tcp", addr)
	if bindErr == nil {
		_ = ln.Close()
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is bindable", addr)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if err := running(ctx); err == nil {
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is served by a running reelnote daemon", addr)}
	}
	return Check{Name: name, Pass: false, Message: fmt.Sprintf("cannot bind %s: %v", addr, bindErr)}
}

// probeGateway expects the daemon's /healthz endpoint on addr.
func probeGateway(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64))
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "ok" {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, addr)
	}
	return nil
}

// probeGRPC expects SessionService to report SERVING on addr.
func probeGRPC(ctx context.Context, addr string) error {
	client, err := grpcapi.Dial(ctx, addr, probeTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	healthy, err := client.Healthy(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("%s is not serving", grpcapi.ServiceName)
	}
	return nil
}
