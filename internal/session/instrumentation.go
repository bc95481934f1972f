package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/rbright/reelnote/internal/session"

var (
	meter = otel.Meter(scopeName)

	sessionsStarted, _   = meter.Int64Counter("reelnote.session.started", metric.WithDescription("Session actors started"))
	sessionsRestarted, _ = meter.Int64Counter("reelnote.session.restarted", metric.WithDescription("Session actors restarted after a crash"))
	speechDetections, _  = meter.Int64Counter("reelnote.session.speech_detections", metric.WithDescription("Speech starts that entered recording"))
	speechIgnored, _     = meter.Int64Counter("reelnote.session.speech_ignored", metric.WithDescription("Speech starts ignored by a guard"))
)

func recordSessionStarted() {
	sessionsStarted.Add(context.Background(), 1)
}

func recordSessionRestarted() {
	sessionsRestarted.Add(context.Background(), 1)
}

func recordSpeechDetection() {
	speechDetections.Add(context.Background(), 1)
}

func recordIgnored(reason string) {
	speechIgnored.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
