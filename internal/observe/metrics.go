// Package observe exposes the daemon's OpenTelemetry metrics.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without metrics in tests.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "hark"

// latencyBuckets are histogram boundaries in seconds.
var latencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16}

type Metrics struct {
	// WakeDetections counts wake-ups by source ("wakeword", "manual").
	WakeDetections metric.Int64Counter

	// TranscriptionDuration tracks recogniser latency, with language and
	// outcome attributes.
	TranscriptionDuration metric.Float64Histogram

	// Transcriptions counts capture outcomes: ok, timeout, unrecognized,
	// service_error, device_error.
	Transcriptions metric.Int64Counter

	// SpeechTasks counts queue tasks by kind and outcome.
	SpeechTasks metric.Int64Counter

	// StateTransitions counts session state changes by target state.
	StateTransitions metric.Int64Counter

	// RouterRequests counts routed commands by handler.
	RouterRequests metric.Int64Counter
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.WakeDetections, err = m.Int64Counter("hark.wake.detections",
		metric.WithDescription("Number of wake-ups."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("hark.stt.duration",
		metric.WithDescription("Latency of speech-to-text recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Transcriptions, err = m.Int64Counter("hark.capture.outcomes",
		metric.WithDescription("Number of command captures by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SpeechTasks, err = m.Int64Counter("hark.speech.tasks",
		metric.WithDescription("Number of speech tasks by kind and outcome."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("hark.session.transitions",
		metric.WithDescription("Number of session state changes."),
	); err != nil {
		return nil, err
	}
	if met.RouterRequests, err = m.Int64Counter("hark.router.requests",
		metric.WithDescription("Number of routed commands by handler."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

func (m *Metrics) WakeDetected(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.WakeDetections.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *Metrics) Recognition(ctx context.Context, lang, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TranscriptionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("lang", lang),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) Capture(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Transcriptions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) SpeechTask(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.SpeechTasks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) StateChanged(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

func (m *Metrics) Routed(ctx context.Context, handler string) {
	if m == nil {
		return
	}
	m.RouterRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("handler", handler)))
}
