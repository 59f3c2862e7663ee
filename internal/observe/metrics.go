// Package observe wires Fish Tank's OpenTelemetry metrics and traces, its
// slog correlation and the HTTP middleware that joins them.
//
// Instruments live on [Metrics]. [InitProvider] bridges them to Prometheus so
// they can be scraped from /metrics. Tests build their own [Metrics] with
// [NewMetrics] and a private meter provider.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/fishtank"

// Metrics holds the application's instruments. Attribute keys are listed
// next to each field.
type Metrics struct {
	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram // op
	TTSDuration metric.Float64Histogram

	ProviderRequests metric.Int64Counter // kind, status
	ProviderErrors   metric.Int64Counter // kind

	Turns             metric.Int64Counter // stage, speaker
	StageTransitions  metric.Int64Counter // from, to
	AnalysisFallbacks metric.Int64Counter // op
	CoachAnalyses     metric.Int64Counter // cached

	ActiveSessions metric.Int64UpDownCounter

	HTTPRequestDuration metric.Float64Histogram // method, path, status_class
}

// latencyBuckets are sized for model and speech round trips, in seconds.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// instruments collects the first creation error so NewMetrics reads as a
// flat list.
type instruments struct {
	m    metric.Meter
	errs []error
}

func (in *instruments) latency(name, desc string) metric.Float64Histogram {
	h, err := in.m.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	in.errs = append(in.errs, err)
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.m.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{m: mp.Meter(meterName)}
	met := &Metrics{
		STTDuration: in.latency("fishtank.stt.duration", "Latency of transcribing one coach recording."),
		LLMDuration: in.latency("fishtank.llm.duration", "Latency of chat-completion calls by operation."),
		TTSDuration: in.latency("fishtank.tts.duration", "Latency of voicing one judge reply."),

		ProviderRequests: in.counter("fishtank.provider.requests", "Provider calls by kind and status."),
		ProviderErrors:   in.counter("fishtank.provider.errors", "Failed provider calls by kind."),

		Turns:             in.counter("fishtank.turns", "Processed turns by stage and speaker."),
		StageTransitions:  in.counter("fishtank.stage.transitions", "Stage changes by source and target stage."),
		AnalysisFallbacks: in.counter("fishtank.analysis.fallbacks", "Model outputs replaced by a safe default, by operation."),
		CoachAnalyses:     in.counter("fishtank.coach.analyses", "Voice coach analyses by cache status."),
	}

	var err error
	met.ActiveSessions, err = in.m.Int64UpDownCounter("fishtank.active_sessions",
		metric.WithDescription("Sessions currently held by the store."))
	in.errs = append(in.errs, err)

	// Request latencies use the SDK default buckets.
	met.HTTPRequestDuration, err = in.m.Float64Histogram("fishtank.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status class."),
		metric.WithUnit("s"))
	in.errs = append(in.errs, err)

	if err := errors.Join(in.errs...); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide instruments, created on first use
// from [otel.GetMeterProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call of kind. A non-nil err also
// counts as a provider error.
func (m *Metrics) RecordProviderRequest(ctx context.Context, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind), Attr("status", status)))
}

// RecordLLMCall records one chat completion for op that began at start.
func (m *Metrics) RecordLLMCall(ctx context.Context, op string, start time.Time, err error) {
	m.LLMDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(Attr("op", op)))
	m.RecordProviderRequest(ctx, "llm", err)
}

// RecordTranscription records one coach transcription that began at start.
func (m *Metrics) RecordTranscription(ctx context.Context, start time.Time, err error) {
	m.STTDuration.Record(ctx, time.Since(start).Seconds())
	m.RecordProviderRequest(ctx, "stt", err)
}

// RecordSynthesis records one voiced judge reply that began at start.
func (m *Metrics) RecordSynthesis(ctx context.Context, start time.Time, err error) {
	m.TTSDuration.Record(ctx, time.Since(start).Seconds())
	m.RecordProviderRequest(ctx, "tts", err)
}

// RecordTurn counts one processed turn.
func (m *Metrics) RecordTurn(ctx context.Context, stage, speaker string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(Attr("stage", stage), Attr("speaker", speaker)))
}

// RecordStageTransition counts a stage change; from == to is ignored.
func (m *Metrics) RecordStageTransition(ctx context.Context, from, to string) {
	if from == to {
		return
	}
	m.StageTransitions.Add(ctx, 1, metric.WithAttributes(Attr("from", from), Attr("to", to)))
}

// RecordAnalysisFallback counts a model output for op that was discarded.
func (m *Metrics) RecordAnalysisFallback(ctx context.Context, op string) {
	m.AnalysisFallbacks.Add(ctx, 1, metric.WithAttributes(Attr("op", op)))
}

// RecordCoachAnalysis counts one coach request.
func (m *Metrics) RecordCoachAnalysis(ctx context.Context, cached bool) {
	m.CoachAnalyses.Add(ctx, 1, metric.WithAttributes(attribute.Bool("cached", cached)))
}
