// Package observability records save and job outcomes through OpenTelemetry
// instruments exported in Prometheus format.
package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Save kinds and outcomes used as attribute values.
const (
	KindPartial = "partial"
	KindFull    = "full"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDropped = "dropped"
)

// Observability is safe to use as a nil pointer or zero value; every
// recording method is then a no-op.
type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	saveCounter   otelmetric.Int64Counter
	saveDuration  otelmetric.Float64Histogram
	retryCounter  otelmetric.Int64Counter
	jobCounter    otelmetric.Int64Counter
	jobDuration   otelmetric.Float64Histogram
}

// New registers a Prometheus exporter as the global meter provider.
func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}
	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return newWithProvider(serviceName, provider)
}

// NewWithReader builds instruments on a private provider fed to reader.
func NewWithReader(serviceName string, reader metric.Reader) *Observability {
	return newWithProvider(serviceName, metric.NewMeterProvider(metric.WithReader(reader)))
}

// NewNoop returns an instance that records nothing.
func NewNoop() *Observability {
	return &Observability{}
}

func newWithProvider(serviceName string, provider *metric.MeterProvider) *Observability {
	meter := provider.Meter(serviceName)

	saveCounter, _ := meter.Int64Counter(
		"assessment.saves",
		otelmetric.WithDescription("Number of save attempts by kind and outcome"),
	)
	saveDuration, _ := meter.Float64Histogram(
		"assessment.save.duration",
		otelmetric.WithDescription("Save duration including retries"),
		otelmetric.WithUnit("ms"),
	)
	retryCounter, _ := meter.Int64Counter(
		"assessment.save.retries",
		otelmetric.WithDescription("Number of save retries"),
	)
	jobCounter, _ := meter.Int64Counter(
		"jobs.processed",
		otelmetric.WithDescription("Number of jobs processed"),
	)
	jobDuration, _ := meter.Float64Histogram(
		"jobs.duration",
		otelmetric.WithDescription("Job processing duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		saveCounter:   saveCounter,
		saveDuration:  saveDuration,
		retryCounter:  retryCounter,
		jobCounter:    jobCounter,
		jobDuration:   jobDuration,
	}
}

func (o *Observability) RecordSave(ctx context.Context, kind, outcome string, duration time.Duration) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	if o.saveCounter != nil {
		o.saveCounter.Add(ctx, 1, attrs)
	}
	if o.saveDuration != nil && outcome != OutcomeDropped {
		o.saveDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) RecordRetry(ctx context.Context, kind string) {
	if o == nil || o.retryCounter == nil {
		return
	}
	o.retryCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("kind", kind)))
}

func (o *Observability) RecordJobProcessed(ctx context.Context, status string) {
	if o == nil || o.jobCounter == nil {
		return
	}
	o.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", status)))
}

func (o *Observability) RecordJobDuration(ctx context.Context, duration time.Duration, status string) {
	if o == nil || o.jobDuration == nil {
		return
	}
	o.jobDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("status", status),
	))
}

func (o *Observability) Shutdown() {
	if o == nil || o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.meterProvider.Shutdown(ctx)
}
