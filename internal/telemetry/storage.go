package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/types"
)

const storageScopeName = "github.com/edgefleet/c2d/storage"

// InstrumentedStorage wraps storage.Storage with OTel tracing and metrics.
// Every method gets a span and is counted in c2d.storage.* metrics.
// Use WrapStorage to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStorage struct {
	inner   storage.Storage
	tracer  trace.Tracer
	ops     metric.Int64Counter
	dur     metric.Float64Histogram
	errs    metric.Int64Counter
	opGauge metric.Int64Gauge
}

var _ storage.Storage = (*InstrumentedStorage)(nil)

// WrapStorage returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("c2d.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("c2d.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("c2d.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	opGauge, _ := m.Int64Gauge("c2d.operation.count",
		metric.WithDescription("Current number of operations by state (snapshot from CountByState)"),
	)
	return &InstrumentedStorage{
		inner:   s,
		tracer:  Tracer(storageScopeName),
		ops:     ops,
		dur:     dur,
		errs:    errs,
		opGauge: opGauge,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStorage) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStorage) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStorage) GetOperation(ctx context.Context, id string) (*types.Operation, error) {
	attrs := []attribute.KeyValue{attribute.String("c2d.operation.id", id)}
	ctx, span, t := s.op(ctx, "GetOperation", attrs...)
	v, err := s.inner.GetOperation(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListOperations(ctx context.Context, filter types.OperationFilter) ([]*types.Operation, error) {
	attrs := []attribute.KeyValue{
		attribute.String("c2d.agent.id", filter.TargetAgentID),
		attribute.String("c2d.operation.state", string(filter.State)),
	}
	ctx, span, t := s.op(ctx, "ListOperations", attrs...)
	v, err := s.inner.ListOperations(ctx, filter)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) GetDependents(ctx context.Context, id string) ([]*types.Operation, error) {
	attrs := []attribute.KeyValue{attribute.String("c2d.operation.id", id)}
	ctx, span, t := s.op(ctx, "GetDependents", attrs...)
	v, err := s.inner.GetDependents(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ExistsOperation(ctx context.Context, id string) (bool, error) {
	attrs := []attribute.KeyValue{attribute.String("c2d.operation.id", id)}
	ctx, span, t := s.op(ctx, "ExistsOperation", attrs...)
	v, err := s.inner.ExistsOperation(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListEvents(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	ctx, span, t := s.op(ctx, "ListEvents")
	v, err := s.inner.ListEvents(ctx, filter)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) CountByState(ctx context.Context) (map[types.OperationState]int, error) {
	ctx, span, t := s.op(ctx, "CountByState")
	v, err := s.inner.CountByState(ctx)
	s.done(ctx, span, t, err)
	if err == nil {
		for state, n := range v {
			s.opGauge.Record(ctx, int64(n), metric.WithAttributes(attribute.String("state", string(state))))
		}
	}
	return v, err
}

func (s *InstrumentedStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	ctx, span, t := s.op(ctx, "RunInTransaction")
	err := s.inner.RunInTransaction(ctx, fn)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
