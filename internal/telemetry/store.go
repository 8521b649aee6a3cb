package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/reconcile"
)

const storeScopeName = "github.com/Tiliavir/tempo-booker/remote"

// InstrumentedStore wraps a reconcile.RemoteStore with spans and
// tbk.remote.* metrics.
type InstrumentedStore struct {
	inner  reconcile.RemoteStore
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with OTel instrumentation, or s unchanged
// when telemetry is disabled.
func WrapStore(s reconcile.RemoteStore) reconcile.RemoteStore {
	if !Enabled() {
		return s
	}
	return NewInstrumentedStore(s, otel.Tracer(storeScopeName), otel.Meter(storeScopeName))
}

// NewInstrumentedStore decorates s with the given tracer and meter.
func NewInstrumentedStore(s reconcile.RemoteStore, tracer trace.Tracer, m metric.Meter) *InstrumentedStore {
	ops, _ := m.Int64Counter("tbk.remote.operations",
		metric.WithDescription("Remote worklog store calls"),
	)
	dur, _ := m.Float64Histogram("tbk.remote.operation.duration",
		metric.WithDescription("Remote worklog store call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("tbk.remote.errors",
		metric.WithDescription("Failed remote worklog store calls"),
	)
	return &InstrumentedStore{inner: s, tracer: tracer, ops: ops, dur: dur, errs: errs}
}

func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time, []attribute.KeyValue) {
	all := append([]attribute.KeyValue{attribute.String("tbk.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "remote."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now(), all
}

func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs []attribute.KeyValue) {
	s.dur.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		var re *model.RemoteError
		if errors.As(err, &re) {
			span.SetAttributes(
				attribute.String("tbk.error.kind", string(re.Kind)),
				attribute.String("tbk.error.reason", re.Reason),
			)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) FetchRecords(ctx context.Context, from, to time.Time) ([]model.RemoteRecord, error) {
	ctx, span, t, attrs := s.op(ctx, "fetch")
	span.SetAttributes(
		attribute.String("tbk.window.from", from.Format(time.DateOnly)),
		attribute.String("tbk.window.to", to.Format(time.DateOnly)),
	)
	v, err := s.inner.FetchRecords(ctx, from, to)
	span.SetAttributes(attribute.Int("tbk.record.count", len(v)))
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *InstrumentedStore) CreateRecord(ctx context.Context, in model.WorklogInput) (string, error) {
	ctx, span, t, attrs := s.op(ctx, "create", attribute.Int64("tbk.issue.id", in.IssueID))
	id, err := s.inner.CreateRecord(ctx, in)
	s.done(ctx, span, t, err, attrs)
	return id, err
}

func (s *InstrumentedStore) UpdateRecord(ctx context.Context, remoteID string, in model.WorklogInput) error {
	ctx, span, t, attrs := s.op(ctx, "update", attribute.Int64("tbk.issue.id", in.IssueID))
	span.SetAttributes(attribute.String("tbk.remote.id", remoteID))
	err := s.inner.UpdateRecord(ctx, remoteID, in)
	s.done(ctx, span, t, err, attrs)
	return err
}

func (s *InstrumentedStore) DeleteRecord(ctx context.Context, remoteID string) error {
	ctx, span, t, attrs := s.op(ctx, "delete")
	span.SetAttributes(attribute.String("tbk.remote.id", remoteID))
	err := s.inner.DeleteRecord(ctx, remoteID)
	s.done(ctx, span, t, err, attrs)
	return err
}
