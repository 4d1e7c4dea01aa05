package speech

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/daikw/speechstream/internal/speech"

// streamMetrics records stream delivery. Instrument creation errors leave the
// corresponding instrument nil and recording becomes a no-op.
type streamMetrics struct {
	started      metric.Int64Counter
	chunks       metric.Int64Counter
	bytes        metric.Int64Counter
	errors       metric.Int64Counter
	firstLatency metric.Float64Histogram
}

func newStreamMetrics(mp metric.MeterProvider) *streamMetrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &streamMetrics{}
	m.started, _ = meter.Int64Counter("speech.stream.started",
		metric.WithDescription("Streaming synthesis requests that returned audio"))
	m.chunks, _ = meter.Int64Counter("speech.stream.chunks",
		metric.WithDescription("Audio chunks delivered, excluding terminal markers"))
	m.bytes, _ = meter.Int64Counter("speech.stream.bytes",
		metric.WithDescription("Audio bytes delivered"),
		metric.WithUnit("By"))
	m.errors, _ = meter.Int64Counter("speech.stream.errors",
		metric.WithDescription("Streaming failures by error kind"))
	m.firstLatency, _ = meter.Float64Histogram("speech.stream.first_chunk_latency",
		metric.WithDescription("Time from request start to the first audio bytes"),
		metric.WithUnit("s"))
	return m
}

func (m *streamMetrics) failed(ctx context.Context, err error) {
	if m.errors == nil {
		return
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", KindOf(err).String())))
}

func (m *streamMetrics) observer(ctx context.Context, started time.Time, now func() time.Time) streamObserver {
	if m.started != nil {
		m.started.Add(ctx, 1)
	}
	return &metricsObserver{m: m, ctx: context.WithoutCancel(ctx), started: started, now: now}
}

type metricsObserver struct {
	m        *streamMetrics
	ctx      context.Context
	started  time.Time
	now      func() time.Time
	sawFirst bool
}

func (o *metricsObserver) chunk(c AudioChunk) {
	if len(c.Data) == 0 {
		return
	}
	if !o.sawFirst {
		o.sawFirst = true
		if o.m.firstLatency != nil {
			o.m.firstLatency.Record(o.ctx, o.now().Sub(o.started).Seconds())
		}
	}
	if o.m.chunks != nil {
		o.m.chunks.Add(o.ctx, 1)
	}
	if o.m.bytes != nil {
		o.m.bytes.Add(o.ctx, int64(len(c.Data)))
	}
}

func (o *metricsObserver) finish(err error) {
	if err != nil {
		o.m.failed(o.ctx, err)
	}
}
