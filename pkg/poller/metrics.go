package poller

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/user/rowwatch"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowwatch_poller_cycles_total",
		Help: "The total number of poll cycles by outcome",
	}, []string{"table", "outcome"})

	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowwatch_poller_events_total",
		Help: "The total number of events emitted by kind",
	}, []string{"table", "kind"})

	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowwatch_poller_sink_errors_total",
		Help: "The total number of events a sink failed to accept",
	}, []string{"table"})

	CycleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rowwatch_poller_cycle_duration_seconds",
		Help:    "Time taken by one poll cycle",
		Buckets: prometheus.DefBuckets,
	}, []string{"table"})

	RetryCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rowwatch_poller_retry_count",
		Help: "Consecutive counted cycle failures",
	}, []string{"table"})

	Running = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rowwatch_poller_running",
		Help: "1 while the poller is running",
	}, []string{"table"})
)

const meterName = "github.com/user/rowwatch/pkg/poller"

// instruments mirror the prometheus vectors above on the OpenTelemetry meter
// so OTLP metric export carries the same cycle and event counts.
type instruments struct {
	cycles   metric.Int64Counter
	events   metric.Int64Counter
	sinkErrs metric.Int64Counter
	latency  metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		in  instruments
		err error
	)
	if in.cycles, err = meter.Int64Counter("rowwatch.poller.cycles",
		metric.WithDescription("Poll cycles by outcome")); err != nil {
		return nil, err
	}
	if in.events, err = meter.Int64Counter("rowwatch.poller.events",
		metric.WithDescription("Events emitted by kind")); err != nil {
		return nil, err
	}
	if in.sinkErrs, err = meter.Int64Counter("rowwatch.poller.sink_errors",
		metric.WithDescription("Events a sink failed to accept")); err != nil {
		return nil, err
	}
	if in.latency, err = meter.Float64Histogram("rowwatch.poller.cycle.duration",
		metric.WithDescription("Time taken by one poll cycle"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &in, nil
}

func (in *instruments) cycle(ctx context.Context, table string, res outcome, seconds float64) {
	if in == nil {
		return
	}
	in.cycles.Add(ctx, 1, metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("outcome", string(res)),
	))
	in.latency.Record(ctx, seconds, metric.WithAttributes(attribute.String("table", table)))
}

func (in *instruments) event(ctx context.Context, table string, kind rowwatch.EventKind) {
	if in == nil {
		return
	}
	in.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("kind", string(kind)),
	))
}

func (in *instruments) sinkError(ctx context.Context, table string) {
	if in == nil {
		return
	}
	in.sinkErrs.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table)))
}
