package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/bft-labs/predem/delivery"

// deliveryMetrics holds the scheduler's instruments. Instruments that fail to
// register are left nil and skipped.
type deliveryMetrics struct {
	cycles    metric.Int64Counter
	delivered metric.Int64Counter
	failed    metric.Int64Counter
	abandoned metric.Int64Counter
	sendTime  metric.Float64Histogram
}

func newDeliveryMetrics(mp metric.MeterProvider) *deliveryMetrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	m := &deliveryMetrics{}
	m.cycles, _ = meter.Int64Counter("predem.delivery.cycles",
		metric.WithDescription("Delivery cycles by outcome"))
	m.delivered, _ = meter.Int64Counter("predem.delivery.records.delivered",
		metric.WithDescription("Records acknowledged by the service"))
	m.failed, _ = meter.Int64Counter("predem.delivery.records.failed",
		metric.WithDescription("Records whose delivery attempt failed"))
	m.abandoned, _ = meter.Int64Counter("predem.delivery.records.abandoned",
		metric.WithDescription("Records dropped after reaching the retry ceiling"))
	m.sendTime, _ = meter.Float64Histogram("predem.delivery.send.duration",
		metric.WithDescription("Duration of delivery requests"),
		metric.WithUnit("s"))
	return m
}

func (m *deliveryMetrics) cycle(outcome cycleOutcome) {
	if m.cycles != nil {
		m.cycles.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("outcome", outcome.String())))
	}
}

func (m *deliveryMetrics) records(delivered, failed, abandoned int) {
	ctx := context.Background()
	if m.delivered != nil && delivered > 0 {
		m.delivered.Add(ctx, int64(delivered))
	}
	if m.failed != nil && failed > 0 {
		m.failed.Add(ctx, int64(failed))
	}
	if m.abandoned != nil && abandoned > 0 {
		m.abandoned.Add(ctx, int64(abandoned))
	}
}

func (m *deliveryMetrics) send(d time.Duration, ok bool) {
	if m.sendTime != nil {
		m.sendTime.Record(context.Background(), d.Seconds(),
			metric.WithAttributes(attribute.Bool("ok", ok)))
	}
}
