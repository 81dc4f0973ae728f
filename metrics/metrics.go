// Package metrics wires the observable counters of §6 to
// go.opentelemetry.io/otel/metric. When Config.EnableMetrics is false,
// callers simply never construct a Metrics value (its methods are
// nil-receiver safe), and when no SDK MeterProvider has been
// registered with otel.SetMeterProvider, otel.Meter falls back to its
// built-in no-op implementation — so enabling metrics without wiring
// an exporter costs nothing beyond the counter-increment call itself.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the instruments backing every counter in §6. A nil
// *Metrics is valid and every method is a no-op on it, so components
// can hold a possibly-nil *Metrics without branching on EnableMetrics
// everywhere.
type Metrics struct {
	totalPackets metric.Int64UpDownCounter
	enqueued     metric.Int64Counter
	dequeued     metric.Int64Counter
	expired      metric.Int64Counter
	rejected     metric.Int64Counter

	rxPackets   metric.Int64Counter
	rxBytes     metric.Int64Counter
	dropShort   metric.Int64Counter
	dropUnknown metric.Int64Counter
	dropUnauth  metric.Int64Counter
	recvErrors  metric.Int64Counter
}

// New builds a Metrics instance backed by the global otel meter named
// "nalix". Instrument-creation errors are treated as fatal-at-startup
// (mirroring the registry's "fatal for the offending controller"
// posture) since a broken meter implies a misconfigured provider.
func New() (*Metrics, error) {
	meter := otel.Meter("nalix")
	m := &Metrics{}
	var err error
	if m.totalPackets, err = meter.Int64UpDownCounter("nalix.dispatch.total_packets"); err != nil {
		return nil, err
	}
	if m.enqueued, err = meter.Int64Counter("nalix.dispatch.enqueued"); err != nil {
		return nil, err
	}
	if m.dequeued, err = meter.Int64Counter("nalix.dispatch.dequeued"); err != nil {
		return nil, err
	}
	if m.expired, err = meter.Int64Counter("nalix.dispatch.expired"); err != nil {
		return nil, err
	}
	if m.rejected, err = meter.Int64Counter("nalix.dispatch.rejected"); err != nil {
		return nil, err
	}
	if m.rxPackets, err = meter.Int64Counter("nalix.udp.rx_packets"); err != nil {
		return nil, err
	}
	if m.rxBytes, err = meter.Int64Counter("nalix.udp.rx_bytes"); err != nil {
		return nil, err
	}
	if m.dropShort, err = meter.Int64Counter("nalix.udp.drop_short"); err != nil {
		return nil, err
	}
	if m.dropUnknown, err = meter.Int64Counter("nalix.udp.drop_unknown"); err != nil {
		return nil, err
	}
	if m.dropUnauth, err = meter.Int64Counter("nalix.udp.drop_unauth"); err != nil {
		return nil, err
	}
	if m.recvErrors, err = meter.Int64Counter("nalix.udp.recv_errors"); err != nil {
		return nil, err
	}
	return m, nil
}

func priorityAttr(priority uint8) metric.AddOption {
	return metric.WithAttributes(attribute.Int("priority", int(priority)))
}

func (m *Metrics) AddTotalPackets(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.totalPackets.Add(ctx, delta)
}

func (m *Metrics) IncEnqueued(ctx context.Context, priority uint8) {
	if m == nil {
		return
	}
	m.enqueued.Add(ctx, 1, priorityAttr(priority))
}

func (m *Metrics) IncDequeued(ctx context.Context, priority uint8) {
	if m == nil {
		return
	}
	m.dequeued.Add(ctx, 1, priorityAttr(priority))
}

func (m *Metrics) IncExpired(ctx context.Context, priority uint8) {
	if m == nil {
		return
	}
	m.expired.Add(ctx, 1, priorityAttr(priority))
}

func (m *Metrics) IncRejected(ctx context.Context, priority uint8) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, priorityAttr(priority))
}

func (m *Metrics) IncRxPackets(ctx context.Context)        { m.add1(ctx, m.rxPackets) }
func (m *Metrics) AddRxBytes(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.rxBytes.Add(ctx, n)
}
func (m *Metrics) IncDropShort(ctx context.Context)   { m.add1(ctx, m.dropShort) }
func (m *Metrics) IncDropUnknown(ctx context.Context) { m.add1(ctx, m.dropUnknown) }
func (m *Metrics) IncDropUnauth(ctx context.Context)  { m.add1(ctx, m.dropUnauth) }
func (m *Metrics) IncRecvErrors(ctx context.Context)  { m.add1(ctx, m.recvErrors) }

func (m *Metrics) add1(ctx context.Context, c metric.Int64Counter) {
	if m == nil {
		return
	}
	c.Add(ctx, 1)
}
