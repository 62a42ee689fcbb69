package scheduler

import (
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/edgefleet/c2d/internal/telemetry"
)

const scopeName = "github.com/edgefleet/c2d/scheduler"

// instruments holds the scheduler's OTel instruments. They come from the
// global meter, which forwards to whatever provider telemetry.Init installs.
type instruments struct {
	batches       metric.Int64Counter
	selected      metric.Int64Counter
	inspected     metric.Int64Histogram
	graphNodes    metric.Int64Histogram
	graphOverflow metric.Int64Counter
	selectDur     metric.Float64Histogram
	transitions   metric.Int64Counter
	cascaded      metric.Int64Counter
}

var (
	instOnce sync.Once
	inst     *instruments
)

func schedulerMetrics() *instruments {
	instOnce.Do(func() {
		m := telemetry.Meter(scopeName)
		inst = &instruments{}
		inst.batches, _ = m.Int64Counter("c2d.scheduler.batches",
			metric.WithDescription("Batches selected for agent heartbeats"),
		)
		inst.selected, _ = m.Int64Counter("c2d.scheduler.operations.selected",
			metric.WithDescription("Operations placed into heartbeat batches"),
		)
		inst.inspected, _ = m.Int64Histogram("c2d.scheduler.candidates.inspected",
			metric.WithDescription("Sorted candidates inspected per batch"),
		)
		inst.graphNodes, _ = m.Int64Histogram("c2d.scheduler.graph.nodes",
			metric.WithDescription("Dependency graph size per batch selection"),
		)
		inst.graphOverflow, _ = m.Int64Counter("c2d.scheduler.graph_overflow",
			metric.WithDescription("Batch selections skipped because the dependency graph exceeded its node cap"),
		)
		inst.selectDur, _ = m.Float64Histogram("c2d.scheduler.select.duration",
			metric.WithDescription("Batch selection duration in milliseconds"),
			metric.WithUnit("ms"),
		)
		inst.transitions, _ = m.Int64Counter("c2d.scheduler.transitions",
			metric.WithDescription("Operation state transitions applied"),
		)
		inst.cascaded, _ = m.Int64Counter("c2d.scheduler.cascade.cancelled",
			metric.WithDescription("Dependents force-cancelled by a failure or cancellation"),
		)
	})
	return inst
}
