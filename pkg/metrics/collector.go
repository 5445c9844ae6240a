package metrics

import (
	"context"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// WorkloadSource is the part of the platform the collector samples
type WorkloadSource interface {
	DesiredCount(ctx context.Context, w types.Workload) (int32, error)
	ListTasks(ctx context.Context, w types.Workload) ([]types.Task, error)
}

// StateSource reads the lifecycle record, if a state store is configured
type StateSource interface {
	Get(ctx context.Context, w types.Workload) (*types.LifecycleRecord, error)
}

// Collector periodically samples the workload and updates the gauges
type Collector struct {
	workload types.Workload
	source   WorkloadSource
	state    StateSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector. state may be nil.
func NewCollector(w types.Workload, source WorkloadSource, state StateSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		workload: w,
		source:   source,
		state:    state,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	c.collectWorkloadMetrics(ctx)
	c.collectStateMetrics(ctx)
}

func (c *Collector) collectWorkloadMetrics(ctx context.Context) {
	logger := log.WithComponent("collector")

	desired, err := c.source.DesiredCount(ctx, c.workload)
	if err != nil {
		logger.Debug().Err(err).Msg("failed to sample desired count")
		UpdateComponent(ComponentPlatform, false, err.Error())
		return
	}
	WorkloadDesiredCount.Set(float64(desired))

	tasks, err := c.source.ListTasks(ctx, c.workload)
	if err != nil {
		logger.Debug().Err(err).Msg("failed to sample tasks")
		UpdateComponent(ComponentPlatform, false, err.Error())
		return
	}

	running := 0
	for i := range tasks {
		if tasks[i].IsRunning() {
			running++
		}
	}
	WorkloadRunningTasks.Set(float64(running))
	UpdateComponent(ComponentPlatform, true, "")
}

func (c *Collector) collectStateMetrics(ctx context.Context) {
	if c.state == nil {
		return
	}

	rec, err := c.state.Get(ctx, c.workload)
	if err != nil {
		UpdateComponent(ComponentState, false, err.Error())
		return
	}
	UpdateComponent(ComponentState, true, "")
	SetLifecycleState(rec.State)
}

// SetLifecycleState sets the lifecycle gauge to 1 for state and 0 for the others
func SetLifecycleState(state types.LifecycleState) {
	for _, s := range types.AllStates {
		v := 0.0
		if s == state {
			v = 1
		}
		LifecycleState.WithLabelValues(string(s)).Set(v)
	}
}
