package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/state"
	"github.com/cuemby/burrow/pkg/types"
)

// Outcome describes what handling one lifecycle event did
type Outcome string

const (
	OutcomeIgnored      Outcome = "ignored"
	OutcomeNoTasks      Outcome = "no-tasks"
	OutcomeNoInterface  Outcome = "no-interface"
	OutcomeBound        Outcome = "bound"
	OutcomeAlreadyBound Outcome = "already-bound"
	OutcomeStateOnly    Outcome = "state-only"
	OutcomeError        Outcome = "error"
)

// Reconciler binds the stable address to the workload's running task
// whenever the platform reports a task lifecycle change
type Reconciler struct {
	workload     types.Workload
	platform     platform.Platform
	store        state.Store
	allocationID string
	actor        string
	logger       zerolog.Logger

	// one reconciliation in flight per process
	mu     sync.Mutex
	stopCh chan struct{}
}

// Config holds reconciler dependencies. Store may be nil; an empty
// AllocationID disables address binding.
type Config struct {
	Workload     types.Workload
	Platform     platform.Platform
	Store        state.Store
	AllocationID string
	Actor        string
}

// NewReconciler creates a new reconciler
func NewReconciler(cfg Config) *Reconciler {
	if cfg.Actor == "" {
		cfg.Actor = "reconciler"
	}
	return &Reconciler{
		workload:     cfg.Workload,
		platform:     cfg.Platform,
		store:        cfg.Store,
		allocationID: cfg.AllocationID,
		actor:        cfg.Actor,
		logger:       log.WithWorkload("reconciler", cfg.Workload.Cluster, cfg.Workload.Service),
		stopCh:       make(chan struct{}),
	}
}

// DefaultResyncInterval is used when Start is given a non-positive interval
const DefaultResyncInterval = time.Minute

// Start begins a periodic resync that catches lifecycle events the
// platform never delivered
func (r *Reconciler) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultResyncInterval
	}
	go r.run(interval)
}

// Stop stops the periodic resync
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			// An empty change matches the workload and names no task
			_, _ = r.Reconcile(ctx, types.TaskStateChange{})
			cancel()
		case <-r.stopCh:
			return
		}
	}
}

// HandleEvent adapts Reconcile to a bus handler
func (r *Reconciler) HandleEvent(ctx context.Context, change types.TaskStateChange) error {
	_, err := r.Reconcile(ctx, change)
	return err
}

// Reconcile handles one task state change
func (r *Reconciler) Reconcile(ctx context.Context, change types.TaskStateChange) (Outcome, error) {
	if !change.BelongsTo(r.workload) {
		r.logger.Debug().
			Str("cluster", change.ClusterArn).
			Str("group", change.Group).
			Msg("ignoring event for another workload")
		metrics.ReconcileTotal.WithLabelValues(string(OutcomeIgnored)).Inc()
		return OutcomeIgnored, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration)

	outcome, err := r.reconcile(ctx, change)
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues(string(OutcomeError)).Inc()
		r.logger.Error().Err(err).Str("task", change.TaskArn).Msg("reconcile failed")
		return OutcomeError, err
	}
	metrics.ReconcileTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

func (r *Reconciler) reconcile(ctx context.Context, change types.TaskStateChange) (Outcome, error) {
	tasks, err := r.platform.ListTasks(ctx, r.workload)
	if err != nil {
		return "", fmt.Errorf("failed to list tasks: %w", err)
	}

	running := platform.RunningTasks(tasks)
	if len(running) == 0 {
		// The task may have stopped between the event and now
		r.logger.Debug().Str("task", change.TaskArn).Str("last_status", change.LastStatus).Msg("no running task")
		if err := r.settleStopped(ctx); err != nil {
			return "", err
		}
		return OutcomeNoTasks, nil
	}

	task := pickTask(running, change.TaskArn)
	logger := r.logger.With().Str("task", task.ID).Logger()

	outcome := OutcomeStateOnly
	if r.allocationID != "" {
		eni := task.NetworkInterfaceID
		if eni == "" && task.ID == change.TaskArn {
			eni = change.NetworkInterfaceID()
		}
		if eni == "" {
			logger.Info().Msg("running task has no attached interface yet")
			return OutcomeNoInterface, nil
		}

		outcome, err = r.bind(ctx, eni, logger)
		if err != nil {
			return "", err
		}
	}

	r.advance(ctx, types.StateStarting, types.StateRunning)
	return outcome, nil
}

// bind points the stable address at eni unless it already is
func (r *Reconciler) bind(ctx context.Context, eni string, logger zerolog.Logger) (Outcome, error) {
	binding, err := r.platform.DescribeAddress(ctx, r.allocationID)
	if err != nil {
		return "", fmt.Errorf("failed to describe address: %w", err)
	}
	if binding.Bound(eni) {
		logger.Debug().Str("eni", eni).Str("public_ip", binding.PublicIP).Msg("address already bound")
		return OutcomeAlreadyBound, nil
	}

	if err := r.platform.AssociateAddress(ctx, r.allocationID, eni); err != nil {
		return "", fmt.Errorf("failed to associate address: %w", err)
	}
	metrics.AddressAssociationsTotal.Inc()
	logger.Info().
		Str("eni", eni).
		Str("public_ip", binding.PublicIP).
		Str("previous_eni", binding.NetworkInterfaceID).
		Msg("address associated")
	return OutcomeBound, nil
}

// settleStopped completes a scale-down once the last task is gone
func (r *Reconciler) settleStopped(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	desired, err := r.platform.DesiredCount(ctx, r.workload)
	if err != nil {
		return fmt.Errorf("failed to read desired count: %w", err)
	}
	if desired == 0 {
		r.advance(ctx, types.StateStopping, types.StateStopped)
	}
	return nil
}

// advance moves the lifecycle record; losing the race is expected and not an error
func (r *Reconciler) advance(ctx context.Context, from, to types.LifecycleState) {
	if r.store == nil {
		return
	}
	_, err := r.store.Transition(ctx, r.workload, []types.LifecycleState{from}, to, r.actor)
	switch {
	case err == nil:
		r.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("lifecycle advanced")
		metrics.SetLifecycleState(to)
	case errors.Is(err, state.ErrConflict):
		r.logger.Debug().Str("to", string(to)).Msg("lifecycle already moved on")
	default:
		r.logger.Warn().Err(err).Str("to", string(to)).Msg("failed to advance lifecycle")
	}
}

// pickTask prefers the task named by the event, then the newest one
func pickTask(running []types.Task, taskID string) types.Task {
	for _, t := range running {
		if taskID != "" && t.ID == taskID {
			return t
		}
	}
	return *platform.NewestTask(running)
}
