package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/demand"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/state"
	"github.com/cuemby/burrow/pkg/types"
)

// Result describes what a launch attempt did
type Result string

const (
	ResultScaled  Result = "scaled"
	ResultNoop    Result = "noop"
	ResultIgnored Result = "ignored"
	ResultError   Result = "error"
)

// Launcher scales the workload from zero to one when demand arrives
type Launcher struct {
	workload types.Workload
	services platform.ServiceController
	store    state.Store
	matcher  *demand.Matcher
	actor    string
	logger   zerolog.Logger

	// one launch in flight per process
	mu sync.Mutex
}

// Config holds launcher dependencies. Store may be nil to run without the
// lifecycle guard.
type Config struct {
	Workload types.Workload
	Services platform.ServiceController
	Store    state.Store
	Matcher  *demand.Matcher
	Actor    string
}

// New creates a launcher
func New(cfg Config) *Launcher {
	if cfg.Matcher == nil {
		cfg.Matcher = demand.NewMatcher("")
	}
	if cfg.Actor == "" {
		cfg.Actor = "launcher"
	}
	return &Launcher{
		workload: cfg.Workload,
		services: cfg.Services,
		store:    cfg.Store,
		matcher:  cfg.Matcher,
		actor:    cfg.Actor,
		logger:   log.WithWorkload("launcher", cfg.Workload.Cluster, cfg.Workload.Service),
	}
}

// HandleSignals launches the workload once if any signal in the batch
// matches the hostname
func (l *Launcher) HandleSignals(ctx context.Context, signals []types.DemandSignal) (Result, error) {
	matched := false
	for _, sig := range signals {
		ok := l.matcher.Matches(sig)
		metrics.DemandSignalsTotal.WithLabelValues(string(sig.Source), fmt.Sprint(ok)).Inc()
		if ok {
			matched = true
		}
	}

	if !matched {
		l.logger.Debug().Int("signals", len(signals)).Msg("no signal matched the hostname")
		metrics.LaunchesTotal.WithLabelValues(string(ResultIgnored)).Inc()
		return ResultIgnored, nil
	}
	return l.Launch(ctx)
}

// HandleSignal adapts HandleSignals to a single bus message
func (l *Launcher) HandleSignal(ctx context.Context, sig types.DemandSignal) error {
	_, err := l.HandleSignals(ctx, []types.DemandSignal{sig})
	return err
}

// Launch makes sure the workload is (being) started
func (l *Launcher) Launch(ctx context.Context) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var res Result
	var err error
	if l.store == nil {
		res, err = l.launchUnguarded(ctx)
	} else {
		res, err = l.launchGuarded(ctx)
	}

	if err != nil {
		metrics.LaunchesTotal.WithLabelValues(string(ResultError)).Inc()
		l.logger.Error().Err(err).Msg("launch failed")
		return ResultError, err
	}
	metrics.LaunchesTotal.WithLabelValues(string(res)).Inc()
	return res, nil
}

func (l *Launcher) launchUnguarded(ctx context.Context) (Result, error) {
	return l.ensureDesired(ctx)
}

func (l *Launcher) launchGuarded(ctx context.Context) (Result, error) {
	rec, err := l.store.Get(ctx, l.workload)
	if err != nil {
		return "", fmt.Errorf("failed to read lifecycle state: %w", err)
	}

	if rec.State == types.StateRunning {
		// Record the demand so an idle watchdog restarts its window
		rec = l.touch(ctx, rec)
	}

	if !rec.In(types.StateStarting, types.StateRunning) {
		// The record moves before the desired count is read: a watchdog
		// scaling down concurrently either sees STARTING and repairs, or
		// finished first and we read its zero below.
		_, err := l.store.Transition(ctx, l.workload,
			[]types.LifecycleState{types.StateStopped, types.StateStopping},
			types.StateStarting, l.actor)
		switch {
		case err == nil:
			l.logger.Info().Str("from", string(rec.State)).Msg("lifecycle moved to STARTING")
			metrics.SetLifecycleState(types.StateStarting)
		case errors.Is(err, state.ErrConflict):
			// Someone else already started it; make sure the count agrees
			if cur := state.CurrentOf(err); cur != nil {
				l.logger.Debug().Str("state", string(cur.State)).Msg("lost lifecycle race")
			}
		default:
			return "", fmt.Errorf("failed to move lifecycle to STARTING: %w", err)
		}
	}

	return l.ensureDesired(ctx)
}

// touch bumps the revision of a RUNNING record and returns the record as
// it stands afterwards
func (l *Launcher) touch(ctx context.Context, rec *types.LifecycleRecord) *types.LifecycleRecord {
	next, err := l.store.Transition(ctx, l.workload,
		[]types.LifecycleState{types.StateRunning}, types.StateRunning, l.actor)
	switch {
	case err == nil:
		l.logger.Debug().Int64("revision", next.Revision).Msg("demand recorded on running workload")
		return next
	case errors.Is(err, state.ErrConflict):
		// A watchdog claimed STOPPING since the read; fall through to STARTING
		if cur := state.CurrentOf(err); cur != nil {
			return cur
		}
	default:
		l.logger.Warn().Err(err).Msg("failed to record demand")
	}
	return rec
}

// ensureDesired raises the desired count to one if it is zero
func (l *Launcher) ensureDesired(ctx context.Context) (Result, error) {
	desired, err := l.services.DesiredCount(ctx, l.workload)
	if err != nil {
		return "", fmt.Errorf("failed to read desired count: %w", err)
	}
	if desired >= 1 {
		l.logger.Debug().Int32("desired", desired).Msg("workload already launching or running")
		return ResultNoop, nil
	}

	if err := l.services.SetDesiredCount(ctx, l.workload, 1); err != nil {
		return "", fmt.Errorf("failed to scale up: %w", err)
	}
	metrics.ScaleChangesTotal.WithLabelValues("up").Inc()
	l.logger.Info().Msg("workload scaled up to 1")
	return ResultScaled, nil
}
