package watchdog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/state"
	"github.com/cuemby/burrow/pkg/types"
)

// Shutdown outcomes
const (
	OutcomeStopped  = "stopped"
	OutcomeConflict = "conflict"
	OutcomeRepaired = "repaired"
	OutcomeError    = "error"
)

// Config holds watchdog dependencies and windows. Store and Probe are
// optional.
type Config struct {
	Workload types.Workload
	Services platform.ServiceController
	Store    state.Store
	Counter  Counter
	Probe    health.Checker
	Actor    string

	ProbeConfig    health.Config
	Interval       time.Duration
	StartupWindow  time.Duration
	ShutdownWindow time.Duration

	// Now is the clock; time.Now when nil
	Now func() time.Time
}

// Watchdog scales the workload down once nobody has played for a while
type Watchdog struct {
	cfg    Config
	logger zerolog.Logger

	startedAt  time.Time
	lastActive time.Time
	seenPlayer bool

	// last lifecycle revision observed; tracked once Startup has run
	revision int64
	tracked  bool
}

// New creates a watchdog
func New(cfg Config) *Watchdog {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ProbeConfig.Interval <= 0 {
		cfg.ProbeConfig = health.DefaultConfig()
	}
	if cfg.Actor == "" {
		cfg.Actor = "watchdog"
	}
	return &Watchdog{
		cfg:       cfg,
		logger:    log.WithWorkload("watchdog", cfg.Workload.Cluster, cfg.Workload.Service),
		startedAt: cfg.Now(),
	}
}

// Run waits for the game port, marks the workload RUNNING and then
// monitors it until it has been scaled down or ctx ends
func (w *Watchdog) Run(ctx context.Context) error {
	if err := w.Startup(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stopped, err := w.Tick(ctx)
			if err != nil {
				w.logger.Error().Err(err).Msg("watchdog check failed")
				continue
			}
			if stopped {
				w.logger.Info().Msg("workload scaled down, watchdog exiting")
				return nil
			}
		}
	}
}

// Startup probes the game port until it answers and then advances the
// lifecycle to RUNNING
func (w *Watchdog) Startup(ctx context.Context) error {
	if w.cfg.Probe != nil {
		w.logger.Info().Str("probe", string(w.cfg.Probe.Type())).Msg("waiting for game port")
		status, err := health.WaitReachable(ctx, w.cfg.Probe, w.cfg.ProbeConfig)
		if err != nil {
			return err
		}
		w.logger.Info().Str("server", status.LastResult.Message).Msg("game port reachable")
	}

	w.reset()
	w.transition(ctx, []types.LifecycleState{types.StateStarting}, types.StateRunning)
	return nil
}

// Tick samples the connection count once and shuts the workload down when
// an idle window has elapsed. It reports whether the workload was stopped.
func (w *Watchdog) Tick(ctx context.Context) (bool, error) {
	now := w.cfg.Now()

	n, err := w.cfg.Counter.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count connections: %w", err)
	}
	metrics.WatchdogConnections.Set(float64(n))

	if n > 0 {
		if !w.seenPlayer {
			w.logger.Info().Int("connections", n).Msg("first player connected")
		}
		w.seenPlayer = true
		w.lastActive = now
		return false, nil
	}

	switch {
	case !w.seenPlayer && now.Sub(w.startedAt) >= w.cfg.StartupWindow:
		w.logger.Info().Dur("window", w.cfg.StartupWindow).Msg("nobody connected after startup")
	case w.seenPlayer && now.Sub(w.lastActive) >= w.cfg.ShutdownWindow:
		w.logger.Info().Dur("window", w.cfg.ShutdownWindow).Msg("server idle")
	default:
		return false, nil
	}

	if w.demandRecorded(ctx) {
		w.reset()
		return false, nil
	}
	return w.Shutdown(ctx)
}

// Shutdown scales the workload to zero. With a lifecycle store it first
// claims STOPPING and repairs the desired count if a launcher raced it.
func (w *Watchdog) Shutdown(ctx context.Context) (bool, error) {
	if w.cfg.Store == nil {
		if err := w.scale(ctx, 0); err != nil {
			metrics.WatchdogShutdownsTotal.WithLabelValues(OutcomeError).Inc()
			return false, err
		}
		metrics.WatchdogShutdownsTotal.WithLabelValues(OutcomeStopped).Inc()
		return true, nil
	}

	claimed, err := w.cfg.Store.Transition(ctx, w.cfg.Workload,
		[]types.LifecycleState{types.StateRunning}, types.StateStopping, w.cfg.Actor)
	if errors.Is(err, state.ErrConflict) {
		// A fresh demand signal won; start a new idle window
		event := w.logger.Info()
		if cur := state.CurrentOf(err); cur != nil {
			event = event.Str("state", string(cur.State))
			w.observe(cur)
		}
		event.Msg("shutdown lost lifecycle race, staying up")
		metrics.WatchdogShutdownsTotal.WithLabelValues(OutcomeConflict).Inc()
		w.reset()
		return false, nil
	}
	if err != nil {
		metrics.WatchdogShutdownsTotal.WithLabelValues(OutcomeError).Inc()
		return false, fmt.Errorf("failed to move lifecycle to STOPPING: %w", err)
	}
	if w.tracked && claimed.Revision != w.revision+1 {
		// Demand was recorded after the last observation
		w.logger.Info().Int64("revision", claimed.Revision).Str("by", claimed.UpdatedBy).Msg("demand recorded before shutdown, staying up")
		w.observe(claimed)
		w.transition(ctx, []types.LifecycleState{types.StateStopping}, types.StateRunning)
		metrics.WatchdogShutdownsTotal.WithLabelValues(OutcomeConflict).Inc()
		w.reset()
		return false, nil
	}
	w.observe(claimed)
	metrics.SetLifecycleState(types.StateStopping)

	if err := w.scale(ctx, 0); err != nil {
		w.transition(ctx, []types.LifecycleState{types.StateStopping}, types.StateRunning)
		metrics.WatchdogShutdownsTotal.WithLabelValues(OutcomeError).Inc()
		return false, err
	}

	rec, err := w.cfg.Store.Get(ctx, w.cfg.Workload)
	if err != nil {
		metrics.WatchdogShutdownsTotal.WithLabelValues(OutcomeError).Inc()
		return true, fmt.Errorf("failed to re-read lifecycle state: %w", err)
	}
	if rec.State == types.StateStopping {
		metrics.WatchdogShutdownsTotal.WithLabelValues(OutcomeStopped).Inc()
		return true, nil
	}

	// A launcher claimed STARTING between our CAS and the scale-down
	w.logger.Warn().Str("state", string(rec.State)).Str("by", rec.UpdatedBy).Msg("demand arrived during shutdown, restoring desired count")
	if err := w.scale(ctx, 1); err != nil {
		metrics.WatchdogShutdownsTotal.WithLabelValues(OutcomeError).Inc()
		return true, err
	}
	metrics.WatchdogShutdownsTotal.WithLabelValues(OutcomeRepaired).Inc()
	w.reset()
	return false, nil
}

func (w *Watchdog) scale(ctx context.Context, count int32) error {
	if err := w.cfg.Services.SetDesiredCount(ctx, w.cfg.Workload, count); err != nil {
		return fmt.Errorf("failed to set desired count to %d: %w", count, err)
	}
	direction := "down"
	if count > 0 {
		direction = "up"
	}
	metrics.ScaleChangesTotal.WithLabelValues(direction).Inc()
	w.logger.Info().Int32("desired", count).Msg("desired count updated")
	return nil
}

func (w *Watchdog) transition(ctx context.Context, from []types.LifecycleState, to types.LifecycleState) {
	if w.cfg.Store == nil {
		return
	}
	rec, err := w.cfg.Store.Transition(ctx, w.cfg.Workload, from, to, w.cfg.Actor)
	switch {
	case err == nil:
		w.logger.Info().Str("to", string(to)).Msg("lifecycle advanced")
		metrics.SetLifecycleState(to)
		w.observe(rec)
	case errors.Is(err, state.ErrConflict):
		w.logger.Debug().Str("to", string(to)).Msg("lifecycle already moved on")
		if cur := state.CurrentOf(err); cur != nil {
			w.observe(cur)
		}
	default:
		w.logger.Warn().Err(err).Str("to", string(to)).Msg("failed to advance lifecycle")
	}
}

// demandRecorded reports whether someone wrote the lifecycle record since
// the watchdog last looked at it
func (w *Watchdog) demandRecorded(ctx context.Context) bool {
	if w.cfg.Store == nil || !w.tracked {
		return false
	}
	rec, err := w.cfg.Store.Get(ctx, w.cfg.Workload)
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to read lifecycle state")
		return false
	}
	if rec.Revision <= w.revision {
		return false
	}
	w.logger.Info().Int64("revision", rec.Revision).Str("by", rec.UpdatedBy).Msg("demand recorded, restarting idle window")
	w.observe(rec)
	return true
}

func (w *Watchdog) observe(rec *types.LifecycleRecord) {
	w.revision = rec.Revision
	w.tracked = true
}

// reset starts a fresh startup window
func (w *Watchdog) reset() {
	w.startedAt = w.cfg.Now()
	w.lastActive = time.Time{}
	w.seenPlayer = false
}
