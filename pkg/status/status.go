// Package status answers "is the server running?" from live platform data.
// It is read-only: it never mutates the platform or the lifecycle record.
package status

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/state"
	"github.com/cuemby/burrow/pkg/types"
)

// Config holds status dependencies. Store and AllocationID are optional.
// State is reported from Store when one is set; without it a state is
// derived from the platform only if DeriveState is true.
type Config struct {
	Workload     types.Workload
	Platform     platform.Platform
	Store        state.Store
	AllocationID string
	DeriveState  bool
}

// Service builds status answers
type Service struct {
	cfg    Config
	logger zerolog.Logger
}

// NewService creates a status service
func NewService(cfg Config) *Service {
	return &Service{
		cfg:    cfg,
		logger: log.WithWorkload("status", cfg.Workload.Cluster, cfg.Workload.Service),
	}
}

// Query lists the workload's tasks and reports whether any is running.
// Only the task listing is required; lifecycle state and public address
// are best effort and omitted when they cannot be resolved.
func (s *Service) Query(ctx context.Context) (*types.Status, error) {
	tasks, err := s.cfg.Platform.ListTasks(ctx, s.cfg.Workload)
	if err != nil {
		metrics.StatusQueriesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	st := &types.Status{TaskCount: len(tasks)}
	for _, t := range tasks {
		if t.LastStatus == types.TaskStatusRunning {
			st.Running = true
			break
		}
	}

	st.State = s.lifecycle(ctx, tasks)
	if st.Running {
		st.PublicIP = s.publicIP(ctx)
	}

	metrics.StatusQueriesTotal.WithLabelValues("ok").Inc()
	return st, nil
}

func (s *Service) lifecycle(ctx context.Context, tasks []types.Task) types.LifecycleState {
	if s.cfg.Store != nil {
		rec, err := s.cfg.Store.Get(ctx, s.cfg.Workload)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to read lifecycle state")
			return ""
		}
		return rec.State
	}
	if !s.cfg.DeriveState {
		return ""
	}

	desired, err := s.cfg.Platform.DesiredCount(ctx, s.cfg.Workload)
	if err != nil {
		s.logger.Debug().Err(err).Msg("failed to read desired count")
		return ""
	}
	return state.Derive(desired, tasks)
}

func (s *Service) publicIP(ctx context.Context) string {
	if s.cfg.AllocationID == "" {
		return ""
	}
	binding, err := s.cfg.Platform.DescribeAddress(ctx, s.cfg.AllocationID)
	if err != nil {
		s.logger.Debug().Err(err).Msg("failed to describe address")
		return ""
	}
	if binding.NetworkInterfaceID == "" {
		return ""
	}
	return binding.PublicIP
}
