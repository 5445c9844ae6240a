package state

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/burrow/pkg/types"
)

// ErrConflict is returned when a transition's precondition does not hold
var ErrConflict = errors.New("lifecycle state conflict")

// Store persists the workload's lifecycle record and changes it with
// compare-and-set semantics
type Store interface {
	// Get returns the current record. A workload that was never recorded
	// is STOPPED at revision 0.
	Get(ctx context.Context, w types.Workload) (*types.LifecycleRecord, error)

	// Transition atomically moves the record to `to` if its current state
	// is one of `from`. Otherwise it returns a *ConflictError carrying the
	// current record.
	Transition(ctx context.Context, w types.Workload, from []types.LifecycleState, to types.LifecycleState, actor string) (*types.LifecycleRecord, error)

	Close() error
}

// ConflictError reports a lost compare-and-set
type ConflictError struct {
	Current *types.LifecycleRecord
	From    []types.LifecycleState
	To      types.LifecycleState
}

func (e *ConflictError) Error() string {
	from := make([]string, len(e.From))
	for i, s := range e.From {
		from[i] = string(s)
	}
	return fmt.Sprintf("%v: cannot move %s to %s (want one of %s)",
		ErrConflict, e.Current.State, e.To, strings.Join(from, ","))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// CurrentOf returns the record carried by a conflict error, or nil
func CurrentOf(err error) *types.LifecycleRecord {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Current
	}
	return nil
}

func initialRecord(w types.Workload) *types.LifecycleRecord {
	return &types.LifecycleRecord{Workload: w, State: types.StateStopped}
}

func containsState(states []types.LifecycleState, s types.LifecycleState) bool {
	for _, c := range states {
		if c == s {
			return true
		}
	}
	return false
}

// Derive computes the lifecycle state from the platform when no store is
// configured
func Derive(desired int32, tasks []types.Task) types.LifecycleState {
	running := false
	for i := range tasks {
		if tasks[i].IsRunning() {
			running = true
			break
		}
	}

	switch {
	case desired == 0 && len(tasks) == 0:
		return types.StateStopped
	case desired == 0:
		return types.StateStopping
	case running:
		return types.StateRunning
	default:
		return types.StateStarting
	}
}
