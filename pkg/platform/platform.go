package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
)

// Error classes shared by every backend. Backends wrap provider errors so
// that errors.Is(err, ErrTransient) etc. work on what they return.
var (
	ErrPermission = errors.New("permission denied")
	ErrTransient  = errors.New("transient platform failure")
	ErrNotFound   = errors.New("not found")
)

// ServiceController reads and changes the desired count of the workload service
type ServiceController interface {
	DesiredCount(ctx context.Context, w types.Workload) (int32, error)
	SetDesiredCount(ctx context.Context, w types.Workload, count int32) error
}

// TaskLister lists the workload's active tasks
type TaskLister interface {
	ListTasks(ctx context.Context, w types.Workload) ([]types.Task, error)
}

// AddressBinder manages the stable public address
type AddressBinder interface {
	DescribeAddress(ctx context.Context, allocationID string) (*types.AddressBinding, error)
	AssociateAddress(ctx context.Context, allocationID, networkInterfaceID string) error
}

// Platform is everything burrow needs from the container platform
type Platform interface {
	ServiceController
	TaskLister
	AddressBinder
}

// Classified wraps err so that it matches class with errors.Is while keeping
// the original message and chain
func Classified(class, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, class) {
		return err
	}
	return &classifiedError{class: class, err: err}
}

type classifiedError struct {
	class error
	err   error
}

func (e *classifiedError) Error() string {
	return fmt.Sprintf("%v: %v", e.class, e.err)
}

func (e *classifiedError) Unwrap() []error {
	return []error{e.class, e.err}
}

// Class returns the class of a platform error, or nil if it is unclassified
func Class(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPermission):
		return ErrPermission
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrTransient):
		return ErrTransient
	default:
		return nil
	}
}

// RunningTasks filters tasks down to the ones that are RUNNING
func RunningTasks(tasks []types.Task) []types.Task {
	var running []types.Task
	for _, t := range tasks {
		if t.IsRunning() {
			running = append(running, t)
		}
	}
	return running
}

// NewestTask returns the most recently started task, or nil
func NewestTask(tasks []types.Task) *types.Task {
	var newest *types.Task
	for i := range tasks {
		if newest == nil || tasks[i].StartedAt.After(newest.StartedAt) {
			newest = &tasks[i]
		}
	}
	return newest
}
