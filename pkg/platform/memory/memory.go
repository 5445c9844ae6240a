// Package memory is an in-process platform backend. It records every
// mutation so callers can assert on exactly what was changed.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/types"
)

// MutationKind names a state-changing platform call
type MutationKind string

const (
	MutationSetDesired MutationKind = "SetDesiredCount"
	MutationAssociate  MutationKind = "AssociateAddress"
)

// Mutation is one recorded state-changing call
type Mutation struct {
	Kind         MutationKind
	Workload     types.Workload
	Count        int32
	AllocationID string
	Target       string
}

// Platform is a thread-safe in-memory implementation of platform.Platform
type Platform struct {
	mu sync.Mutex

	desired   map[types.Workload]int32
	tasks     map[types.Workload][]types.Task
	addresses map[string]*types.AddressBinding
	mutations []Mutation

	// AutoStart makes SetDesiredCount start (or stop) tasks immediately
	AutoStart bool
	// Errors injected per operation name ("DesiredCount", "ListTasks", ...)
	errs map[string]error
}

var _ platform.Platform = (*Platform)(nil)

// New creates an empty platform
func New() *Platform {
	return &Platform{
		desired:   make(map[types.Workload]int32),
		tasks:     make(map[types.Workload][]types.Task),
		addresses: make(map[string]*types.AddressBinding),
		errs:      make(map[string]error),
	}
}

// SetDesired seeds the desired count without recording a mutation
func (p *Platform) SetDesired(w types.Workload, count int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.desired[w] = count
}

// SetTasks replaces the workload's tasks
func (p *Platform) SetTasks(w types.Workload, tasks ...types.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks[w] = append([]types.Task(nil), tasks...)
}

// AddAddress registers an allocatable address
func (p *Platform) AddAddress(allocationID, publicIP string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addresses[allocationID] = &types.AddressBinding{
		AllocationID: allocationID,
		PublicIP:     publicIP,
	}
}

// FailOn makes the named operation return err until cleared with a nil err
func (p *Platform) FailOn(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, op)
		return
	}
	p.errs[op] = err
}

// Mutations returns a copy of the recorded mutations
func (p *Platform) Mutations() []Mutation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Mutation(nil), p.mutations...)
}

// MutationsOf returns the recorded mutations of one kind
func (p *Platform) MutationsOf(kind MutationKind) []Mutation {
	var out []Mutation
	for _, m := range p.Mutations() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// ResetMutations clears the mutation log
func (p *Platform) ResetMutations() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mutations = nil
}

// Desired returns the current desired count
func (p *Platform) Desired(w types.Workload) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.desired[w]
}

// DesiredCount implements platform.ServiceController
func (p *Platform) DesiredCount(ctx context.Context, w types.Workload) (int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs["DesiredCount"]; err != nil {
		return 0, err
	}
	return p.desired[w], nil
}

// SetDesiredCount implements platform.ServiceController
func (p *Platform) SetDesiredCount(ctx context.Context, w types.Workload, count int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs["SetDesiredCount"]; err != nil {
		return err
	}
	if count < 0 {
		return fmt.Errorf("invalid desired count %d", count)
	}

	p.desired[w] = count
	p.mutations = append(p.mutations, Mutation{Kind: MutationSetDesired, Workload: w, Count: count})

	if p.AutoStart {
		p.scaleTasks(w, int(count))
	}
	return nil
}

func (p *Platform) scaleTasks(w types.Workload, count int) {
	var active []types.Task
	for _, t := range p.tasks[w] {
		if t.IsRunning() {
			active = append(active, t)
		}
	}
	for len(active) < count {
		id := uuid.New().String()
		active = append(active, types.Task{
			ID:                 "task-" + id[:8],
			LastStatus:         types.TaskStatusRunning,
			DesiredStatus:      types.TaskStatusRunning,
			NetworkInterfaceID: "eni-" + id[9:13],
			StartedAt:          time.Now(),
			Healthy:            true,
		})
	}
	p.tasks[w] = active[:count]
}

// ListTasks implements platform.TaskLister
func (p *Platform) ListTasks(ctx context.Context, w types.Workload) ([]types.Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs["ListTasks"]; err != nil {
		return nil, err
	}
	return append([]types.Task(nil), p.tasks[w]...), nil
}

// DescribeAddress implements platform.AddressBinder
func (p *Platform) DescribeAddress(ctx context.Context, allocationID string) (*types.AddressBinding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs["DescribeAddress"]; err != nil {
		return nil, err
	}
	addr, ok := p.addresses[allocationID]
	if !ok {
		return nil, platform.Classified(platform.ErrNotFound, fmt.Errorf("address %s", allocationID))
	}
	b := *addr
	return &b, nil
}

// AssociateAddress implements platform.AddressBinder
func (p *Platform) AssociateAddress(ctx context.Context, allocationID, networkInterfaceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs["AssociateAddress"]; err != nil {
		return err
	}
	addr, ok := p.addresses[allocationID]
	if !ok {
		return platform.Classified(platform.ErrNotFound, fmt.Errorf("address %s", allocationID))
	}

	addr.NetworkInterfaceID = networkInterfaceID
	addr.AssociationID = "eipassoc-" + uuid.New().String()[:8]
	p.mutations = append(p.mutations, Mutation{
		Kind:         MutationAssociate,
		AllocationID: allocationID,
		Target:       networkInterfaceID,
	})
	return nil
}
