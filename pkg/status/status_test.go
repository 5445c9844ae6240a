package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/platform/memory"
	"github.com/cuemby/burrow/pkg/state"
	"github.com/cuemby/burrow/pkg/types"
)

var workload = types.Workload{Cluster: "minecraft", Service: "minecraft-server"}

func task(id string, last types.TaskStatus, eni string) types.Task {
	return types.Task{
		ID:                 id,
		LastStatus:         last,
		DesiredStatus:      types.TaskStatusRunning,
		NetworkInterfaceID: eni,
		StartedAt:          time.Now(),
	}
}

func TestQuery(t *testing.T) {
	tests := []struct {
		name    string
		desired int32
		tasks   []types.Task
		want    types.Status
	}{
		{
			name: "zero tasks",
			want: types.Status{Running: false, TaskCount: 0, State: types.StateStopped},
		},
		{
			name:    "one running task",
			desired: 1,
			tasks:   []types.Task{task("t1", types.TaskStatusRunning, "eni-1")},
			want:    types.Status{Running: true, TaskCount: 1, State: types.StateRunning},
		},
		{
			name:    "task still provisioning",
			desired: 1,
			tasks:   []types.Task{task("t1", types.TaskStatusProvisioning, "")},
			want:    types.Status{Running: false, TaskCount: 1, State: types.StateStarting},
		},
		{
			name:    "task draining after scale down",
			desired: 0,
			tasks:   []types.Task{task("t1", types.TaskStatusDeactivating, "eni-1")},
			want:    types.Status{Running: false, TaskCount: 1, State: types.StateStopping},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := memory.New()
			p.SetDesired(workload, tt.desired)
			p.SetTasks(workload, tt.tasks...)

			got, err := NewService(Config{Workload: workload, Platform: p, DeriveState: true}).Query(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
			assert.Empty(t, p.Mutations())
		})
	}
}

func TestQuery_StateOmittedWithoutStore(t *testing.T) {
	p := memory.New()

	got, err := NewService(Config{Workload: workload, Platform: p}).Query(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.Status{Running: false, TaskCount: 0}, *got)
}

func TestQuery_PublicIP(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	p.SetDesired(workload, 1)
	p.SetTasks(workload, task("t1", types.TaskStatusRunning, "eni-1"))
	p.AddAddress("eipalloc-1", "203.0.113.7")
	svc := NewService(Config{Workload: workload, Platform: p, AllocationID: "eipalloc-1"})

	// Not associated yet
	got, err := svc.Query(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.PublicIP)

	require.NoError(t, p.AssociateAddress(ctx, "eipalloc-1", "eni-1"))
	got, err = svc.Query(ctx)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", got.PublicIP)
}

func TestQuery_StateFromStore(t *testing.T) {
	ctx := context.Background()
	store, err := state.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Transition(ctx, workload, []types.LifecycleState{types.StateStopped}, types.StateStarting, "launcher")
	require.NoError(t, err)

	p := memory.New()
	got, err := NewService(Config{Workload: workload, Platform: p, Store: store}).Query(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StateStarting, got.State)
	assert.False(t, got.Running)
}

func TestQuery_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("list failure is fatal", func(t *testing.T) {
		p := memory.New()
		p.FailOn("ListTasks", platform.Classified(platform.ErrPermission, errors.New("AccessDenied")))

		_, err := NewService(Config{Workload: workload, Platform: p, DeriveState: true}).Query(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, platform.ErrPermission)
	})

	t.Run("optional lookups degrade", func(t *testing.T) {
		p := memory.New()
		p.SetTasks(workload, task("t1", types.TaskStatusRunning, "eni-1"))
		p.FailOn("DesiredCount", platform.Classified(platform.ErrTransient, errors.New("throttled")))
		p.FailOn("DescribeAddress", platform.Classified(platform.ErrTransient, errors.New("throttled")))

		got, err := NewService(Config{Workload: workload, Platform: p, AllocationID: "eipalloc-1"}).Query(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.Status{Running: true, TaskCount: 1}, *got)
	})
}
