package watchdog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/demand"
	"github.com/cuemby/burrow/pkg/launcher"
	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/platform/memory"
	"github.com/cuemby/burrow/pkg/state"
	"github.com/cuemby/burrow/pkg/types"
)

var workload = types.Workload{Cluster: "minecraft", Service: "minecraft-server"}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeCounter struct {
	n   int
	err error
}

func (f *fakeCounter) Count(ctx context.Context) (int, error) {
	return f.n, f.err
}

// hookedServices runs a hook before delegating SetDesiredCount
type hookedServices struct {
	platform.ServiceController
	before func(count int32)
}

func (h *hookedServices) SetDesiredCount(ctx context.Context, w types.Workload, count int32) error {
	if h.before != nil {
		h.before(count)
	}
	return h.ServiceController.SetDesiredCount(ctx, w, count)
}

type fixture struct {
	clock   *fakeClock
	counter *fakeCounter
	plat    *memory.Platform
	store   state.Store
}

func newFixture(t *testing.T, guarded bool) *fixture {
	t.Helper()
	f := &fixture{
		clock:   &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		counter: &fakeCounter{},
		plat:    memory.New(),
	}
	f.plat.SetDesired(workload, 1)
	if guarded {
		store, err := state.NewBoltStore(t.TempDir())
		require.NoError(t, err)
		f.store = store
		ctx := context.Background()
		_, err = store.Transition(ctx, workload, []types.LifecycleState{types.StateStopped}, types.StateStarting, "launcher")
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) watchdog(services platform.ServiceController) *Watchdog {
	if services == nil {
		services = f.plat
	}
	return New(Config{
		Workload:       workload,
		Services:       services,
		Store:          f.store,
		Counter:        f.counter,
		Actor:          "watchdog-test",
		StartupWindow:  10 * time.Minute,
		ShutdownWindow: 20 * time.Minute,
		Now:            f.clock.Now,
	})
}

func (f *fixture) state(t *testing.T) types.LifecycleState {
	t.Helper()
	rec, err := f.store.Get(context.Background(), workload)
	require.NoError(t, err)
	return rec.State
}

func TestStartup_AdvancesToRunning(t *testing.T) {
	f := newFixture(t, true)
	w := f.watchdog(nil)

	require.NoError(t, w.Startup(context.Background()))
	assert.Equal(t, types.StateRunning, f.state(t))
}

func TestTick_NobodyConnects(t *testing.T) {
	f := newFixture(t, false)
	w := f.watchdog(nil)
	ctx := context.Background()

	f.clock.Advance(9 * time.Minute)
	stopped, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Empty(t, f.plat.Mutations())

	f.clock.Advance(time.Minute)
	stopped, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, int32(0), f.plat.Desired(workload))
}

func TestTick_IdleAfterLastPlayer(t *testing.T) {
	f := newFixture(t, false)
	w := f.watchdog(nil)
	ctx := context.Background()

	f.counter.n = 2
	f.clock.Advance(5 * time.Minute)
	stopped, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, stopped)

	// The startup window no longer applies once someone has played
	f.counter.n = 0
	f.clock.Advance(15 * time.Minute)
	stopped, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, stopped)

	f.clock.Advance(5 * time.Minute)
	stopped, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Len(t, f.plat.MutationsOf(memory.MutationSetDesired), 1)
}

func TestTick_CounterError(t *testing.T) {
	f := newFixture(t, false)
	f.counter.err = errors.New("boom")
	w := f.watchdog(nil)

	f.clock.Advance(time.Hour)
	stopped, err := w.Tick(context.Background())
	assert.Error(t, err)
	assert.False(t, stopped)
	assert.Empty(t, f.plat.Mutations())
}

func TestShutdown_Guarded(t *testing.T) {
	f := newFixture(t, true)
	w := f.watchdog(nil)
	ctx := context.Background()
	require.NoError(t, w.Startup(ctx))

	stopped, err := w.Shutdown(ctx)
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, types.StateStopping, f.state(t))
	assert.Equal(t, int32(0), f.plat.Desired(workload))
}

func TestShutdown_ConflictKeepsServerUp(t *testing.T) {
	f := newFixture(t, true)
	w := f.watchdog(nil)
	ctx := context.Background()

	// Record is still STARTING: a launch is in progress
	stopped, err := w.Shutdown(ctx)
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Empty(t, f.plat.Mutations())
	assert.Equal(t, types.StateStarting, f.state(t))

	// The idle window starts over
	f.clock.Advance(9 * time.Minute)
	stopped, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, stopped)
}

func TestShutdown_RepairsAfterLauncherRace(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	services := &hookedServices{ServiceController: f.plat}
	services.before = func(count int32) {
		if count != 0 {
			return
		}
		// A launcher claims the record while the watchdog scales down
		_, err := f.store.Transition(ctx, workload, []types.LifecycleState{types.StateStopping}, types.StateStarting, "launcher")
		require.NoError(t, err)
	}

	w := f.watchdog(services)
	require.NoError(t, w.Startup(ctx))

	stopped, err := w.Shutdown(ctx)
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Equal(t, int32(1), f.plat.Desired(workload))
	assert.Equal(t, types.StateStarting, f.state(t))

	muts := f.plat.MutationsOf(memory.MutationSetDesired)
	require.Len(t, muts, 2)
	assert.Equal(t, int32(0), muts[0].Count)
	assert.Equal(t, int32(1), muts[1].Count)
}

func TestTick_DemandWhileRunningRestartsWindow(t *testing.T) {
	f := newFixture(t, true)
	w := f.watchdog(nil)
	ctx := context.Background()
	require.NoError(t, w.Startup(ctx))

	// Someone looks the server up while it sits idle
	l := launcher.New(launcher.Config{
		Workload: workload,
		Services: f.plat,
		Store:    f.store,
		Matcher:  demand.NewMatcher("mc.example.com"),
	})
	res, err := l.HandleSignals(ctx, []types.DemandSignal{{
		Source:   types.DemandSourceDNS,
		Hostname: "mc.example.com",
	}})
	require.NoError(t, err)
	assert.Equal(t, launcher.ResultNoop, res)

	f.clock.Advance(10 * time.Minute)
	stopped, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Equal(t, int32(1), f.plat.Desired(workload))
	assert.Equal(t, types.StateRunning, f.state(t))
	assert.Empty(t, f.plat.MutationsOf(memory.MutationSetDesired))

	// The restarted window still ends
	f.clock.Advance(10 * time.Minute)
	stopped, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, int32(0), f.plat.Desired(workload))
}

func TestShutdown_DemandBeforeClaimKeepsServerUp(t *testing.T) {
	f := newFixture(t, true)
	w := f.watchdog(nil)
	ctx := context.Background()
	require.NoError(t, w.Startup(ctx))

	_, err := f.store.Transition(ctx, workload, []types.LifecycleState{types.StateRunning}, types.StateRunning, "launcher")
	require.NoError(t, err)

	stopped, err := w.Shutdown(ctx)
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Equal(t, types.StateRunning, f.state(t))
	assert.Empty(t, f.plat.MutationsOf(memory.MutationSetDesired))

	// Nothing new since the rollback, so the next claim goes through
	stopped, err = w.Shutdown(ctx)
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, types.StateStopping, f.state(t))
}

func TestShutdown_ScaleFailureRestoresRunning(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	w := f.watchdog(nil)
	require.NoError(t, w.Startup(ctx))

	f.plat.FailOn("SetDesiredCount", platform.Classified(platform.ErrTransient, errors.New("throttled")))
	stopped, err := w.Shutdown(ctx)
	require.Error(t, err)
	assert.False(t, stopped)
	assert.Equal(t, types.StateRunning, f.state(t))
}

func TestRun_ExitsAfterShutdown(t *testing.T) {
	plat := memory.New()
	plat.SetDesired(workload, 1)

	w := New(Config{
		Workload:       workload,
		Services:       plat,
		Counter:        &fakeCounter{},
		Interval:       5 * time.Millisecond,
		StartupWindow:  20 * time.Millisecond,
		ShutdownWindow: time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, int32(0), plat.Desired(workload))
}

func TestPlayersOnline(t *testing.T) {
	tests := []struct {
		id      string
		want    int
		wantErr bool
	}{
		{id: "MCPE;Dedicated Server;622;1.20.40;3;10;1234;Bedrock level;Survival;1;19132;19133;", want: 3},
		{id: "MCPE;x;1;1;0;10", want: 0},
		{id: "MCPE;x;1", wantErr: true},
		{id: "MCPE;x;1;1;many;10", wantErr: true},
	}

	for _, tt := range tests {
		got, err := PlayersOnline(tt.id)
		if tt.wantErr {
			assert.Error(t, err, tt.id)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

const procNetTCP = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 00000000:63DD 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 11111 1 0000000000000000 100 0 0 10 0
   1: 0100007F:63DD 0100007F:D431 01 00000000:00000000 00:00000000 00000000  1000        0 22222 1 0000000000000000 20 4 30 10 -1
   2: 0100007F:63DD 0100007F:D432 01 00000000:00000000 00:00000000 00000000  1000        0 33333 1 0000000000000000 20 4 30 10 -1
   3: 0100007F:1F90 0100007F:D433 01 00000000:00000000 00:00000000 00000000  1000        0 44444 1 0000000000000000 20 4 30 10 -1
`

func TestSocketCounter(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "net"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "net", "tcp"), []byte(procNetTCP), 0o644))

	counter, err := NewSocketCounter(root, 25565)
	require.NoError(t, err)

	n, err := counter.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNewCounter(t *testing.T) {
	c, err := NewCounter("udp", t.TempDir(), 19132)
	require.NoError(t, err)
	assert.IsType(t, &PlayerCounter{}, c)

	c, err = NewCounter("tcp", t.TempDir(), 25565)
	require.NoError(t, err)
	assert.IsType(t, &SocketCounter{}, c)

	_, err = NewCounter("icmp", t.TempDir(), 1)
	assert.Error(t, err)
}
