package run

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/attpc/conductor/internal/app/orchestration"
	"github.com/attpc/conductor/internal/config"
	"github.com/attpc/conductor/internal/config/fileloader"
	"github.com/attpc/conductor/internal/domain/daq"
	"github.com/attpc/conductor/internal/infra/commands"
	"github.com/attpc/conductor/pkg/common/logger"
	"github.com/attpc/conductor/pkg/common/timeutil"
)

// fakeEngine records the transition calls in order.
type fakeEngine struct {
	calls []string
	fail  map[string]error
}

func (f *fakeEngine) call(name string) error {
	f.calls = append(f.calls, name)
	return f.fail[name]
}

func (f *fakeEngine) ReconfigureMasterBlocking(context.Context) error { return f.call("reconfigure") }
func (f *fakeEngine) StartFrontEndsBlocking(context.Context) error   { return f.call("startFrontEnds") }
func (f *fakeEngine) StartMaster(context.Context) error              { return f.call("startMaster") }
func (f *fakeEngine) StopMasterBlocking(context.Context) error       { return f.call("stopMaster") }
func (f *fakeEngine) StopFrontEnds(context.Context) error            { return f.call("stopFrontEnds") }

// fakeRunner returns a scripted status per command name.
type fakeRunner struct {
	statuses map[commands.Name]commands.Status
	executed []commands.Name
}

func (f *fakeRunner) Execute(_ context.Context, cmd commands.Command) commands.Status {
	f.executed = append(f.executed, cmd.Name)
	if status, ok := f.statuses[cmd.Name]; ok {
		return status
	}
	return commands.StatusSuccess
}

type fakeMonitors struct{}

func (fakeMonitors) Monitors() []daq.MonitorSnapshot {
	return []daq.MonitorSnapshot{{State: 1, Address: "192.168.41.60", Location: "/data"}}
}

type fixture struct {
	coord  *Coordinator
	engine *fakeEngine
	runner *fakeRunner
	clock  *timeutil.Mock
	cfg    config.Config
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	engine := &fakeEngine{fail: map[string]error{}}
	runner := &fakeRunner{statuses: map[commands.Name]commands.Status{
		// A fresh run number reads as "no data found".
		commands.NameCheckRunExists: commands.StatusFailure,
	}}
	clock := timeutil.NewMock(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))

	cfg := config.Default()
	cfg.Experiment = "e20009"
	cfg.RunNumber = 42

	loader := fileloader.NewFileLoader(filepath.Join(dir, "conductor.yaml"))
	require.NoError(t, loader.Save(context.Background(), &cfg))

	coord := NewCoordinator(
		engine, fakeMonitors{}, runner, loader,
		config.NewRunTable(filepath.Join(dir, "tables")),
		"/configs", filepath.Join(dir, "backups"),
		clock, logger.Noop(), noop.NewTracerProvider().Tracer("test"),
		orchestration.NoopMetrics{},
	)
	return &fixture{coord: coord, engine: engine, runner: runner, clock: clock, cfg: cfg, dir: dir}
}

func TestStartRun_OrderAndState(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.coord.StartRun(context.Background(), &f.cfg))
	assert.Equal(t, []string{"reconfigure", "startFrontEnds", "startMaster"}, f.engine.calls)
	assert.Equal(t, []commands.Name{commands.NameCheckRunExists}, f.runner.executed)
	assert.True(t, f.coord.IsRunning())

	f.clock.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, f.coord.Elapsed())
}

func TestStartRun_AbortsWhenRunExists(t *testing.T) {
	f := newFixture(t)
	f.runner.statuses[commands.NameCheckRunExists] = commands.StatusSuccess

	err := f.coord.StartRun(context.Background(), &f.cfg)
	assert.ErrorIs(t, err, ErrRunExists)
	assert.Empty(t, f.engine.calls, "no transition may run after an aborted pre-flight")
}

func TestStartRun_AbortsWhenCheckCannotRun(t *testing.T) {
	f := newFixture(t)
	f.runner.statuses[commands.NameCheckRunExists] = commands.StatusCouldNotExecute

	err := f.coord.StartRun(context.Background(), &f.cfg)
	assert.ErrorIs(t, err, ErrPreflight)
	assert.Empty(t, f.engine.calls)
}

func TestStartRun_PropagatesEngineErrors(t *testing.T) {
	f := newFixture(t)
	f.engine.fail["startFrontEnds"] = assert.AnError

	err := f.coord.StartRun(context.Background(), &f.cfg)
	require.Error(t, err)
	assert.False(t, f.coord.IsRunning())
	assert.NotContains(t, f.engine.calls, "startMaster",
		"master must not start when the front-ends did not")
}

func TestStopRun_OrderAndBookkeeping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.StartRun(ctx, &f.cfg))
	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.coord.StopRun(ctx, &f.cfg))

	assert.Equal(t,
		[]string{"reconfigure", "startFrontEnds", "startMaster", "stopMaster", "stopFrontEnds"},
		f.engine.calls)
	assert.Equal(t,
		[]commands.Name{commands.NameCheckRunExists, commands.NameMoveDataFiles, commands.NameBackupConfig},
		f.runner.executed)
	assert.False(t, f.coord.IsRunning())

	// Run number bumped and autosaved.
	assert.Equal(t, int32(43), f.cfg.RunNumber)
	saved, err := fileloader.NewFileLoader(filepath.Join(f.dir, "conductor.yaml")).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(43), saved.RunNumber)

	// Run table carries the measured duration for run 42.
	file, err := os.Open(filepath.Join(f.dir, "tables", "e20009.csv"))
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "42", rows[1][1])
	assert.Equal(t, "120", rows[1][2])
}

func TestStopRun_WithoutStartRecordsZeroDuration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.StopRun(ctx, &f.cfg))
	assert.False(t, f.coord.IsRunning())

	file, err := os.Open(filepath.Join(f.dir, "tables", "e20009.csv"))
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "0", rows[1][2], "a stop without a start has no measurable duration")
}

func TestStopRun_BookkeepingFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.coord.StartRun(ctx, &f.cfg))

	f.runner.statuses[commands.NameMoveDataFiles] = commands.StatusFailure
	f.runner.statuses[commands.NameBackupConfig] = commands.StatusCouldNotExecute

	require.NoError(t, f.coord.StopRun(ctx, &f.cfg))
	assert.Equal(t, int32(43), f.cfg.RunNumber)
}

func TestStopRun_PropagatesEngineErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.coord.StartRun(ctx, &f.cfg))

	f.engine.fail["stopMaster"] = assert.AnError
	err := f.coord.StopRun(ctx, &f.cfg)
	require.Error(t, err)
	// The run number must not advance when the detector did not stop.
	assert.Equal(t, int32(42), f.cfg.RunNumber)
}
