package transaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/taskflow/internal/logging"
	"github.com/fyrsmithlabs/taskflow/internal/storage"
	"github.com/fyrsmithlabs/taskflow/internal/tasks"
	"github.com/fyrsmithlabs/taskflow/internal/telemetry"
)

var dbs = storage.DatabaseIDs{Templates: "templates", Steps: "steps", Instances: "instances"}

var fixedNow = time.Date(2024, 5, 1, 8, 30, 15, 123456789, time.UTC)

// faultyBackend wraps a MemoryStore and fails selected calls.
type faultyBackend struct {
	*storage.MemoryStore

	mu              sync.Mutex
	creates         map[string]int
	failCreate      map[string]int // collection -> 1-based call to fail
	failArchive     map[string]bool
	failArchiveCall int // nth archive call to fail, when non-zero
	archives        int
	calls           []string
	archiveLog      []string
}

func newFaultyBackend() *faultyBackend {
	return &faultyBackend{
		MemoryStore: storage.NewMemoryStore(),
		creates:     make(map[string]int),
		failCreate:  make(map[string]int),
		failArchive: make(map[string]bool),
	}
}

func (b *faultyBackend) CreateRecord(ctx context.Context, collection string, fields storage.Fields) (string, error) {
	b.mu.Lock()
	b.creates[collection]++
	n := b.creates[collection]
	b.calls = append(b.calls, "create:"+collection)
	fail := b.failCreate[collection] == n
	b.mu.Unlock()

	if fail {
		return "", errors.New("remote store unavailable")
	}
	return b.MemoryStore.CreateRecord(ctx, collection, fields)
}

func (b *faultyBackend) ArchiveRecord(ctx context.Context, id string) error {
	b.mu.Lock()
	b.calls = append(b.calls, "archive")
	b.archiveLog = append(b.archiveLog, id)
	b.archives++
	fail := b.failArchive[id] || b.failArchiveCall == b.archives
	b.mu.Unlock()

	if fail {
		return errors.New("archive rejected")
	}
	return b.MemoryStore.ArchiveRecord(ctx, id)
}

func (b *faultyBackend) createdIDs(t *testing.T, collection string) []string {
	t.Helper()
	var ids []string
	for _, r := range b.Records(collection) {
		ids = append(ids, r.ID)
	}
	return ids
}

func newTestCoordinator(t *testing.T, backend storage.Backend) (*Coordinator, *telemetry.TestTelemetry, *logging.TestLogger) {
	t.Helper()
	tel := telemetry.NewTestTelemetry()
	logs := logging.NewTestLogger()
	c := NewCoordinator(backend, logs.Underlying(),
		WithTracerProvider(tel.TracerProvider()),
		WithMeterProvider(tel.MeterProvider()),
		WithClock(func() time.Time { return fixedNow }),
	)
	return c, tel, logs
}

func input(steps ...string) tasks.CreateTaskInput {
	in := tasks.CreateTaskInput{Name: "Laundry", Date: "2024-05-01"}
	for _, s := range steps {
		in.Steps = append(in.Steps, tasks.StepInput{Name: s})
	}
	return in
}

func TestCoordinator_StepOrdersFollowInput(t *testing.T) {
	backend := newFaultyBackend()
	c, _, _ := newTestCoordinator(t, backend)

	names := []string{"Sort", "Wash", "Dry", "Fold", "Put away"}
	res := c.CreateTaskWithTemplate(context.Background(), input(names...), dbs)

	success, ok := res.(*Success)
	require.True(t, ok, "expected success, got %#v", res)
	require.Len(t, success.StepIDs, len(names))

	for i, id := range success.StepIDs {
		rec, err := backend.GetRecord(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, storage.Number(float64(i+1)), rec.Fields["Order"])
		assert.Equal(t, storage.Title(names[i]), rec.Fields["Name"])
		assert.Equal(t, storage.Relation(success.TemplateID), rec.Fields["Template"])
		assert.Equal(t, storage.Checkbox(false), rec.Fields["Done"])
	}

	inst, err := backend.GetRecord(context.Background(), success.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, storage.Relation(success.StepIDs[0]), inst.Fields["CurrentStep"])
	assert.Empty(t, success.CleanupIDs)
	assert.NotNil(t, success.CleanupIDs)
	assert.False(t, success.PartialCleanup)
}

func TestCoordinator_TrimsName(t *testing.T) {
	backend := newFaultyBackend()
	c, _, _ := newTestCoordinator(t, backend)

	in := input("  Warm up ")
	in.Name = "   Gym   "
	res := c.CreateTaskWithTemplate(context.Background(), in, dbs)

	success, ok := res.(*Success)
	require.True(t, ok, "expected success, got %#v", res)

	tpl, err := backend.GetRecord(context.Background(), success.TemplateID)
	require.NoError(t, err)
	assert.Equal(t, storage.Title("Gym"), tpl.Fields["Name"])

	step, err := backend.GetRecord(context.Background(), success.StepIDs[0])
	require.NoError(t, err)
	assert.Equal(t, storage.Title("Warm up"), step.Fields["Name"])

	inst, err := backend.GetRecord(context.Background(), success.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, storage.Title("Gym 2024-05-01"), inst.Fields["Name"])
}

func TestCoordinator_StrictSequence(t *testing.T) {
	backend := newFaultyBackend()
	c, _, _ := newTestCoordinator(t, backend)

	c.CreateTaskWithTemplate(context.Background(), input("a", "b"), dbs)

	assert.Equal(t, []string{
		"create:templates", "create:steps", "create:steps", "create:instances",
	}, backend.calls)
}

func TestCoordinator_TemplateOnly(t *testing.T) {
	backend := newFaultyBackend()
	c, tel, _ := newTestCoordinator(t, backend)

	res := c.CreateTaskWithTemplate(context.Background(), input(), dbs)

	success, ok := res.(*Success)
	require.True(t, ok)
	assert.Equal(t, 2, backend.Len())
	assert.Equal(t, []string{}, success.StepIDs)
	assert.Equal(t, []string{}, success.CleanupIDs)
	assert.False(t, success.PartialCleanup)

	inst, err := backend.GetRecord(context.Background(), success.InstanceID)
	require.NoError(t, err)
	_, hasCurrent := inst.Fields["CurrentStep"]
	assert.False(t, hasCurrent)
	assert.Equal(t, storage.Relation(), inst.Fields["CompletedSteps"])

	tel.AssertSpanAttribute(t, "transaction.create_task", "outcome", "success")
	assert.Equal(t, int64(1), tel.CounterValue(t, "taskflow.transaction.results_total"))
}

func TestCoordinator_TemplateFailure(t *testing.T) {
	backend := newFaultyBackend()
	backend.failCreate["templates"] = 1
	c, _, logs := newTestCoordinator(t, backend)

	res := c.CreateTaskWithTemplate(context.Background(), input("a"), dbs)

	failure, ok := res.(*Failure)
	require.True(t, ok)
	assert.Equal(t, TemplateCreationFailed, failure.Kind)
	assert.Equal(t, "Failed to create task template", failure.Message)
	assert.Equal(t, []string{}, failure.CleanupIDs)
	assert.False(t, failure.PartialCleanup)
	assert.Empty(t, backend.archiveLog)
	assert.Equal(t, 0, backend.Len())
	logs.AssertLogged(t, zapcore.ErrorLevel, "task creation rolled back")
}

func TestCoordinator_StepFailureCleanup(t *testing.T) {
	for k := 1; k <= 4; k++ {
		backend := newFaultyBackend()
		backend.failCreate["steps"] = k
		c, _, _ := newTestCoordinator(t, backend)

		res := c.CreateTaskWithTemplate(context.Background(), input("s1", "s2", "s3", "s4"), dbs)

		failure, ok := res.(*Failure)
		require.True(t, ok, "k=%d", k)
		assert.Equal(t, StepCreationFailed, failure.Kind)

		templateIDs := backend.createdIDs(t, "templates")
		require.Len(t, templateIDs, 1)
		require.Equal(t, templateIDs[0], failure.CleanupIDs[0], "k=%d", k)
		assert.Len(t, failure.CleanupIDs, k, "k=%d: template plus %d steps", k, k-1)
		assert.ElementsMatch(t, backend.createdIDs(t, "steps"), failure.CleanupIDs[1:])
		assert.Empty(t, backend.Records("instances"))
	}
}

func TestCoordinator_StepFailureArchivesCreated(t *testing.T) {
	backend := newFaultyBackend()
	backend.failCreate["steps"] = 2
	c, tel, _ := newTestCoordinator(t, backend)

	res := c.CreateTaskWithTemplate(context.Background(), input("s1", "s2", "s3"), dbs)

	failure, ok := res.(*Failure)
	require.True(t, ok)
	assert.Equal(t, "Failed to create flow steps", failure.Message)
	assert.False(t, failure.PartialCleanup)
	require.Len(t, failure.CleanupIDs, 2)

	tpl, err := backend.GetRecord(context.Background(), failure.CleanupIDs[0])
	require.NoError(t, err)
	assert.True(t, tpl.Archived)
	step1, err := backend.GetRecord(context.Background(), failure.CleanupIDs[1])
	require.NoError(t, err)
	assert.True(t, step1.Archived)
	assert.Equal(t, storage.Number(1), step1.Fields["Order"])

	assert.Equal(t, failure.CleanupIDs, backend.archiveLog)
	tel.AssertSpanAttribute(t, "transaction.create_task", "failed_step", int64(2))
	tel.AssertSpanAttribute(t, "transaction.create_task", "outcome", string(StepCreationFailed))
}

func TestCoordinator_InstanceFailureCleanup(t *testing.T) {
	backend := newFaultyBackend()
	backend.failCreate["instances"] = 1
	c, _, _ := newTestCoordinator(t, backend)

	res := c.CreateTaskWithTemplate(context.Background(), input("s1", "s2"), dbs)

	failure, ok := res.(*Failure)
	require.True(t, ok)
	assert.Equal(t, InstanceCreationFailed, failure.Kind)
	assert.Equal(t, "Failed to create task instance", failure.Message)
	require.Len(t, failure.CleanupIDs, 3)
	assert.Equal(t, backend.createdIDs(t, "templates")[0], failure.CleanupIDs[0])
	assert.ElementsMatch(t, backend.createdIDs(t, "steps"), failure.CleanupIDs[1:])
	assert.False(t, failure.PartialCleanup)

	for _, id := range failure.CleanupIDs {
		rec, err := backend.GetRecord(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, rec.Archived, id)
	}
}

func TestCoordinator_PartialCleanup(t *testing.T) {
	backend := newFaultyBackend()
	backend.failCreate["instances"] = 1
	backend.failArchiveCall = 2
	c, tel, logs := newTestCoordinator(t, backend)

	res := c.CreateTaskWithTemplate(context.Background(), input("s1", "s2"), dbs)

	failure, ok := res.(*Failure)
	require.True(t, ok)
	assert.Equal(t, InstanceCreationFailed, failure.Kind)
	assert.True(t, failure.PartialCleanup)
	require.Len(t, failure.CleanupIDs, 3)
	assert.Equal(t, backend.archiveLog, failure.CleanupIDs)

	step1, err := backend.GetRecord(context.Background(), failure.CleanupIDs[1])
	require.NoError(t, err)
	assert.False(t, step1.Archived)
	step2, err := backend.GetRecord(context.Background(), failure.CleanupIDs[2])
	require.NoError(t, err)
	assert.True(t, step2.Archived)

	logs.AssertLogged(t, zapcore.WarnLevel, "failed to archive record during rollback")
	assert.Equal(t, int64(1), tel.CounterValue(t, "taskflow.transaction.archive_failures_total"))
	tel.AssertSpanAttribute(t, "transaction.create_task", "partial_cleanup", true)
}

func TestCoordinator_IgnoresCallerCancellation(t *testing.T) {
	backend := newFaultyBackend()
	c, _, _ := newTestCoordinator(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := c.CreateTaskWithTemplate(ctx, input("a"), dbs)
	_, ok := res.(*Success)
	assert.True(t, ok)
	assert.Equal(t, 3, backend.Len())
}

func TestLedger_ArchivePages(t *testing.T) {
	backend := newFaultyBackend()
	a, _ := backend.MemoryStore.CreateRecord(context.Background(), "x", storage.Fields{})
	b, _ := backend.MemoryStore.CreateRecord(context.Background(), "x", storage.Fields{})
	backend.failArchive[a] = true

	logs := logging.NewTestLogger()
	l := newLedger(backend, logs.Underlying(), nil)

	report := l.ArchivePages(context.Background(), []string{a, b, "missing"})
	assert.Equal(t, []string{a, b, "missing"}, report.ArchivedIDs)
	assert.Equal(t, []string{a, "missing"}, report.FailedIDs)
	assert.True(t, report.PartialCleanup)

	rec, err := backend.GetRecord(context.Background(), b)
	require.NoError(t, err)
	assert.True(t, rec.Archived)

	empty := l.ArchivePages(context.Background(), nil)
	assert.Equal(t, []string{}, empty.ArchivedIDs)
	assert.False(t, empty.PartialCleanup)
}

func TestTemplateFields(t *testing.T) {
	f := TemplateFields(tasks.CreateTaskInput{Name: "Gym"})
	assert.Equal(t, storage.Fields{
		"Name":             storage.Title("Gym"),
		"Icon":             storage.Text(tasks.DefaultIcon),
		"Color":            storage.Select("blue"),
		"IsRepeating":      storage.Checkbox(false),
		"DefaultFrequency": storage.Select("daily"),
		"Active":           storage.Checkbox(true),
	}, f)

	f = TemplateFields(tasks.CreateTaskInput{
		Name:             "Gym",
		Icon:             "🏋",
		Color:            tasks.ColorRed,
		IsRepeating:      true,
		DefaultFrequency: tasks.FrequencyWeekly,
		Repeat: &tasks.RepeatOptions{
			Weekdays: []tasks.Weekday{tasks.Monday, tasks.Thursday},
			EndDate:  "2024-12-31",
			Count:    20,
		},
	})
	assert.Equal(t, storage.Select("weekly"), f["RepeatFrequency"])
	assert.Equal(t, storage.MultiSelect("mon", "thu"), f["RepeatWeekdays"])
	assert.Equal(t, storage.Date("2024-12-31"), f["RepeatEndDate"])
	assert.Equal(t, storage.Number(20), f["RepeatCount"])
	assert.Equal(t, storage.Text("🏋"), f["Icon"])

	f = TemplateFields(tasks.CreateTaskInput{
		Name:        "Gym",
		IsRepeating: true,
		Repeat:      &tasks.RepeatOptions{Frequency: tasks.FrequencyCustom},
	})
	assert.Equal(t, storage.Select("custom"), f["RepeatFrequency"])
	assert.NotContains(t, f, "RepeatWeekdays")
	assert.NotContains(t, f, "RepeatEndDate")
	assert.NotContains(t, f, "RepeatCount")
}

func TestInstanceFields(t *testing.T) {
	f, err := InstanceFields(InstanceInput{TemplateID: "t1", TemplateName: "Gym", Date: "2024-05-01"}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, storage.Fields{
		"Name":           storage.Title("Gym 2024-05-01"),
		"Template":       storage.Relation("t1"),
		"Date":           storage.Date("2024-05-01T00:00:00.000Z"),
		"Status":         storage.Select("todo"),
		"CompletedSteps": storage.Relation(),
		"CreatedAt":      storage.Date("2024-05-01T08:30:15.123Z"),
	}, f)

	_, err = InstanceFields(InstanceInput{TemplateID: "t1", Date: "05/01/2024"}, fixedNow)
	assert.Error(t, err)
}

func TestFailure_Error(t *testing.T) {
	cause := errors.New("boom")
	f := &Failure{Kind: StepCreationFailed, Message: StepCreationFailed.Message(), Cause: cause}
	assert.ErrorIs(t, f, cause)
	assert.Equal(t, "Failed to create flow steps: boom", f.Error())
}
