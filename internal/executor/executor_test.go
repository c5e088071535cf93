package executor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terassyi/donyu/internal/catalog"
	"github.com/terassyi/donyu/internal/component"
	"github.com/terassyi/donyu/internal/errors"
	"github.com/terassyi/donyu/internal/journal"
	"github.com/terassyi/donyu/internal/localstate"
	"github.com/terassyi/donyu/internal/operation"
	"github.com/terassyi/donyu/internal/run"
	"github.com/terassyi/donyu/internal/vars"
)

// trace records the phase calls of the stub operation kind, letting tests
// assert exact execution and rollback order.
type trace struct {
	events []string
}

func (tr *trace) add(phase string, op *operation.Operation) {
	tr.events = append(tr.events, phase+":"+op.Attr("step"))
}

// stubRegistry registers a "Stub" kind whose perform fails when the
// operation carries fail=true, and an optional cancel trigger.
func stubRegistry(tr *trace, onPerform func(op *operation.Operation)) *operation.Registry {
	r := operation.NewRegistry()
	r.Register("Stub", operation.Funcs{
		Backup: func(_ *operation.Context, op *operation.Operation) error {
			tr.add("backup", op)
			return nil
		},
		Perform: func(_ *operation.Context, op *operation.Operation) error {
			if onPerform != nil {
				onPerform(op)
			}
			if op.Attr("fail") == "true" {
				return fmt.Errorf("synthetic failure")
			}
			tr.add("perform", op)
			return nil
		},
		Undo: func(_ *operation.Context, op *operation.Operation) error {
			tr.add("undo", op)
			return nil
		},
	})
	return r
}

func stubSpec(step string, attrs map[string]string) catalog.OperationSpec {
	a := map[string]string{"step": step}
	for k, v := range attrs {
		a[k] = v
	}
	return catalog.OperationSpec{Kind: "Stub", Attrs: a}
}

func buildFixture(t *testing.T, pkgs []*catalog.PackageRecord, installed []localstate.InstalledRecord, mode run.Mode) (*component.Forest, *localstate.Store) {
	t.Helper()
	cat := &catalog.Catalog{ApplicationName: "demo", Packages: make(map[string]*catalog.PackageRecord)}
	for _, p := range pkgs {
		cat.Packages[p.Name] = p
	}
	store, err := localstate.NewStore(t.TempDir())
	require.NoError(t, err)
	for _, r := range installed {
		store.Insert(r)
	}
	require.NoError(t, store.Flush())
	_, err = store.Load()
	require.NoError(t, err)
	return component.Build(cat, installed, mode, run.DefaultOptions()), store
}

func newExecutor(t *testing.T, rc *run.Context, f *component.Forest, reg *operation.Registry, store *localstate.Store, opts ...Option) *Executor {
	t.Helper()
	return New(rc, f, reg, store, vars.New(), t.TempDir(), opts...)
}

// Fresh install: A and B each with one op; both journal entries committed
// and both components recorded in the local store.
func TestRun_FreshInstall(t *testing.T) {
	tr := &trace{}
	reg := stubRegistry(tr, nil)

	a := &catalog.PackageRecord{Name: "A", Version: "1.0", Operations: []catalog.OperationSpec{stubSpec("a1", nil)}}
	b := &catalog.PackageRecord{Name: "B", Version: "1.0", Dependencies: []string{"A"},
		Operations: []catalog.OperationSpec{stubSpec("b1", nil)}}

	f, store := buildFixture(t, []*catalog.PackageRecord{a, b}, nil, run.ModeInstaller)
	f.SetChecked(f.ByName("B"), true)
	order := f.ComponentsToInstall(run.ModeInstaller, run.DefaultOptions())
	require.Len(t, order, 2)

	rc := run.New(run.ModeInstaller, run.DefaultOptions())
	e := newExecutor(t, rc, f, reg, store)

	st, err := e.Run(order)
	require.NoError(t, err)
	assert.Equal(t, run.StatusSuccess, st)
	assert.Equal(t, []string{"backup:a1", "perform:a1", "backup:b1", "perform:b1"}, tr.events)

	j := e.Journal()
	assert.Equal(t, 2, j.Len())

	// Journal / local-store consistency: every journaled component is in
	// the store.
	for _, name := range j.Components() {
		_, ok := store.Get(name)
		assert.True(t, ok, "component %s missing from local store", name)
	}
}

// Operation failure: op 3 of 5 throws; ops 2 and 1 are undone in reverse;
// the earlier committed component stays installed.
func TestRun_OperationFailureRollsBackPending(t *testing.T) {
	tr := &trace{}
	reg := stubRegistry(tr, nil)

	done := &catalog.PackageRecord{Name: "done", Version: "1.0",
		Operations: []catalog.OperationSpec{stubSpec("d1", nil)}}
	failing := &catalog.PackageRecord{Name: "failing", Version: "1.0",
		Operations: []catalog.OperationSpec{
			stubSpec("1", nil),
			stubSpec("2", nil),
			stubSpec("3", map[string]string{"fail": "true"}),
			stubSpec("4", nil),
			stubSpec("5", nil),
		}}

	f, store := buildFixture(t, []*catalog.PackageRecord{done, failing}, nil, run.ModeInstaller)
	rc := run.New(run.ModeInstaller, run.DefaultOptions())
	e := newExecutor(t, rc, f, reg, store)

	st, err := e.Run([]component.Handle{f.ByName("done"), f.ByName("failing")})
	require.Error(t, err)
	assert.Equal(t, run.StatusFailure, st)
	assert.ErrorIs(t, err, &errors.Error{Code: errors.CodeOperationFailed})

	assert.Equal(t, []string{
		"backup:d1", "perform:d1",
		"backup:1", "perform:1",
		"backup:2", "perform:2",
		"backup:3",
		"undo:2", "undo:1",
	}, tr.events)

	// The committed component survives; the failing one never lands.
	_, ok := store.Get("done")
	assert.True(t, ok)
	_, ok = store.Get("failing")
	assert.False(t, ok)
}

// Cancel mid-install: the flag set between operations 2 and 3 of a 5-op
// component rolls back ops 2 and 1 and reports Canceled.
func TestRun_CancelBetweenOperations(t *testing.T) {
	tr := &trace{}
	rc := run.New(run.ModeInstaller, run.DefaultOptions())

	reg := stubRegistry(tr, func(op *operation.Operation) {
		if op.Attr("step") == "2" {
			rc.Cancel()
		}
	})

	pkg := &catalog.PackageRecord{Name: "big", Version: "1.0",
		Operations: []catalog.OperationSpec{
			stubSpec("1", nil), stubSpec("2", nil), stubSpec("3", nil),
			stubSpec("4", nil), stubSpec("5", nil),
		}}

	f, store := buildFixture(t, []*catalog.PackageRecord{pkg}, nil, run.ModeInstaller)
	e := newExecutor(t, rc, f, reg, store)

	st, err := e.Run([]component.Handle{f.ByName("big")})
	require.Error(t, err)
	assert.Equal(t, run.StatusCanceled, st)
	assert.True(t, errors.IsCanceled(err))

	assert.Equal(t, []string{
		"backup:1", "perform:1",
		"backup:2", "perform:2",
		"undo:2", "undo:1",
	}, tr.events)

	_, ok := store.Get("big")
	assert.False(t, ok)
}

// Unknown operation kinds abort the session before any side effect.
func TestRun_UnknownOperationIsFatalUpFront(t *testing.T) {
	tr := &trace{}
	reg := stubRegistry(tr, nil)

	good := &catalog.PackageRecord{Name: "good", Version: "1.0",
		Operations: []catalog.OperationSpec{stubSpec("g", nil)}}
	bad := &catalog.PackageRecord{Name: "bad", Version: "1.0",
		Operations: []catalog.OperationSpec{{Kind: "Teleport"}}}

	f, store := buildFixture(t, []*catalog.PackageRecord{good, bad}, nil, run.ModeInstaller)
	rc := run.New(run.ModeInstaller, run.DefaultOptions())
	e := newExecutor(t, rc, f, reg, store)

	st, err := e.Run([]component.Handle{f.ByName("good"), f.ByName("bad")})
	require.Error(t, err)
	assert.Equal(t, run.StatusFailure, st)
	assert.ErrorIs(t, err, &errors.Error{Code: errors.CodeUnknownOperation})
	assert.Empty(t, tr.events)
}

// Full session rollback restores the pre-run local store.
func TestRollbackSession_RestoresPreRunState(t *testing.T) {
	tr := &trace{}
	reg := stubRegistry(tr, nil)

	a := &catalog.PackageRecord{Name: "A", Version: "1.0", Operations: []catalog.OperationSpec{stubSpec("a1", nil)}}
	b := &catalog.PackageRecord{Name: "B", Version: "1.0", Operations: []catalog.OperationSpec{stubSpec("b1", nil)}}

	pre := []localstate.InstalledRecord{{Name: "keep", Version: "0.9"}}
	f, store := buildFixture(t, []*catalog.PackageRecord{a, b}, pre, run.ModeInstaller)
	rc := run.New(run.ModeInstaller, run.DefaultOptions())
	e := newExecutor(t, rc, f, reg, store)

	st, err := e.Run([]component.Handle{f.ByName("A"), f.ByName("B")})
	require.NoError(t, err)
	assert.Equal(t, run.StatusSuccess, st)

	require.NoError(t, e.RollbackSession())
	assert.Equal(t, []string{
		"backup:a1", "perform:a1", "backup:b1", "perform:b1",
		"undo:b1", "undo:a1",
	}, tr.events)

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "keep", records[0].Name)
	assert.Equal(t, 0, e.Journal().Len())
}

// Remove-before-update: prior journal entries tagged with the component or
// anything it replaces are undone first, in reverse order.
func TestRun_RemoveBeforeUpdate(t *testing.T) {
	tr := &trace{}
	reg := stubRegistry(tr, nil)

	prior := journal.New()
	for _, step := range []string{"old1", "old2"} {
		op := operation.New("Stub")
		op.SetAttr(operation.AttrComponent, "legacy")
		op.SetAttr("step", step)
		prior.Append(op)
	}

	modern := &catalog.PackageRecord{Name: "modern", Version: "2.0",
		Replaces:   []string{"legacy"},
		Operations: []catalog.OperationSpec{stubSpec("new1", nil)}}
	modern.Flags.RemoveBeforeUpdate = true

	installed := []localstate.InstalledRecord{{Name: "legacy", Version: "1.0"}}
	f, store := buildFixture(t, []*catalog.PackageRecord{modern}, installed, run.ModeUpdater)

	rc := run.New(run.ModeUpdater, run.DefaultOptions())
	e := newExecutor(t, rc, f, reg, store, WithPriorJournal(prior))

	st, err := e.Run([]component.Handle{f.ByName("modern")})
	require.NoError(t, err)
	assert.Equal(t, run.StatusSuccess, st)

	assert.Equal(t, []string{
		"undo:old2", "undo:old1",
		"backup:new1", "perform:new1",
	}, tr.events)

	_, ok := store.Get("legacy")
	assert.False(t, ok)
	_, ok = store.Get("modern")
	assert.True(t, ok)

	// The prior journal dropped the legacy entries; the merged journal
	// carries only the new component's operations.
	assert.Equal(t, []string{"modern"}, e.Journal().Components())
}

// fakeElevator counts phase calls in place of a real helper.
type fakeElevator struct {
	calls    []string
	shutdown int
}

func (f *fakeElevator) ExecuteOperation(phase string, op *operation.Operation, _ vars.Snapshot) error {
	f.calls = append(f.calls, phase+":"+op.Kind)
	return nil
}

func (f *fakeElevator) Shutdown() error {
	f.shutdown++
	return nil
}

// Admin discipline: the helper is spawned once for the first admin
// operation, shared, and dropped when the gaining component finishes.
func TestRun_AdminOperationsUseHelper(t *testing.T) {
	tr := &trace{}
	reg := stubRegistry(tr, nil)

	pkg := &catalog.PackageRecord{Name: "privileged", Version: "1.0",
		Operations: []catalog.OperationSpec{
			stubSpec("user", nil),
			stubSpec("root1", map[string]string{operation.AttrAdmin: "true"}),
			stubSpec("root2", map[string]string{operation.AttrAdmin: "true"}),
		}}

	f, store := buildFixture(t, []*catalog.PackageRecord{pkg}, nil, run.ModeInstaller)
	rc := run.New(run.ModeInstaller, run.DefaultOptions())

	fake := &fakeElevator{}
	spawns := 0
	e := newExecutor(t, rc, f, reg, store, WithElevatorFactory(func() (Elevator, error) {
		spawns++
		return fake, nil
	}))

	st, err := e.Run([]component.Handle{f.ByName("privileged")})
	require.NoError(t, err)
	assert.Equal(t, run.StatusSuccess, st)

	assert.Equal(t, 1, spawns)
	assert.Equal(t, []string{"backup:Stub", "perform:Stub", "backup:Stub", "perform:Stub"}, fake.calls)
	assert.Equal(t, 1, fake.shutdown)
}

// Elevation failure fails the component and rolls back what was performed.
func TestRun_ElevationFailureRollsBack(t *testing.T) {
	tr := &trace{}
	reg := stubRegistry(tr, nil)

	pkg := &catalog.PackageRecord{Name: "privileged", Version: "1.0",
		Operations: []catalog.OperationSpec{
			stubSpec("user", nil),
			stubSpec("root", map[string]string{operation.AttrAdmin: "true"}),
		}}

	f, store := buildFixture(t, []*catalog.PackageRecord{pkg}, nil, run.ModeInstaller)
	rc := run.New(run.ModeInstaller, run.DefaultOptions())
	e := newExecutor(t, rc, f, reg, store, WithElevatorFactory(func() (Elevator, error) {
		return nil, errors.NewElevationError(fmt.Errorf("rejected"))
	}))

	st, err := e.Run([]component.Handle{f.ByName("privileged")})
	require.Error(t, err)
	assert.Equal(t, run.StatusFailure, st)
	assert.Equal(t, []string{"backup:user", "perform:user", "undo:user"}, tr.events)

	_, ok := store.Get("privileged")
	assert.False(t, ok)
}
