// Package executor drives the ordered operation batch of a run: backup,
// perform on a worker goroutine, journaling, privilege elevation, progress
// aggregation, and rollback on failure or cancellation.
package executor

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/terassyi/donyu/internal/checksum"
	"github.com/terassyi/donyu/internal/component"
	"github.com/terassyi/donyu/internal/errors"
	"github.com/terassyi/donyu/internal/hooks"
	"github.com/terassyi/donyu/internal/journal"
	"github.com/terassyi/donyu/internal/localstate"
	"github.com/terassyi/donyu/internal/operation"
	"github.com/terassyi/donyu/internal/run"
	"github.com/terassyi/donyu/internal/vars"
)

// Elevator runs operation phases with elevated rights. The helper client
// satisfies this.
type Elevator interface {
	ExecuteOperation(phase string, op *operation.Operation, snapshot vars.Snapshot) error
	Shutdown() error
}

// ElevatorFactory gains admin rights on demand, typically by spawning the
// privileged helper.
type ElevatorFactory func() (Elevator, error)

// Executor owns the component forest and the journals for the duration of
// one run.
type Executor struct {
	rc       *run.Context
	forest   *component.Forest
	registry *operation.Registry
	store    *localstate.Store
	vars     *vars.Map
	hooks    hooks.ComponentHooks

	// prior is the cross-session journal loaded from the maintenance tool.
	// Rollback never touches it; remove-before-update and uninstall do.
	prior *journal.Journal

	// committed collects this session's journaled operations.
	committed []*operation.Operation

	// pending collects performed but not yet committed operations of the
	// component currently executing.
	pending []*operation.Operation

	gainAdmin ElevatorFactory
	elevator  Elevator
	adminRefs int

	backupDir string
}

// Option configures an Executor.
type Option func(*Executor)

// WithHooks sets the component lifecycle hooks.
func WithHooks(h hooks.ComponentHooks) Option {
	return func(e *Executor) { e.hooks = h }
}

// WithElevatorFactory sets how admin rights are gained on demand.
func WithElevatorFactory(f ElevatorFactory) Option {
	return func(e *Executor) { e.gainAdmin = f }
}

// WithPriorJournal sets the cross-session journal from an earlier run.
func WithPriorJournal(j *journal.Journal) Option {
	return func(e *Executor) { e.prior = j }
}

// New creates an Executor.
func New(
	rc *run.Context,
	forest *component.Forest,
	registry *operation.Registry,
	store *localstate.Store,
	varMap *vars.Map,
	backupDir string,
	opts ...Option,
) *Executor {
	e := &Executor{
		rc:        rc,
		forest:    forest,
		registry:  registry,
		store:     store,
		vars:      varMap,
		hooks:     hooks.Nop{},
		prior:     journal.New(),
		backupDir: backupDir,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Journal returns the full committed journal: the prior journal plus this
// session's commits, in execution order. The artifact writer embeds it.
func (e *Executor) Journal() *journal.Journal {
	j := journal.New()
	j.Append(e.prior.Ops...)
	j.Append(e.committed...)
	return j
}

// Run executes the ordered install set transactionally. On operation failure
// or cancellation the current component's performed operations are undone in
// reverse; previously committed components stay installed.
func (e *Executor) Run(order []component.Handle) (run.Status, error) {
	// Materialize every component's operations up front: an unknown
	// operation kind aborts the session before any side effect happens.
	batches := make([][]*operation.Operation, len(order))
	for i, h := range order {
		ops, err := e.materialize(e.forest.Get(h))
		if err != nil {
			return run.StatusFailure, err
		}
		batches[i] = ops
	}

	for i, h := range order {
		n := e.forest.Get(h)
		if e.rc.Canceled() {
			return run.StatusCanceled, errors.Canceled
		}

		if st, err := e.installComponent(n, batches[i], i, len(order)); err != nil {
			return st, err
		}
	}

	e.rc.Progress.Progress(1)
	return run.StatusSuccess, nil
}

// installComponent drives one component: remove-before-update, checksum
// verification, backup + perform of each operation, then the atomic commit
// of journal and local state.
func (e *Executor) installComponent(n *component.Node, ops []*operation.Operation, index, total int) (run.Status, error) {
	name := n.Name()
	e.hooks.InstallStarted(name)
	e.rc.Progress.Message(fmt.Sprintf("Installing %s %s", name, n.Pkg.Version))

	adminWasActive := e.elevator != nil

	if n.Pkg.Flags.RemoveBeforeUpdate &&
		(e.rc.Mode == run.ModeUpdater || e.rc.Mode == run.ModePackageManager) {
		if err := e.removePriorInstallation(n); err != nil {
			e.hooks.InstallFinished(name, err)
			return run.StatusFailure, err
		}
	}

	if e.rc.Options.ChecksumDownload {
		if err := e.verifyArchives(n); err != nil {
			e.hooks.InstallFinished(name, err)
			return run.StatusFailure, err
		}
	}

	e.pending = nil
	for oi, op := range ops {
		if e.rc.Canceled() {
			e.rollbackPending()
			e.hooks.InstallFinished(name, errors.Canceled)
			return run.StatusCanceled, errors.Canceled
		}

		if err := e.runOperation(op, index, total, oi, len(ops)); err != nil {
			e.rollbackPending()
			e.hooks.InstallFinished(name, err)
			if e.rc.Canceled() {
				return run.StatusCanceled, errors.Canceled
			}
			return run.StatusFailure, err
		}
		e.pending = append(e.pending, op)
	}

	// Commit: journal first, then the local state entry. Invariant: every
	// journaled component name is present in the local state store.
	e.committed = append(e.committed, e.pending...)
	e.pending = nil

	e.store.Insert(localstate.InstalledRecord{
		Name:           name,
		Version:        n.Pkg.Version,
		LastUpdateDate: time.Now(),
	})
	if err := e.store.Flush(); err != nil {
		return run.StatusFailure, err
	}

	// Admin gained for this component's operations is dropped again; rights
	// gained earlier stay with their owner.
	if !adminWasActive {
		e.dropAdmin()
	}

	e.hooks.InstallFinished(name, nil)
	return run.StatusSuccess, nil
}

// runOperation executes backup and perform for one operation. Perform runs
// on a worker goroutine so the driver stays responsive; cancellation is
// observed only between operations because operations are not preemptible.
func (e *Executor) runOperation(op *operation.Operation, compIndex, compTotal, opIndex, opTotal int) error {
	desc := e.registry.Describe(op)
	e.hooks.OperationBegin(op.Component(), desc)

	snapshot := e.vars.Snapshot()
	opCtx := &operation.Context{
		Vars:      snapshot,
		BackupDir: e.backupDir,
		Progress: func(frac float64) {
			e.reportProgress(compIndex, compTotal, opIndex, opTotal, frac)
		},
	}

	phase := func(name string, local func() error) error {
		if !op.Admin() {
			return local()
		}
		if err := e.ensureElevated(); err != nil {
			return err
		}
		return e.elevator.ExecuteOperation(name, op, snapshot)
	}

	if err := phase("backup", func() error { return e.registry.Backup(opCtx, op) }); err != nil {
		e.hooks.OperationEnd(op.Component(), desc, err)
		return errors.NewOperationError(op.Kind, op.Component(), err)
	}

	done := make(chan error, 1)
	go func() {
		done <- phase("perform", func() error { return e.registry.Perform(opCtx, op) })
	}()
	err := <-done

	e.hooks.OperationEnd(op.Component(), desc, err)
	if err != nil {
		return errors.NewOperationError(op.Kind, op.Component(), err)
	}
	e.reportProgress(compIndex, compTotal, opIndex, opTotal, 1)
	return nil
}

// rollbackPending undoes the performed-but-uncommitted operations of the
// current component in strict reverse order. Undo failures are logged and
// never stop the rollback.
func (e *Executor) rollbackPending() {
	for i := len(e.pending) - 1; i >= 0; i-- {
		e.undoOne(e.pending[i])
	}
	e.pending = nil
}

// RollbackSession undoes everything this session performed — pending and
// committed operations — in strict reverse order, and removes the fully
// undone components from the local state store. The prior journal stays
// untouched. After a full rollback the store matches its pre-run content.
func (e *Executor) RollbackSession() error {
	e.rollbackPending()
	for i := len(e.committed) - 1; i >= 0; i-- {
		e.undoOne(e.committed[i])
	}
	for _, name := range sessionComponents(e.committed) {
		e.store.Remove(name)
	}
	e.committed = nil
	return e.store.Flush()
}

func sessionComponents(ops []*operation.Operation) []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range ops {
		c := op.Component()
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// undoOne runs one undo. An admin operation goes through the helper when one
// is active; with no active helper it is undone in-process.
func (e *Executor) undoOne(op *operation.Operation) {
	opCtx := &operation.Context{Vars: e.vars.Snapshot(), BackupDir: e.backupDir}
	var err error
	if op.Admin() && e.elevator != nil {
		err = e.elevator.ExecuteOperation("undo", op, opCtx.Vars)
	} else {
		err = e.registry.Undo(opCtx, op)
	}
	if err != nil {
		slog.Warn("undo failed during rollback",
			"kind", op.Kind, "component", op.Component(), "error", err)
	}
}

// removePriorInstallation undoes, in reverse journal order, every committed
// operation of the component or of anything it replaces, then drops those
// entries from the journal and the local state store.
func (e *Executor) removePriorInstallation(n *component.Node) error {
	names := append([]string{n.Name()}, n.Pkg.Replaces...)
	ops := e.prior.ByComponent(names...)
	for i := len(ops) - 1; i >= 0; i-- {
		e.undoOne(ops[i])
	}
	for _, name := range names {
		e.prior.RemoveComponent(name)
		e.store.Remove(name)
	}
	return e.store.Flush()
}

// verifyArchives checks each downloadable archive against its digest sidecar.
func (e *Executor) verifyArchives(n *component.Node) error {
	for _, a := range n.Pkg.DownloadableArchives {
		path := filepath.Join(n.Pkg.StagingDir, n.Name(), a)
		if err := checksum.VerifySidecar(path); err != nil {
			return errors.NewOperationError(operation.KindExtract, n.Name(), err)
		}
	}
	return nil
}

// materialize builds the component's operation list: one Extract per
// downloadable archive, then the declared operations. Every operation is
// tagged with its owning component.
func (e *Executor) materialize(n *component.Node) ([]*operation.Operation, error) {
	var ops []*operation.Operation
	for _, a := range n.Pkg.DownloadableArchives {
		op, err := e.registry.Create(operation.KindExtract,
			[]string{filepath.Join(n.Pkg.StagingDir, n.Name(), a), "@" + vars.TargetDir + "@"},
			map[string]string{operation.AttrComponent: n.Name()})
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	for _, spec := range n.Pkg.Operations {
		attrs := map[string]string{operation.AttrComponent: n.Name()}
		for k, v := range spec.Attrs {
			attrs[k] = v
		}
		op, err := e.registry.Create(spec.Kind, spec.Args, attrs)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// reportProgress folds one operation's fraction into the aggregate: each
// component owns an equal share of the whole, split equally over its
// operations.
func (e *Executor) reportProgress(compIndex, compTotal, opIndex, opTotal int, frac float64) {
	if compTotal == 0 || opTotal == 0 {
		return
	}
	compShare := 1.0 / float64(compTotal)
	opShare := compShare / float64(opTotal)
	aggregate := float64(compIndex)*compShare + float64(opIndex)*opShare + frac*opShare
	if aggregate > 1 {
		aggregate = 1
	}
	e.rc.Progress.Progress(aggregate)
}

// ensureElevated gains admin rights once; further calls are idempotent and
// share the active helper.
func (e *Executor) ensureElevated() error {
	if e.elevator != nil {
		return nil
	}
	if e.gainAdmin == nil {
		return errors.NewElevationError(fmt.Errorf("no elevation capability configured"))
	}
	el, err := e.gainAdmin()
	if err != nil {
		return err
	}
	e.elevator = el
	e.adminRefs = 1
	return nil
}

// dropAdmin releases one admin reference and shuts the helper down when the
// count reaches zero.
func (e *Executor) dropAdmin() {
	if e.elevator == nil || e.adminRefs == 0 {
		return
	}
	e.adminRefs--
	if e.adminRefs > 0 {
		return
	}
	if err := e.elevator.Shutdown(); err != nil {
		slog.Warn("helper shutdown failed", "error", err)
	}
	e.elevator = nil
}
