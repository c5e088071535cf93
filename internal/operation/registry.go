package operation

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/terassyi/donyu/internal/errors"
	"github.com/terassyi/donyu/internal/vars"
)

// Context carries what an operation phase needs: the variable snapshot its
// arguments expand against, the backup directory, and a progress callback.
type Context struct {
	Vars      vars.Snapshot
	BackupDir string

	// Progress receives intermediate fractions in [0, 1] from long
	// operations. May be nil.
	Progress func(fraction float64)
}

// expand substitutes variables into the operation arguments.
func (c *Context) expand(args []string) []string {
	if c.Vars == nil {
		return args
	}
	return c.Vars.ExpandAll(args)
}

// backupPath returns a per-operation file path under the backup directory.
func (c *Context) backupPath(op *Operation, suffix string) string {
	return filepath.Join(c.BackupDir, op.Kind+"-"+op.ID()+suffix)
}

// progress reports an intermediate fraction if a callback is set.
func (c *Context) progress(fraction float64) {
	if c.Progress != nil {
		c.Progress(fraction)
	}
}

// Funcs is the behavior registered for an operation kind.
type Funcs struct {
	// Backup captures prior state sufficient for Undo. Runs before Perform.
	Backup func(*Context, *Operation) error
	// Perform applies the side effect.
	Perform func(*Context, *Operation) error
	// Undo reverses Perform using the captured state.
	Undo func(*Context, *Operation) error
	// Describe renders a one-line human description.
	Describe func(*Operation) string
}

// Registry maps operation kinds to their behavior. Extension points may
// register additional kinds at startup; tests stub kinds at will.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Funcs
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Funcs)}
}

// Builtin returns a registry with every built-in kind registered.
func Builtin() *Registry {
	r := NewRegistry()
	registerFileOps(r)
	registerExtract(r)
	registerExecute(r)
	registerEnvironmentVariable(r)
	registerShortcut(r)
	registerFileType(r)
	registerTextFileOps(r)
	return r
}

// Register adds or replaces a kind.
func (r *Registry) Register(kind string, f Funcs) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = f
}

// Known reports whether the kind is registered.
func (r *Registry) Known(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kinds[kind]
	return ok
}

// Create constructs an operation of a registered kind. Unknown kinds are a
// fatal factory error.
func (r *Registry) Create(kind string, args []string, attrs map[string]string) (*Operation, error) {
	if !r.Known(kind) {
		return nil, errors.NewUnknownOperationError(kind)
	}
	op := New(kind, args...)
	for k, v := range attrs {
		op.SetAttr(k, v)
	}
	return op, nil
}

func (r *Registry) funcs(kind string) (Funcs, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.kinds[kind]
	if !ok {
		return Funcs{}, errors.NewUnknownOperationError(kind)
	}
	return f, nil
}

// Backup runs the backup phase.
func (r *Registry) Backup(ctx *Context, op *Operation) error {
	f, err := r.funcs(op.Kind)
	if err != nil {
		return err
	}
	if f.Backup == nil {
		return nil
	}
	return f.Backup(ctx, op)
}

// Perform runs the perform phase.
func (r *Registry) Perform(ctx *Context, op *Operation) error {
	f, err := r.funcs(op.Kind)
	if err != nil {
		return err
	}
	if f.Perform == nil {
		return nil
	}
	return f.Perform(ctx, op)
}

// Undo runs the undo phase.
func (r *Registry) Undo(ctx *Context, op *Operation) error {
	f, err := r.funcs(op.Kind)
	if err != nil {
		return err
	}
	if f.Undo == nil {
		return nil
	}
	return f.Undo(ctx, op)
}

// Describe renders the operation for progress and logs.
func (r *Registry) Describe(op *Operation) string {
	f, err := r.funcs(op.Kind)
	if err != nil || f.Describe == nil {
		return fmt.Sprintf("%s %v", op.Kind, op.Args)
	}
	return f.Describe(op)
}
