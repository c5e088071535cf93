package operation

import (
	"fmt"
	"os"

	"github.com/terassyi/donyu/internal/errors"
)

// Built-in filesystem operation kinds.
const (
	KindMkdir  = "Mkdir"
	KindCopy   = "Copy"
	KindDelete = "Delete"
)

func registerFileOps(r *Registry) {
	r.Register(KindMkdir, Funcs{
		Perform:  mkdirPerform,
		Undo:     mkdirUndo,
		Describe: func(op *Operation) string { return fmt.Sprintf("create directory %s", op.Args[0]) },
	})
	r.Register(KindCopy, Funcs{
		Backup:   copyBackup,
		Perform:  copyPerform,
		Undo:     copyUndo,
		Describe: func(op *Operation) string { return fmt.Sprintf("copy %s to %s", op.Args[0], op.Args[1]) },
	})
	r.Register(KindDelete, Funcs{
		Backup:   deleteBackup,
		Perform:  deletePerform,
		Undo:     deleteUndo,
		Describe: func(op *Operation) string { return fmt.Sprintf("delete %s", op.Args[0]) },
	})
}

// Mkdir: args[0] = directory. Undo removes only what perform created.

func mkdirPerform(ctx *Context, op *Operation) error {
	args := ctx.expand(op.Args)
	if len(args) != 1 {
		return errors.NewInvariantViolation("Mkdir expects exactly one argument")
	}
	created, err := firstMissingAncestor(args[0])
	if err != nil {
		return err
	}
	if err := os.MkdirAll(args[0], 0755); err != nil {
		return err
	}
	if created != "" {
		op.setState("created", created)
	}
	return nil
}

func mkdirUndo(_ *Context, op *Operation) error {
	created := op.state("created")
	if created == "" {
		return nil
	}
	return os.RemoveAll(created)
}

// Copy: args = src, dst. A pre-existing destination is backed up and
// restored on undo; otherwise undo deletes the copy.

func copyBackup(ctx *Context, op *Operation) error {
	args := ctx.expand(op.Args)
	if len(args) != 2 {
		return errors.NewInvariantViolation("Copy expects exactly two arguments")
	}
	dst := args[1]
	if _, err := os.Stat(dst); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	backup := ctx.backupPath(op, ".orig")
	if err := copyFile(dst, backup); err != nil {
		return err
	}
	op.setState("backup", backup)
	return nil
}

func copyPerform(ctx *Context, op *Operation) error {
	args := ctx.expand(op.Args)
	if err := copyFile(args[0], args[1]); err != nil {
		return err
	}
	op.setState("dst", args[1])
	return nil
}

func copyUndo(_ *Context, op *Operation) error {
	dst := op.state("dst")
	if dst == "" {
		return nil
	}
	if backup := op.state("backup"); backup != "" {
		return copyFile(backup, dst)
	}
	return os.Remove(dst)
}

// Delete: args[0] = path. The prior content (file or tree) is backed up so
// undo can restore it.

func deleteBackup(ctx *Context, op *Operation) error {
	args := ctx.expand(op.Args)
	if len(args) != 1 {
		return errors.NewInvariantViolation("Delete expects exactly one argument")
	}
	if _, err := os.Stat(args[0]); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	backup := ctx.backupPath(op, ".orig")
	if err := copyTree(args[0], backup); err != nil {
		return err
	}
	op.setState("backup", backup)
	return nil
}

func deletePerform(ctx *Context, op *Operation) error {
	args := ctx.expand(op.Args)
	if err := os.RemoveAll(args[0]); err != nil {
		return err
	}
	op.setState("path", args[0])
	return nil
}

func deleteUndo(_ *Context, op *Operation) error {
	backup := op.state("backup")
	if backup == "" {
		return nil
	}
	return copyTree(backup, op.state("path"))
}
