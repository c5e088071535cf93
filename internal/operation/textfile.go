package operation

import (
	"fmt"
	"os"
	"strings"

	"github.com/terassyi/donyu/internal/errors"
)

// Text-file editing kinds. Both back up the full prior content; undo is a
// plain restore (or removal when the file did not exist).
const (
	// KindAppendFile appends content to a file. Args: path, content.
	KindAppendFile = "AppendFile"

	// KindLineReplace replaces every line starting with a prefix.
	// Args: path, prefix, replacement.
	KindLineReplace = "LineReplace"
)

func registerTextFileOps(r *Registry) {
	r.Register(KindAppendFile, Funcs{
		Backup:   textFileBackup,
		Perform:  appendFilePerform,
		Undo:     textFileUndo,
		Describe: func(op *Operation) string { return fmt.Sprintf("append to %s", op.Args[0]) },
	})
	r.Register(KindLineReplace, Funcs{
		Backup:   textFileBackup,
		Perform:  lineReplacePerform,
		Undo:     textFileUndo,
		Describe: func(op *Operation) string { return fmt.Sprintf("edit %s", op.Args[0]) },
	})
}

func textFileBackup(ctx *Context, op *Operation) error {
	args := ctx.expand(op.Args)
	if len(args) < 2 {
		return errors.NewInvariantViolation(op.Kind + " expects a path argument and content arguments")
	}
	path := args[0]
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	backup := ctx.backupPath(op, ".orig")
	if err := copyFile(path, backup); err != nil {
		return err
	}
	op.setState("backup", backup)
	return nil
}

func appendFilePerform(ctx *Context, op *Operation) error {
	args := ctx.expand(op.Args)
	path, content := args[0], args[1]
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return err
	}
	op.setState("path", path)
	return nil
}

func lineReplacePerform(ctx *Context, op *Operation) error {
	args := ctx.expand(op.Args)
	if len(args) != 3 {
		return errors.NewInvariantViolation("LineReplace expects path, prefix, and replacement arguments")
	}
	path, prefix, replacement := args[0], args[1], args[2]

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, prefix) {
			lines[i] = replacement
		}
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return err
	}
	op.setState("path", path)
	return nil
}

func textFileUndo(_ *Context, op *Operation) error {
	path := op.state("path")
	if path == "" {
		return nil
	}
	if backup := op.state("backup"); backup != "" {
		return copyFile(backup, path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
