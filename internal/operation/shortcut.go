package operation

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/terassyi/donyu/internal/errors"
)

// KindCreateShortcut writes an OS launcher entry pointing at an installed
// program. Args: target executable, shortcut path, optional description.
const KindCreateShortcut = "CreateShortcut"

func registerShortcut(r *Registry) {
	r.Register(KindCreateShortcut, Funcs{
		Perform: shortcutPerform,
		Undo:    shortcutUndo,
		Describe: func(op *Operation) string {
			return fmt.Sprintf("create shortcut %s", op.Args[1])
		},
	})
}

func shortcutPerform(ctx *Context, op *Operation) error {
	args := ctx.expand(op.Args)
	if len(args) < 2 {
		return errors.NewInvariantViolation("CreateShortcut expects target and shortcut arguments")
	}
	target, path := args[0], args[1]
	description := ""
	if len(args) > 2 {
		description = args[2]
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var err error
	switch runtime.GOOS {
	case "windows":
		// .url entries launch without shell COM plumbing.
		content := fmt.Sprintf("[InternetShortcut]\r\nURL=file:///%s\r\n", filepath.ToSlash(target))
		err = os.WriteFile(path, []byte(content), 0644)
	case "darwin":
		err = os.Symlink(target, path)
	default:
		content := fmt.Sprintf("[Desktop Entry]\nType=Application\nName=%s\nExec=%s\n",
			nonEmpty(description, filepath.Base(target)), target)
		err = os.WriteFile(path, []byte(content), 0755)
	}
	if err != nil {
		return err
	}
	op.setState("path", path)
	return nil
}

func shortcutUndo(_ *Context, op *Operation) error {
	path := op.state("path")
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
