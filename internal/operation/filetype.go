package operation

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/terassyi/donyu/internal/errors"
	"github.com/terassyi/donyu/internal/vars"
)

// KindRegisterFileType associates a file extension with an installed
// program. Args: extension, command, optional description.
//
// The association is recorded as an entry file under the target directory's
// filetypes registry. That entry file is the only effect: no association is
// registered with the platform shell. Undo removes the entry.
const KindRegisterFileType = "RegisterFileType"

func registerFileType(r *Registry) {
	r.Register(KindRegisterFileType, Funcs{
		Backup:  fileTypeBackup,
		Perform: fileTypePerform,
		Undo:    fileTypeUndo,
		Describe: func(op *Operation) string {
			return fmt.Sprintf("register file type .%s", op.Args[0])
		},
	})
}

// fileTypeDir returns the association registry below the target directory.
func fileTypeDir(ctx *Context) string {
	return filepath.Join(ctx.Vars[vars.TargetDir], ".filetypes")
}

func fileTypeEntry(ctx *Context, ext string) string {
	return filepath.Join(fileTypeDir(ctx), ext+".assoc")
}

func fileTypeBackup(ctx *Context, op *Operation) error {
	args := ctx.expand(op.Args)
	if len(args) < 2 {
		return errors.NewInvariantViolation("RegisterFileType expects extension and command arguments")
	}
	entry := fileTypeEntry(ctx, args[0])
	data, err := os.ReadFile(entry)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	op.setState("prior", string(data))
	return nil
}

func fileTypePerform(ctx *Context, op *Operation) error {
	args := ctx.expand(op.Args)
	ext, command := args[0], args[1]
	description := ""
	if len(args) > 2 {
		description = args[2]
	}

	if err := os.MkdirAll(fileTypeDir(ctx), 0755); err != nil {
		return err
	}
	entry := fileTypeEntry(ctx, ext)
	content := fmt.Sprintf("extension=%s\ncommand=%s\ndescription=%s\n", ext, command, description)
	if err := os.WriteFile(entry, []byte(content), 0644); err != nil {
		return err
	}
	op.setState("entry", entry)
	return nil
}

func fileTypeUndo(_ *Context, op *Operation) error {
	entry := op.state("entry")
	if entry == "" {
		return nil
	}
	if op.hasState("prior") {
		return os.WriteFile(entry, []byte(op.state("prior")), 0644)
	}
	if err := os.Remove(entry); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
