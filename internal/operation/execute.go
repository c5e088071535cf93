package operation

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/terassyi/donyu/internal/errors"
)

// KindExecute runs a program. Args: program, arguments... An optional
// "UNDOEXECUTE" token splits the list into the perform command and the
// command undo runs instead.
const KindExecute = "Execute"

// undoSeparator splits perform arguments from the declared undo command.
const undoSeparator = "UNDOEXECUTE"

// AttrStdin optionally carries input piped to the program.
const AttrStdin = "stdin"

func registerExecute(r *Registry) {
	r.Register(KindExecute, Funcs{
		Perform: executePerform,
		Undo:    executeUndo,
		Describe: func(op *Operation) string {
			cmd, _ := splitExecuteArgs(op.Args)
			return fmt.Sprintf("execute %s", strings.Join(cmd, " "))
		},
	})
}

func splitExecuteArgs(args []string) (perform, undo []string) {
	for i, a := range args {
		if a == undoSeparator {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

func runCommand(argv []string, stdin string) error {
	if len(argv) == 0 {
		return errors.NewInvariantViolation("Execute expects a program argument")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w (output: %s)", argv[0], err, truncate(string(out), 512))
	}
	return nil
}

func executePerform(ctx *Context, op *Operation) error {
	perform, _ := splitExecuteArgs(ctx.expand(op.Args))
	return runCommand(perform, op.Attr(AttrStdin))
}

// executeUndo runs the declared undo command if the operation carries one.
func executeUndo(ctx *Context, op *Operation) error {
	_, undo := splitExecuteArgs(ctx.expand(op.Args))
	if len(undo) == 0 {
		return nil
	}
	return runCommand(undo, "")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
