package operation

import (
	"fmt"
	"os"

	"github.com/terassyi/donyu/internal/errors"
)

// KindEnvironmentVariable sets an environment variable for the running
// process. Args: name, value. The prior value is recorded so undo can
// restore or unset it.
const KindEnvironmentVariable = "EnvironmentVariable"

func registerEnvironmentVariable(r *Registry) {
	r.Register(KindEnvironmentVariable, Funcs{
		Backup:  envVarBackup,
		Perform: envVarPerform,
		Undo:    envVarUndo,
		Describe: func(op *Operation) string {
			return fmt.Sprintf("set environment variable %s", op.Args[0])
		},
	})
}

func envVarBackup(ctx *Context, op *Operation) error {
	args := ctx.expand(op.Args)
	if len(args) != 2 {
		return errors.NewInvariantViolation("EnvironmentVariable expects name and value arguments")
	}
	if prior, ok := os.LookupEnv(args[0]); ok {
		op.setState("prior", prior)
	}
	return nil
}

func envVarPerform(ctx *Context, op *Operation) error {
	args := ctx.expand(op.Args)
	if err := os.Setenv(args[0], args[1]); err != nil {
		return err
	}
	op.setState("name", args[0])
	return nil
}

func envVarUndo(_ *Context, op *Operation) error {
	name := op.state("name")
	if name == "" {
		return nil
	}
	if op.hasState("prior") {
		return os.Setenv(name, op.state("prior"))
	}
	return os.Unsetenv(name)
}
