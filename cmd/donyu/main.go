package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/terassyi/donyu/internal/errors"
	"github.com/terassyi/donyu/internal/run"
)

var version = "1.0.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(int(statusFor(err)))
	}
	os.Exit(int(exitStatus))
}

// statusFor maps an error to the documented exit codes: 3 for cancellation,
// 4 for configuration and parse errors, 1 otherwise.
func statusFor(err error) run.Status {
	if errors.IsCanceled(err) {
		return run.StatusCanceled
	}
	var de *errors.Error
	if stderrors.As(err, &de) {
		switch de.Category {
		case errors.CategoryManifest, errors.CategoryCatalog:
			return run.StatusConfigError
		}
	}
	return run.StatusFailure
}
