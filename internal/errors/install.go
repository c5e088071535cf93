package errors

import (
	stderrors "errors"
	"fmt"
)

// NewManifestError reports a structurally malformed repository manifest.
// Line and column are zero when the underlying parser does not expose a
// position for the failure.
func NewManifestError(path string, line, col int, detail string) *Error {
	e := New(CategoryManifest, fmt.Sprintf("malformed manifest %s: %s", path, detail))
	e.Code = CodeManifestParse
	e.WithDetail("path", path)
	if line > 0 {
		e.WithDetail("line", line)
		e.WithDetail("column", col)
	}
	return e
}

// NewIncompatibleApplicationError reports repositories that describe
// different applications within the same run.
func NewIncompatibleApplicationError(want, got, repo string) *Error {
	e := New(CategoryManifest, fmt.Sprintf("repository %s serves application %q, expected %q", repo, got, want))
	e.Code = CodeIncompatibleApplication
	return e.WithHint("all configured repositories must serve the same application")
}

// NewCatalogLoadError reports a failure reading the installed-package catalog.
// The store marks read failures recoverable (the user may retry after fixing
// the target directory) and parse failures fatal. A missing file is not an
// error: the store reads it as an empty catalog.
func NewCatalogLoadError(path string, recoverable bool, cause error) *Error {
	e := Wrap(CategoryCatalog, fmt.Sprintf("cannot load installed catalog %s", path), cause)
	e.Code = CodeCatalogLoad
	e.Recoverable = recoverable
	return e
}

// NewCatalogFlushError reports a failure persisting the installed-package catalog.
func NewCatalogFlushError(path string, cause error) *Error {
	e := Wrap(CategoryCatalog, fmt.Sprintf("cannot write installed catalog %s", path), cause)
	e.Code = CodeCatalogFlush
	return e
}

// NewOperationError reports a failed operation perform phase.
func NewOperationError(kind, component string, cause error) *Error {
	e := Wrap(CategoryOperation, fmt.Sprintf("operation %s failed for component %s", kind, component), cause)
	e.Code = CodeOperationFailed
	return e
}

// NewUndoError reports a failed operation undo phase. Undo failures are
// logged during rollback but never abort it.
func NewUndoError(kind, component string, cause error) *Error {
	e := Wrap(CategoryOperation, fmt.Sprintf("undo of %s failed for component %s", kind, component), cause)
	e.Code = CodeUndoFailed
	return e
}

// NewUnknownOperationError reports an operation kind the factory cannot
// construct. Fatal for the session.
func NewUnknownOperationError(kind string) *Error {
	e := New(CategoryOperation, fmt.Sprintf("unknown operation kind %q", kind))
	e.Code = CodeUnknownOperation
	return e.WithHint("register the operation kind before loading the catalog")
}

// NewNetworkError reports a repository fetch failure.
func NewNetworkError(url string, cause error) *Error {
	e := Wrap(CategoryNetwork, fmt.Sprintf("fetch of %s failed", url), cause)
	e.Code = CodeNetworkFailed
	return e
}

// NewUserIgnoreError records that the user accepted a partial fetch; the run
// proceeds with the repositories that were obtained.
func NewUserIgnoreError(url string) *Error {
	e := New(CategoryNetwork, fmt.Sprintf("fetch of %s skipped on user request", url))
	e.Code = CodeUserIgnore
	return e
}

// NewElevationError reports an unavailable or rejected privileged helper.
func NewElevationError(cause error) *Error {
	e := Wrap(CategoryElevation, "cannot elevate access rights", cause)
	e.Code = CodeElevationDenied
	return e
}

// NewProtocolError reports a malformed helper packet.
func NewProtocolError(detail string) *Error {
	e := New(CategoryProtocol, "helper protocol violation: "+detail)
	e.Code = CodeHelperProtocol
	return e
}

// NewArtifactError reports a malformed or unwritable maintenance-tool binary.
func NewArtifactError(detail string, cause error) *Error {
	e := Wrap(CategoryArtifact, detail, cause)
	e.Code = CodeArtifactFormat
	return e
}

// Canceled is the sentinel for cooperative cancellation. It propagates to a
// clean rollback.
var Canceled = &Error{Category: CategoryCanceled, Code: CodeCanceled, Message: "canceled"}

// IsCanceled reports whether err is (or wraps) the cancellation sentinel.
func IsCanceled(err error) bool {
	return stderrors.Is(err, Canceled)
}

// NewInvariantViolation reports a programming error. The executor gives it no
// special treatment: an operation failing with it is rolled back like any
// other operation failure.
func NewInvariantViolation(detail string) *Error {
	e := New(CategoryInvariant, "invariant violation: "+detail)
	e.Code = CodeInvariantViolation
	return e
}
