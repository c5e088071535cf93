// Package run carries the per-run context threaded through the resolver,
// executor, and helper client: mode, configuration, progress reporting, and
// user interaction. It replaces what would otherwise be process globals.
package run

import (
	"log/slog"
	"sync/atomic"
)

// Mode is the run mode of the engine, determined by the CLI flag or the
// maintenance tool's binary marker.
type Mode int

const (
	ModeInstaller Mode = iota
	ModeUpdater
	ModePackageManager
	ModeUninstaller
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeInstaller:
		return "installer"
	case ModeUpdater:
		return "updater"
	case ModePackageManager:
		return "package-manager"
	case ModeUninstaller:
		return "uninstaller"
	default:
		return "unknown"
	}
}

// Status is the overall outcome of a run. The numeric values are the
// process exit codes.
type Status int

const (
	StatusSuccess     Status = 0
	StatusFailure     Status = 1
	StatusCanceled    Status = 3
	StatusConfigError Status = 4
)

// Options is the recognized run configuration.
type Options struct {
	ForceInstallation  bool
	VirtualVisible     bool
	StrictParse        bool
	SilentRetries      uint
	ChecksumDownload   bool
	FilterNonImportant bool
	Silent             bool
}

// DefaultOptions returns the option defaults.
func DefaultOptions() Options {
	return Options{
		ForceInstallation:  true,
		SilentRetries:      3,
		FilterNonImportant: true,
	}
}

// ProgressSink receives aggregate progress from the executor.
type ProgressSink interface {
	// Progress reports the overall fraction completed, in [0, 1].
	Progress(fraction float64)
	// Message reports a human-readable status line.
	Message(msg string)
}

// Answer is a message handler verdict.
type Answer int

const (
	AnswerYes Answer = iota
	AnswerNo
	AnswerCancel
)

// MessageHandler answers questions raised mid-run (retry prompts, partial
// fetch confirmation). Implementations: interactive prompt, auto-accept,
// auto-reject.
type MessageHandler interface {
	Question(msg string) Answer
}

// Context is the explicit run context.
type Context struct {
	Mode     Mode
	Options  Options
	Progress ProgressSink
	Messages MessageHandler
	Logger   *slog.Logger

	canceled atomic.Bool
}

// New creates a Context with sane defaults for every seam.
func New(mode Mode, opts Options) *Context {
	return &Context{
		Mode:     mode,
		Options:  opts,
		Progress: NopProgress{},
		Messages: AutoAnswer{Answer: AnswerNo},
		Logger:   slog.Default(),
	}
}

// Cancel requests cooperative cancellation. All long operations observe the
// flag at their boundaries; the currently executing operation finishes first.
func (c *Context) Cancel() {
	c.canceled.Store(true)
}

// Canceled reports whether cancellation was requested.
func (c *Context) Canceled() bool {
	return c.canceled.Load()
}

// Retry implements the localstate answerer seam on top of the message handler.
func (c *Context) Retry(msg string) bool {
	return c.Messages.Question(msg) == AnswerYes
}

// NopProgress discards progress.
type NopProgress struct{}

func (NopProgress) Progress(float64) {}
func (NopProgress) Message(string)   {}

// AutoAnswer answers every question with a fixed verdict
// (--auto-accept-messages / --auto-reject-messages).
type AutoAnswer struct {
	Answer Answer
}

func (a AutoAnswer) Question(string) Answer { return a.Answer }
