package main

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/terassyi/donyu/internal/printer"
)

// progressScale converts the executor's [0, 1] fraction into bar ticks.
const progressScale = 1000

// progressSink renders aggregate progress as a terminal bar, falling back to
// plain status lines when stdout is not a terminal.
type progressSink struct {
	container *mpb.Progress
	bar       *mpb.Bar
	out       *printer.Printer
}

func newProgressSink(out *printer.Printer, noColor bool) *progressSink {
	s := &progressSink{out: out}
	if noColor || !isatty.IsTerminal(os.Stdout.Fd()) {
		return s
	}
	s.container = mpb.New(mpb.WithWidth(48))
	s.bar = s.container.AddBar(progressScale,
		mpb.PrependDecorators(decor.Name("installing")),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return s
}

// Progress implements run.ProgressSink.
func (s *progressSink) Progress(fraction float64) {
	if s.bar == nil {
		return
	}
	s.bar.SetCurrent(int64(fraction * progressScale))
}

// Message implements run.ProgressSink.
func (s *progressSink) Message(msg string) {
	if s.bar != nil {
		return // the bar already narrates
	}
	s.out.Plainf("%s", msg)
}

// Finish completes the bar and waits for the renderer.
func (s *progressSink) Finish() {
	if s.bar == nil {
		return
	}
	s.bar.SetCurrent(progressScale)
	s.container.Wait()
}
