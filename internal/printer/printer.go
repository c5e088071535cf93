// Package printer renders user-facing status lines for the CLI.
package printer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Printer writes colored status lines, degrading to plain text when the
// output is not a terminal.
type Printer struct {
	out io.Writer

	success *color.Color
	failure *color.Color
	warn    *color.Color
}

// New creates a Printer for w. Color is enabled only for terminals, and never
// when noColor is set.
func New(w io.Writer, noColor bool) *Printer {
	p := &Printer{
		out:     w,
		success: color.New(color.FgGreen),
		failure: color.New(color.FgRed, color.Bold),
		warn:    color.New(color.FgYellow),
	}
	if noColor || !writerIsTerminal(w) {
		p.success.DisableColor()
		p.failure.DisableColor()
		p.warn.DisableColor()
	}
	return p
}

func writerIsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Successf prints a green status line.
func (p *Printer) Successf(format string, args ...any) {
	p.success.Fprintf(p.out, format+"\n", args...)
}

// Failuref prints a red status line.
func (p *Printer) Failuref(format string, args ...any) {
	p.failure.Fprintf(p.out, format+"\n", args...)
}

// Warnf prints a yellow status line.
func (p *Printer) Warnf(format string, args ...any) {
	p.warn.Fprintf(p.out, format+"\n", args...)
}

// Plainf prints an uncolored line.
func (p *Printer) Plainf(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Table renders rows with aligned columns.
func (p *Printer) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}
