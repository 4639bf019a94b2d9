package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

// statusStyles maps each kind to its bracketed tag and ANSI color.
var statusStyles = [...]struct {
	tag   string
	color string
}{
	statusInfo:  {"INFO", "\x1b[36m"},
	statusOK:    {"OK", "\x1b[32m"},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

const (
	ansiReset        = "\x1b[0m"
	statusLabelWidth = 18
)

// statusWriter prints the sectioned, tagged report used by `reelflow status`.
// Color is only emitted when the destination is a terminal.
type statusWriter struct {
	out   io.Writer
	color bool
}

func newStatusWriter(out io.Writer) *statusWriter {
	return &statusWriter{out: out, color: isTerminal(out)}
}

func (w *statusWriter) section(title string) {
	w.emit(statusStyles[statusInfo].color, "== "+strings.TrimSpace(title)+" ==")
}

func (w *statusWriter) line(label string, kind statusKind, message string) {
	style := statusStyles[kind]
	text := fmt.Sprintf("  %-*s [%s]", statusLabelWidth, label+":", style.tag)
	if message != "" {
		text += " " + message
	}
	w.emit(style.color, text)
}

// blank separates sections.
func (w *statusWriter) blank() {
	fmt.Fprintln(w.out)
}

func (w *statusWriter) emit(color, text string) {
	if w.color {
		text = color + text + ansiReset
	}
	fmt.Fprintln(w.out, text)
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
