package output

import (
	"io"
	"os"
	"sync"

	"github.com/rafabd1/Wildfuzz/internal/utils"
)

const clearLine = "\033[2K\r"

// TerminalController serializes everything written to the terminal so log
// lines, findings and the progress status line never interleave. The status
// line is erased before each write and drawn again after it.
type TerminalController struct {
	mu         sync.Mutex
	out        io.Writer
	isTerminal bool
	status     string // status line currently drawn, empty when none
}

// NewTerminalController wraps out. When isTerminal is false the status line
// is never drawn and writes pass straight through.
func NewTerminalController(out io.Writer, isTerminal bool) *TerminalController {
	return &TerminalController{out: out, isTerminal: isTerminal}
}

// NewStderrController returns a controller for os.Stderr, detecting whether it is a terminal.
func NewStderrController() *TerminalController {
	return NewTerminalController(os.Stderr, utils.IsTerminal(os.Stderr.Fd()))
}

// Write implements io.Writer for the logger.
func (tc *TerminalController) Write(p []byte) (int, error) {
	return tc.writeTo(tc.out, p)
}

// Wrap returns a writer for w that shares the controller's lock, used for
// output that goes to another stream of the same terminal (findings on stdout).
func (tc *TerminalController) Wrap(w io.Writer) io.Writer {
	return writerFunc(func(p []byte) (int, error) { return tc.writeTo(w, p) })
}

func (tc *TerminalController) writeTo(w io.Writer, p []byte) (int, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.status != "" {
		_, _ = io.WriteString(tc.out, clearLine)
	}
	n, err := w.Write(p)
	if tc.status != "" {
		_, _ = io.WriteString(tc.out, tc.status)
	}
	return n, err
}

// SetStatus replaces the status line. A no-op when not attached to a terminal.
func (tc *TerminalController) SetStatus(line string) {
	if !tc.isTerminal {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.status = line
	_, _ = io.WriteString(tc.out, clearLine+line)
}

// ClearStatus erases the status line and stops redrawing it.
func (tc *TerminalController) ClearStatus() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.status == "" {
		return
	}
	tc.status = ""
	_, _ = io.WriteString(tc.out, clearLine)
}

// HasStatus reports whether a status line is currently drawn.
func (tc *TerminalController) HasStatus() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.status != ""
}

func (tc *TerminalController) IsTerminal() bool {
	return tc.isTerminal
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
