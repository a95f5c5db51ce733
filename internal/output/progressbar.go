package output

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rafabd1/Wildfuzz/internal/core"
)

var spinnerChars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// ProgressBar renders engine progress on the controller's status line. It is
// a core.Listener driven by the completion monitor ticks: every counters
// update redraws the bar.
type ProgressBar struct {
	core.NopListener

	tc     *TerminalController
	width  int
	prefix string

	mu        sync.Mutex
	startTime time.Time
	completed int64
	total     int64
	errors    int64
	state     core.FuzzerState
	spinner   int
	isActive  bool
}

func NewProgressBar(tc *TerminalController, width int, prefix string) *ProgressBar {
	if width < 1 {
		width = 30
	}
	return &ProgressBar{tc: tc, width: width, prefix: prefix}
}

// Start resets the elapsed time and enables rendering.
func (pb *ProgressBar) Start() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.startTime = time.Now()
	pb.isActive = true
}

// Stop disables rendering and erases the bar.
func (pb *ProgressBar) Stop() {
	pb.mu.Lock()
	wasActive := pb.isActive
	pb.isActive = false
	pb.mu.Unlock()
	if wasActive {
		pb.tc.ClearStatus()
	}
}

func (pb *ProgressBar) OnStateChanged(_ int64, s core.FuzzerState) {
	pb.mu.Lock()
	pb.state = s
	if s == core.StateRunning && pb.startTime.IsZero() {
		pb.startTime = time.Now()
	}
	pb.mu.Unlock()
}

func (pb *ProgressBar) OnCountersUpdated(_ int64, completed, total, errors int64) {
	pb.mu.Lock()
	pb.completed, pb.total, pb.errors = completed, total, errors
	if !pb.isActive {
		pb.mu.Unlock()
		return
	}
	pb.spinner = (pb.spinner + 1) % len(spinnerChars)
	line := pb.lineLocked(time.Now())
	pb.mu.Unlock()
	pb.tc.SetStatus(line)
}

func (pb *ProgressBar) OnFuzzerDisposed(int64) { pb.Stop() }

// Line returns the status line as it would be drawn now.
func (pb *ProgressBar) Line() string {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.lineLocked(time.Now())
}

func (pb *ProgressBar) lineLocked(now time.Time) string {
	current, total := pb.completed, pb.total
	if current > total {
		current = total
	}

	percent := 0.0
	if total > 0 {
		percent = float64(current) / float64(total) * 100
	}

	elapsed := time.Duration(0)
	if !pb.startTime.IsZero() {
		elapsed = now.Sub(pb.startTime)
	}

	var etaStr string
	switch {
	case current > 0 && current < total:
		etaStr = formatDuration(time.Duration(float64(elapsed) * float64(total-current) / float64(current)))
	case current >= total && total > 0:
		etaStr = "Done"
	default:
		etaStr = "N/A"
	}

	completedWidth := 0
	if total > 0 {
		completedWidth = int(float64(pb.width) * float64(current) / float64(total))
	}
	bar := strings.Repeat("█", completedWidth) + strings.Repeat("░", pb.width-completedWidth)

	status := fmt.Sprintf("%s%s [%s] %d/%d (%.2f%%) | Errors: %d | Elapsed: %s | ETA: %s",
		pb.prefix, spinnerChars[pb.spinner], bar, current, total, percent, pb.errors, formatDuration(elapsed), etaStr)
	if pb.state != core.StateRunning && pb.state != core.StateNotStarted {
		status += " | " + pb.state.String()
	}
	return status
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	s := d.Seconds()
	if s < 0 {
		s = 0
	}
	if s < 60 {
		return fmt.Sprintf("%.0fs", s)
	}

	m := int(s/60) % 60
	h := int(s / 3600)
	sRemaining := int(s) % 60
	if h < 1 {
		return fmt.Sprintf("%dm%02ds", m, sRemaining)
	}
	return fmt.Sprintf("%dh%02dm%02ds", h, m, sRemaining)
}
