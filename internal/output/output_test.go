package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rafabd1/Wildfuzz/internal/core"
)

func TestTerminalControllerRedrawsStatusAroundWrites(t *testing.T) {
	var buf bytes.Buffer
	tc := NewTerminalController(&buf, true)

	tc.SetStatus("[bar]")
	_, err := tc.Write([]byte("log line\n"))
	assert.NoError(t, err)
	assert.Equal(t, clearLine+"[bar]"+clearLine+"log line\n"+"[bar]", buf.String())

	buf.Reset()
	var stdout bytes.Buffer
	_, _ = tc.Wrap(&stdout).Write([]byte("finding\n"))
	assert.Equal(t, "finding\n", stdout.String())
	assert.Equal(t, clearLine+"[bar]", buf.String())

	buf.Reset()
	tc.ClearStatus()
	tc.ClearStatus()
	assert.Equal(t, clearLine, buf.String())
	assert.False(t, tc.HasStatus())
}

func TestTerminalControllerPassthroughWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	tc := NewTerminalController(&buf, false)
	tc.SetStatus("[bar]")
	_, _ = tc.Write([]byte("plain\n"))
	assert.Equal(t, "plain\n", buf.String())
	assert.False(t, tc.HasStatus())
}

func TestProgressBarRendersCounters(t *testing.T) {
	var buf bytes.Buffer
	tc := NewTerminalController(&buf, true)
	pb := NewProgressBar(tc, 10, "fuzz ")

	pb.OnCountersUpdated(1, 5, 10, 2)
	assert.Empty(t, buf.String(), "nothing is drawn before Start")

	pb.Start()
	pb.OnStateChanged(1, core.StateRunning)
	pb.OnCountersUpdated(1, 5, 10, 2)
	line := pb.Line()
	assert.True(t, strings.HasPrefix(line, "fuzz "))
	assert.Contains(t, line, "[█████░░░░░] 5/10 (50.00%)")
	assert.Contains(t, line, "Errors: 2")
	assert.NotContains(t, line, "RUNNING")
	assert.True(t, tc.HasStatus())

	pb.OnStateChanged(1, core.StatePausedQuarantine)
	assert.True(t, strings.HasSuffix(pb.Line(), "| PAUSED_QUARANTINE"))

	pb.OnCountersUpdated(1, 10, 10, 2)
	assert.Contains(t, pb.Line(), "ETA: Done")

	pb.OnFuzzerDisposed(1)
	assert.False(t, tc.HasStatus())
}

func TestProgressBarEmpty(t *testing.T) {
	pb := NewProgressBar(NewTerminalController(&bytes.Buffer{}, false), 4, "")
	line := pb.Line()
	assert.Contains(t, line, "[░░░░] 0/0 (0.00%)")
	assert.Contains(t, line, "ETA: N/A")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", formatDuration(-time.Second))
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "3m05s", formatDuration(185*time.Second))
	assert.Equal(t, "2h00m07s", formatDuration(2*time.Hour+7*time.Second))
}
