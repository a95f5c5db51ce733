package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/rafabd1/Wildfuzz/internal/core"
	"github.com/rafabd1/Wildfuzz/internal/utils"
	"github.com/rafabd1/Wildfuzz/internal/wildcard"
)

// Finding is an interesting response worth reporting.
type Finding struct {
	ID          int64  `json:"id" yaml:"id"`
	Method      string `json:"method" yaml:"method"`
	URL         string `json:"url" yaml:"url"`
	StatusCode  int    `json:"status" yaml:"status"`
	Length      int    `json:"length" yaml:"length"`
	Words       int    `json:"words" yaml:"words"`
	Lines       int    `json:"lines" yaml:"lines"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Location    string `json:"location,omitempty" yaml:"location,omitempty"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Attempts    int    `json:"attempts" yaml:"attempts"`
	ElapsedMs   int64  `json:"elapsed_ms" yaml:"elapsed_ms"`
}

// NewFinding summarises a result.
func NewFinding(r *core.Result) Finding {
	sig := r.Signature()
	words, _ := strconv.Atoi(sig.Get(wildcard.FieldWordCount))
	lines, _ := strconv.Atoi(sig.Get(wildcard.FieldLineCount))
	f := Finding{
		ID:          r.ID,
		StatusCode:  r.StatusCode(),
		Length:      r.Length(),
		Words:       words,
		Lines:       lines,
		ContentType: sig.Get(wildcard.FieldContentType),
		Location:    sig.Get(wildcard.FieldLocation),
		Title:       sig.Get(wildcard.FieldHTMLTitle),
		Attempts:    r.Attempts,
		ElapsedMs:   r.Elapsed.Milliseconds(),
	}
	if r.Request != nil {
		f.Method = r.Request.Method
		if r.Request.URL != nil {
			f.URL = r.Request.URL.String()
		}
	}
	return f
}

func (f Finding) String() string {
	s := fmt.Sprintf("[%d] %s %s (size: %d, words: %d, lines: %d)", f.StatusCode, f.Method, f.URL, f.Length, f.Words, f.Lines)
	if f.Location != "" {
		s += " -> " + f.Location
	}
	if f.Title != "" {
		s += fmt.Sprintf(" %q", f.Title)
	}
	return s
}

// Summary is the document written by GenerateReport.
type Summary struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	Target     string    `json:"target" yaml:"target"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	State      string    `json:"state" yaml:"state"`
	Total      int64     `json:"total" yaml:"total"`
	Completed  int64     `json:"completed" yaml:"completed"`
	Errors     int64     `json:"errors" yaml:"errors"`
	Findings   []Finding `json:"findings" yaml:"findings"`
}

// Reporter collects interesting results from an engine. It is a
// core.Listener; findings are echoed to the live writer as they arrive.
type Reporter struct {
	core.NopListener

	runID  string
	target string
	live   io.Writer
	logger utils.Logger

	mu         sync.Mutex
	findings   []Finding
	startedAt  time.Time
	finishedAt time.Time
	state      core.FuzzerState
	completed  int64
	total      int64
	errors     int64
}

// NewReporter creates a Reporter with a fresh run id. live may be nil.
func NewReporter(target string, live io.Writer, logger utils.Logger) *Reporter {
	if logger == nil {
		logger = &utils.NoOpLogger{}
	}
	return &Reporter{
		runID:     uuid.NewString(),
		target:    target,
		live:      live,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
}

func (r *Reporter) RunID() string { return r.runID }

// AddFinding records a new finding.
func (r *Reporter) AddFinding(f Finding) {
	r.mu.Lock()
	r.findings = append(r.findings, f)
	r.mu.Unlock()
	if r.live != nil {
		if _, err := fmt.Fprintln(r.live, f.String()); err != nil {
			r.logger.Debugf("Failed to print finding %d: %v", f.ID, err)
		}
	}
}

func (r *Reporter) OnResultAdded(_ int64, res *core.Result, interesting bool) {
	if interesting {
		r.AddFinding(NewFinding(res))
	}
}

func (r *Reporter) OnStateChanged(_ int64, s core.FuzzerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	if s.IsTerminal() {
		r.finishedAt = time.Now().UTC()
	}
}

func (r *Reporter) OnCountersUpdated(_ int64, completed, total, errors int64) {
	r.mu.Lock()
	r.completed, r.total, r.errors = completed, total, errors
	r.mu.Unlock()
}

// SetCounters overrides the last counters seen, for the final snapshot taken after the engine stopped.
func (r *Reporter) SetCounters(c core.Counters) {
	r.OnCountersUpdated(0, c.Completed, c.Total, c.Errors)
}

// Findings returns a copy of the recorded findings in arrival order.
func (r *Reporter) Findings() []Finding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Finding(nil), r.findings...)
}

func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	findings := append([]Finding{}, r.findings...)
	return Summary{
		RunID:      r.runID,
		Target:     r.target,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
		State:      r.state.String(),
		Total:      r.total,
		Completed:  r.completed,
		Errors:     r.errors,
		Findings:   findings,
	}
}

// GenerateReport writes the summary to outputPath, or to stdout when it is empty.
func (r *Reporter) GenerateReport(outputPath string, format string) error {
	if outputPath == "" {
		return r.WriteReport(os.Stdout, format)
	}
	if err := utils.EnsureFilepathExists(outputPath); err != nil {
		return err
	}
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := r.WriteReport(file, format); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}
	r.logger.Infof("Report written to %s", outputPath)
	return nil
}

// WriteReport encodes the summary as text, json or yaml.
func (r *Reporter) WriteReport(w io.Writer, format string) error {
	summary := r.Summary()
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(summary)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(summary); err != nil {
			return err
		}
		return encoder.Close()
	case "", "text":
		return writeText(w, summary)
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

func writeText(w io.Writer, s Summary) error {
	if _, err := fmt.Fprintf(w, "Run: %s\nTarget: %s\nState: %s\nRequests: %d/%d (errors: %d)\nFindings: %d\n",
		s.RunID, s.Target, s.State, s.Completed, s.Total, s.Errors, len(s.Findings)); err != nil {
		return err
	}
	for _, f := range s.Findings {
		if _, err := fmt.Fprintf(w, "---\n%s\n", f); err != nil {
			return err
		}
	}
	return nil
}
