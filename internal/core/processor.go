package core

import (
	"bytes"
	"fmt"

	regexp "github.com/wasilibs/go-re2"

	"github.com/rafabd1/Wildfuzz/internal/config"
	"github.com/rafabd1/Wildfuzz/internal/utils"
)

// Processor applies the user's match and filter rules to completed results.
// The wildcard verdict is combined with it by the task, not here.
type Processor struct {
	config       *config.Config
	logger       utils.Logger
	matchStatus  map[int]struct{}
	filterStatus map[int]struct{}
	filterSizes  map[int]struct{}
	matchRegex   *regexp.Regexp
	filterRegex  *regexp.Regexp
}

// NewProcessor creates a new Processor instance, compiling its regex rules.
func NewProcessor(cfg *config.Config, logger utils.Logger) (*Processor, error) {
	p := &Processor{
		config:       cfg,
		logger:       logger,
		matchStatus:  intSet(cfg.MatchStatus),
		filterStatus: intSet(cfg.FilterStatus),
		filterSizes:  intSet(cfg.FilterSizes),
	}
	var err error
	if cfg.MatchRegex != "" {
		if p.matchRegex, err = regexp.Compile(cfg.MatchRegex); err != nil {
			return nil, fmt.Errorf("invalid match regex %q: %w", cfg.MatchRegex, err)
		}
	}
	if cfg.FilterRegex != "" {
		if p.filterRegex, err = regexp.Compile(cfg.FilterRegex); err != nil {
			return nil, fmt.Errorf("invalid filter regex %q: %w", cfg.FilterRegex, err)
		}
	}
	return p, nil
}

func intSet(values []int) map[int]struct{} {
	if len(values) == 0 {
		return nil
	}
	s := make(map[int]struct{}, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// IsInteresting reports whether r passes every configured rule.
// Failed results never pass.
func (p *Processor) IsInteresting(r *Result) bool {
	if r == nil || r.Failed() {
		return false
	}
	status := r.StatusCode()
	if p.matchStatus != nil {
		if _, ok := p.matchStatus[status]; !ok {
			return false
		}
	}
	if _, ok := p.filterStatus[status]; ok {
		return false
	}
	if _, ok := p.filterSizes[r.Length()]; ok {
		return false
	}
	if p.matchRegex == nil && p.filterRegex == nil {
		return true
	}

	raw := rawResponse(r)
	if p.matchRegex != nil && !p.matchRegex.Match(raw) {
		return false
	}
	if p.filterRegex != nil && p.filterRegex.Match(raw) {
		p.logger.Debugf("[Processor] Result #%d dropped by filter regex", r.ID)
		return false
	}
	return true
}

// rawResponse renders the header block and body so regexes can match either.
func rawResponse(r *Result) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s\r\n", r.Response.Proto, r.Response.Status)
	_ = r.Response.Header.Write(&b)
	b.WriteString("\r\n")
	b.Write(r.Response.Body)
	return b.Bytes()
}
