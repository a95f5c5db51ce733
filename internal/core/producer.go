package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rafabd1/Wildfuzz/internal/config"
	"github.com/rafabd1/Wildfuzz/internal/input"
	"github.com/rafabd1/Wildfuzz/internal/utils"
)

// LearningGroup is the learning iteration used by the wordlist producer.
const LearningGroup = 1

const learnPayloadPrefix = "wildfuzz"

// WordlistProducer drives a CLI run: a learning phase of random payloads
// followed by every line of the wordlists, zipped across the template markers.
type WordlistProducer struct {
	config *config.Config
	logger utils.Logger
	open   func(path string) (*input.LineReader, error)
}

// NewWordlistProducer creates a producer for cfg.Wordlists.
func NewWordlistProducer(cfg *config.Config, logger utils.Logger) *WordlistProducer {
	return &WordlistProducer{config: cfg, logger: logger, open: input.NewLineReader}
}

// Produce implements Producer.
func (p *WordlistProducer) Produce(ctx context.Context, e *Engine) error {
	markers := 0
	if e.baseTpl != nil {
		markers = e.baseTpl.MarkerCount()
	}
	lists := p.config.Wordlists
	switch {
	case markers == 0 && len(lists) > 0:
		return fmt.Errorf("%d wordlist(s) given but the request has no '%s' marker", len(lists), p.config.PayloadMarker)
	case markers > 0 && len(lists) == 0:
		return fmt.Errorf("request has %d marker(s) but no wordlist was given", markers)
	case len(lists) > 1 && len(lists) != markers:
		return fmt.Errorf("%d wordlists cannot fill %d markers", len(lists), markers)
	}

	if err := p.learn(ctx, e, markers); err != nil {
		return err
	}

	if markers == 0 {
		if err := e.QueuePayloads(ctx, nil, 0); err != nil {
			return err
		}
		e.MarkQueueComplete()
		return nil
	}

	readers := make([]*input.LineReader, 0, len(lists))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()
	for _, path := range lists {
		r, err := p.open(path)
		if err != nil {
			return err
		}
		readers = append(readers, r)
	}

	queued := 0
	for {
		payloads := make([]string, len(readers))
		for i, r := range readers {
			if !r.Next() {
				if err := r.Err(); err != nil {
					return err
				}
				p.logger.Infof("[Producer] Queued %d requests", queued)
				e.MarkQueueComplete()
				return nil
			}
			payloads[i] = r.Line()
		}
		if err := e.QueuePayloads(ctx, payloads, 0); err != nil {
			if errors.Is(err, ErrPrepare) {
				continue // logged by the engine, skip this line
			}
			return err
		}
		queued++
	}
}

// learn queues LearnSamples requests with payloads no server has seen and
// waits until the learner has digested their responses.
func (p *WordlistProducer) learn(ctx context.Context, e *Engine, markers int) error {
	n := p.config.LearnSamples
	if n <= 0 {
		return nil
	}
	p.logger.Infof("[Producer] Learning wildcard responses from %d samples", n)
	for i := 0; i < n; i++ {
		var payloads []string
		if markers > 0 {
			payloads = []string{utils.GenerateUniquePayload(learnPayloadPrefix)}
		}
		if err := e.QueuePayloads(ctx, payloads, LearningGroup); err != nil {
			return fmt.Errorf("learning request: %w", err)
		}
	}
	if err := e.WaitIdle(ctx); err != nil {
		return err
	}
	if a := e.Filter().Analyzer(p.config.FilterGroup, LearningGroup); a != nil {
		p.logger.Infof("[Producer] Learned %d sample(s); invariant fields %s", a.Samples(), a.Invariant())
	} else {
		p.logger.Warnf("[Producer] No learning sample got a response; wildcard filtering is disabled")
	}
	return nil
}
