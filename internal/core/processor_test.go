package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafabd1/Wildfuzz/internal/utils"
)

func resultWith(status int, body string) *Result {
	r := &Result{}
	r.succeed(respond(status, body), 1)
	return r
}

func TestProcessorRules(t *testing.T) {
	cfg := testConfig()
	cfg.MatchStatus = []int{200, 302}
	cfg.FilterSizes = []int{4}
	cfg.FilterRegex = `(?i)access denied`
	cfg.MatchRegex = `text/html|redirect`
	p, err := NewProcessor(cfg, &utils.NoOpLogger{})
	require.NoError(t, err)

	assert.True(t, p.IsInteresting(resultWith(200, "welcome home")))
	assert.False(t, p.IsInteresting(resultWith(404, "welcome home")), "status not matched")
	assert.False(t, p.IsInteresting(resultWith(200, "nope")), "size filtered")
	assert.False(t, p.IsInteresting(resultWith(200, "ACCESS DENIED here")), "body regex filtered")

	failed := &Result{}
	failed.fail(assert.AnError, 1, 0)
	assert.False(t, p.IsInteresting(failed))
	assert.False(t, p.IsInteresting(nil))
}

func TestProcessorDefaultsAcceptEverything(t *testing.T) {
	p, err := NewProcessor(testConfig(), &utils.NoOpLogger{})
	require.NoError(t, err)
	assert.True(t, p.IsInteresting(resultWith(500, "")))
}

func TestProcessorFilterStatusAndHeaderRegex(t *testing.T) {
	cfg := testConfig()
	cfg.FilterStatus = []int{403}
	cfg.MatchRegex = `Content-Type: text/html`
	p, err := NewProcessor(cfg, &utils.NoOpLogger{})
	require.NoError(t, err)

	assert.False(t, p.IsInteresting(resultWith(403, "forbidden")))
	assert.True(t, p.IsInteresting(resultWith(200, "x")), "regex sees the header block")
}

func TestProcessorRejectsBadRegex(t *testing.T) {
	cfg := testConfig()
	cfg.MatchRegex = `(unclosed`
	_, err := NewProcessor(cfg, &utils.NoOpLogger{})
	assert.Error(t, err)

	_, err = NewEngine(cfg, Options{})
	assert.Error(t, err)
}
