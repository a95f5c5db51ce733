package utils

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCacheable(t *testing.T) {
	cases := []struct {
		header http.Header
		want   bool
	}{
		{http.Header{"Cache-Control": {"public, max-age=600"}}, true},
		{http.Header{"Cache-Control": {"private, max-age=600"}}, false},
		{http.Header{"Cache-Control": {"no-store"}}, false},
		{http.Header{"Pragma": {"no-cache"}}, false},
		{http.Header{"Expires": {"Thu, 01 Dec 2094 16:00:00 GMT"}}, true},
		{http.Header{"Expires": {"0"}}, false},
		{http.Header{"X-Cache": {"HIT from edge"}}, true},
		{http.Header{"Cf-Cache-Status": {"HIT"}}, true},
		{http.Header{}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsCacheable(tc.header), "%v", tc.header)
	}
}

func TestCacheHeadersSummaryIgnoresVolatileValues(t *testing.T) {
	a := http.Header{"Cache-Control": {"max-age=60"}, "Age": {"1"}, "Vary": {"Accept-Encoding"}}
	b := http.Header{"Cache-Control": {"max-age=60"}, "Age": {"58"}, "Vary": {"Accept-Encoding"}}
	assert.Equal(t, CacheHeadersSummary(a), CacheHeadersSummary(b))
	assert.Equal(t, "cache-control=max-age=60;age;vary=accept-encoding", CacheHeadersSummary(a))
	assert.Empty(t, CacheHeadersSummary(http.Header{}))
}

func TestMediaTypeAndDomain(t *testing.T) {
	assert.Equal(t, "application/json", MediaType(http.Header{"Content-Type": {"Application/JSON; charset=utf-8"}}))
	assert.Empty(t, MediaType(http.Header{}))

	d, err := GetDomainFromURL("https://api.example.com:8443/v1")
	require.NoError(t, err)
	assert.Equal(t, "api.example.com", d)
}

func TestExtractHTMLFeatures(t *testing.T) {
	f := ExtractHTMLFeatures([]byte(`<html><head><title> Sign in </title></head><body><form><input name="u"></form><p>x</p></body></html>`))
	assert.True(t, f.IsHTML)
	assert.Equal(t, "Sign in", f.Title)
	assert.Equal(t, 1, f.FormCount)
	assert.Equal(t, 4, f.TagCount)

	plain := ExtractHTMLFeatures([]byte(`{"error":"not found"}`))
	assert.False(t, plain.IsHTML)
	assert.Zero(t, plain.TagCount)
}

func TestGenerateUniquePayload(t *testing.T) {
	a, b := GenerateUniquePayload("wf"), GenerateUniquePayload("wf")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "wf-"))
	assert.Len(t, a, len("wf-")+12)
	assert.Len(t, GenerateUniquePayload(""), 12)
}

func TestEnsureFilepathExists(t *testing.T) {
	target := filepath.Join(t.TempDir(), "reports", "run", "out.json")
	require.NoError(t, EnsureFilepathExists(target))
	info, err := os.Stat(filepath.Dir(target))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.NoError(t, EnsureFilepathExists("out.json"))
}

func TestLoggerLevelsAndSilent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LoggerOptions{Level: LevelWarn, NoColor: true, Output: &buf})
	l.Infof("hidden %d", 1)
	l.Warnf("shown %d", 2)
	SyncLogger(l)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "shown 2")

	buf.Reset()
	l = NewLogger(LoggerOptions{Level: LevelDebug, NoColor: true, Silent: true, Output: &buf})
	l.Warnf("quiet")
	l.Errorf("loud")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}

func TestStringToLogLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, StringToLogLevel("DEBUG"))
	assert.Equal(t, LevelWarn, StringToLogLevel("warning"))
	assert.Equal(t, LevelError, StringToLogLevel("error"))
	assert.Equal(t, LevelInfo, StringToLogLevel("info"))
}
