package template

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestMarkerOffsets(t *testing.T) {
	tpl, err := Parse([]byte("GET /%s?q=%s HTTP/1.1\nHost: x\n\n"), "")
	require.NoError(t, err)
	assert.Equal(t, 2, tpl.MarkerCount())
	assert.Equal(t, []int{5, 10}, tpl.offsets)

	tpl, err = Parse([]byte("GET /§§§ HTTP/1.1\n\n"), "§§")
	require.NoError(t, err)
	assert.Equal(t, 1, tpl.MarkerCount(), "markers do not overlap")
}

func TestRender(t *testing.T) {
	tpl, err := Parse([]byte("GET /%s/%s HTTP/1.1\n\n"), DefaultMarker)
	require.NoError(t, err)

	out, err := tpl.Render("a")
	require.NoError(t, err)
	assert.Equal(t, "GET /a/a HTTP/1.1\n\n", string(out))

	out, err = tpl.Render("a", "b")
	require.NoError(t, err)
	assert.Equal(t, "GET /a/b HTTP/1.1\n\n", string(out))

	_, err = tpl.Render("a", "b", "c")
	assert.True(t, errors.Is(err, ErrMarkerCount))
	_, err = tpl.Render()
	assert.True(t, errors.Is(err, ErrMarkerCount))
}

func TestRenderWithoutMarkers(t *testing.T) {
	tpl, err := Parse([]byte("GET / HTTP/1.1\n\n"), "")
	require.NoError(t, err)

	out, err := tpl.Render()
	require.NoError(t, err)
	assert.Equal(t, "GET / HTTP/1.1\n\n", string(out))

	_, err = tpl.Render("x")
	assert.ErrorIs(t, err, ErrMarkerCount)
}

func TestBuildNormalisesAndRecomputesLength(t *testing.T) {
	raw := "POST /login HTTP/1.1\nHost: app.internal\nContent-Type: application/x-www-form-urlencoded\nContent-Length: 3\n\nuser=%s&pass=x"
	tpl, err := Parse([]byte(raw), "")
	require.NoError(t, err)

	req, err := tpl.Build(mustURL(t, "https://10.0.0.5:8443"), "admin")
	require.NoError(t, err)

	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "https://10.0.0.5:8443/login", req.URL.String())
	assert.Equal(t, "app.internal", req.Host)
	assert.Equal(t, "user=admin&pass=x", string(req.Body))
	assert.Empty(t, req.Header.Get("Content-Length"))
	assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
}

func TestBuildAbsoluteFormAndCRLF(t *testing.T) {
	raw := "GET http://example.com/a?b=%s HTTP/1.1\r\nHost: example.com\r\nX-Test: 1\r\n\r\n"
	tpl, err := Parse([]byte(raw), "")
	require.NoError(t, err)

	req, err := tpl.Build(mustURL(t, "http://127.0.0.1:8080"), "2")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080/a?b=2", req.URL.String())
	assert.Equal(t, "example.com", req.Host)
	assert.Equal(t, "1", req.Header.Get("X-Test"))
	assert.Nil(t, req.Body)
}

func TestBuildRejectsGarbage(t *testing.T) {
	tpl, err := Parse([]byte("not a request"), "")
	require.NoError(t, err)
	_, err = tpl.Build(mustURL(t, "http://example.com"))
	assert.Error(t, err)

	_, err = ParseRequest(nil, []byte("GET / HTTP/1.1\n\n"))
	assert.Error(t, err)
}

func TestFromURL(t *testing.T) {
	tpl, base, err := FromURL("http://example.com:8080/api/%s?debug=1", "")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:8080", base.String())
	assert.Equal(t, 1, tpl.MarkerCount())

	req, err := tpl.Build(base, "users")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:8080/api/users?debug=1", req.URL.String())
	assert.Equal(t, "example.com:8080", req.Host)

	tpl, base, err = FromURL("https://example.com", "")
	require.NoError(t, err)
	req, err = tpl.Build(base)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", req.URL.String())

	_, _, err = FromURL("example.com/%s", "")
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	_, err := FromFile("notfound.request", "")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "req.txt")
	require.NoError(t, os.WriteFile(path, []byte("GET /FUZZ HTTP/1.1\nHost: h\n\n"), 0o600))
	tpl, err := FromFile(path, "FUZZ")
	require.NoError(t, err)
	assert.Equal(t, 1, tpl.MarkerCount())
}
