// Package template turns raw HTTP request templates with payload markers into
// prepared requests.
package template

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/rafabd1/Wildfuzz/internal/networking"
)

// DefaultMarker is replaced by payloads when no other marker is configured.
const DefaultMarker = "%s"

// ErrMarkerCount is returned when the number of payloads fits neither a
// single payload for every marker nor one payload per marker.
var ErrMarkerCount = errors.New("payload count does not match template markers")

// Template is a raw HTTP request with payload markers.
type Template struct {
	raw     []byte
	marker  []byte
	offsets []int
}

// Parse builds a Template from raw request bytes.
func Parse(raw []byte, marker string) (*Template, error) {
	if marker == "" {
		marker = DefaultMarker
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("empty request template")
	}
	t := &Template{raw: bytes.Clone(raw), marker: []byte(marker)}
	t.offsets = lookup(t.raw, t.marker)
	return t, nil
}

// FromFile reads a raw request template from a file.
func FromFile(filename, marker string) (*Template, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read request template %s: %w", filename, err)
	}
	return Parse(raw, marker)
}

// FromURL builds a GET template from a URL that may itself contain markers,
// returning it with the base URL requests are sent to.
// The URL is split by hand since markers are rarely valid URL syntax.
func FromURL(rawURL, marker string) (*Template, *url.URL, error) {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok || scheme == "" {
		return nil, nil, fmt.Errorf("URL %q must be absolute", rawURL)
	}
	host, target := rest, "/"
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		host, target = rest[:i], rest[i:]
		if target[0] == '?' {
			target = "/" + target
		}
	}
	if host == "" {
		return nil, nil, fmt.Errorf("URL %q has no host", rawURL)
	}
	base, err := url.Parse(scheme + "://" + host)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid base URL %q: %w", rawURL, err)
	}
	raw := "GET " + target + " HTTP/1.1\r\nHost: " + host + "\r\n\r\n"
	t, err := Parse([]byte(raw), marker)
	if err != nil {
		return nil, nil, err
	}
	return t, base, nil
}

// lookup returns the offsets of every non-overlapping marker in contents.
func lookup(contents, marker []byte) []int {
	offsets := []int{}
	for i := 0; i <= len(contents)-len(marker); {
		j := bytes.Index(contents[i:], marker)
		if j < 0 {
			break
		}
		offsets = append(offsets, i+j)
		i += j + len(marker)
	}
	return offsets
}

// MarkerCount returns how many markers the template holds.
func (t *Template) MarkerCount() int { return len(t.offsets) }

// Raw returns a copy of the unrendered template.
func (t *Template) Raw() []byte { return bytes.Clone(t.raw) }

// Render substitutes payloads for the markers. One payload fills every
// marker; otherwise payloads are zipped with the markers in order.
func (t *Template) Render(payloads ...string) ([]byte, error) {
	n := len(t.offsets)
	switch {
	case n == 0 && len(payloads) == 0:
		return bytes.Clone(t.raw), nil
	case n == 0, len(payloads) == 0:
		return nil, fmt.Errorf("%w: %d markers, %d payloads", ErrMarkerCount, n, len(payloads))
	case len(payloads) != 1 && len(payloads) != n:
		return nil, fmt.Errorf("%w: %d markers, %d payloads", ErrMarkerCount, n, len(payloads))
	}

	var b bytes.Buffer
	b.Grow(len(t.raw))
	prev := 0
	for i, off := range t.offsets {
		b.Write(t.raw[prev:off])
		if len(payloads) == 1 {
			b.WriteString(payloads[0])
		} else {
			b.WriteString(payloads[i])
		}
		prev = off + len(t.marker)
	}
	b.Write(t.raw[prev:])
	return b.Bytes(), nil
}

// Build renders the template and parses it into a request addressed to base.
// The request line may use origin form ("/path") or absolute form; either way
// the scheme and authority of base decide where the request is delivered and
// the Host header of the template is kept as the request Host.
func (t *Template) Build(base *url.URL, payloads ...string) (*networking.Request, error) {
	rendered, err := t.Render(payloads...)
	if err != nil {
		return nil, err
	}
	return ParseRequest(base, rendered)
}

// ParseRequest parses raw request bytes. Line endings of the head are
// normalised to CRLF and Content-Length is recomputed from the actual body.
func ParseRequest(base *url.URL, raw []byte) (*networking.Request, error) {
	if base == nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.New("request template needs an absolute base URL")
	}
	head, body := splitHead(raw)

	httpReq, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(head)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse request template: %w", err)
	}
	if httpReq.Body != nil {
		_, _ = io.Copy(io.Discard, httpReq.Body)
		httpReq.Body.Close()
	}

	u := &url.URL{
		Scheme:   base.Scheme,
		Host:     base.Host,
		Path:     httpReq.URL.Path,
		RawPath:  httpReq.URL.RawPath,
		RawQuery: httpReq.URL.RawQuery,
	}
	if u.Path == "" {
		u.Path = "/"
	}

	header := httpReq.Header.Clone()
	header.Del("Content-Length")
	header.Del("Transfer-Encoding")

	req := &networking.Request{
		Method: httpReq.Method,
		URL:    u,
		Header: header,
		Host:   httpReq.Host,
	}
	if len(body) > 0 {
		req.Body = body
	}
	return req, nil
}

// splitHead separates the request head from the body. The returned head uses
// CRLF line endings and ends with an empty line; the body is copied verbatim.
func splitHead(raw []byte) (head, body []byte) {
	raw = bytes.TrimLeft(raw, "\r\n")
	end, sepLen := len(raw), 0
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		end, sepLen = i, 4
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 && i < end {
		end, sepLen = i, 2
	}
	if sepLen > 0 {
		body = bytes.Clone(raw[end+sepLen:])
	}

	lines := bytes.Split(bytes.ReplaceAll(raw[:end], []byte("\r\n"), []byte("\n")), []byte("\n"))
	var b bytes.Buffer
	for _, line := range lines {
		b.Write(bytes.TrimRight(line, "\r"))
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes(), body
}
