package networking

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request is a prepared HTTP request ready to be sent to a Target.
// The Body is held in memory so the same Request can be retried any number of times.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
	// Host is the Host header to send. Empty means the host of URL.
	Host string
}

// NewRequest builds a Request from a method, an absolute URL and an optional body.
func NewRequest(method, rawURL string, body []byte) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("request URL %q must be absolute", rawURL)
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Header: make(http.Header),
		Body:   body,
	}, nil
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	c := &Request{
		Method: r.Method,
		Header: r.Header.Clone(),
		Host:   r.Host,
	}
	if r.URL != nil {
		u := *r.URL
		c.URL = &u
	}
	if r.Body != nil {
		c.Body = bytes.Clone(r.Body)
	}
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	return c
}

// String returns "METHOD URL", handy for logs.
func (r *Request) String() string {
	if r == nil || r.URL == nil {
		return "<nil request>"
	}
	return r.Method + " " + r.URL.String()
}

// Target describes the service a request is delivered to.
type Target struct {
	Scheme string
	Host   string
	Port   string
}

// TargetFor derives the Target from an absolute URL, filling in the default port.
func TargetFor(u *url.URL) Target {
	t := Target{Scheme: strings.ToLower(u.Scheme), Host: u.Hostname(), Port: u.Port()}
	if t.Scheme == "" {
		t.Scheme = "http"
	}
	if t.Port == "" {
		if t.Scheme == "https" {
			t.Port = "443"
		} else {
			t.Port = "80"
		}
	}
	return t
}

// Address returns host:port.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, t.Port)
}

// authority returns the URL host component, omitting default ports.
func (t Target) authority() string {
	if (t.Scheme == "http" && t.Port == "80") || (t.Scheme == "https" && t.Port == "443") || t.Port == "" {
		if strings.Contains(t.Host, ":") {
			return "[" + t.Host + "]"
		}
		return t.Host
	}
	return t.Address()
}

func (t Target) String() string {
	return t.Scheme + "://" + t.Address()
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Proto      string
	Header     http.Header
	Body       []byte
}

// Exchange is one completed request/response round trip.
type Exchange struct {
	Request  *Request
	Response *Response
	Elapsed  time.Duration
}
