package networking

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rafabd1/Wildfuzz/internal/config"
	"github.com/rafabd1/Wildfuzz/internal/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func clientConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.RequestTimeout = 2 * time.Second
	return cfg
}

func newTestClient(t *testing.T, cfg *config.Config) *Client {
	t.Helper()
	c, err := NewClient(cfg, nil, &utils.NoOpLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *Client, req *Request) *Exchange {
	t.Helper()
	ex, err := c.Send(context.Background(), TargetFor(req.URL), req)
	require.NoError(t, err)
	return ex
}

func TestSendReadsFullResponse(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Seen", r.URL.RequestURI())
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "short and stout")
	}))
	defer srv.Close()

	cfg := clientConfig()
	cfg.CustomHeaders = []string{"X-Team: red", "User-Agent: ignored-when-set"}
	c := newTestClient(t, cfg)

	req, err := NewRequest("post", srv.URL+"/brew?pot=1", []byte("milk=no"))
	require.NoError(t, err)
	req.Header.Set("User-Agent", "wildfuzz-test")
	req.Header.Set("Content-Length", "999")
	ex := send(t, c, req)

	assert.Equal(t, http.StatusTeapot, ex.Response.StatusCode)
	assert.Equal(t, "418 I'm a teapot", ex.Response.Status)
	assert.Equal(t, "short and stout", string(ex.Response.Body))
	assert.Equal(t, "/brew?pot=1", ex.Response.Header.Get("X-Seen"))
	assert.Same(t, req, ex.Request)
	assert.Positive(t, ex.Elapsed)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "milk=no", string(gotBody))
	assert.Equal(t, int64(7), got.ContentLength)
	assert.Equal(t, "wildfuzz-test", got.Header.Get("User-Agent"))
	assert.Equal(t, "red", got.Header.Get("X-Team"))
}

func TestSendDefaultUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.UserAgent()
	}))
	defer srv.Close()

	cfg := clientConfig()
	cfg.UserAgent = "wildfuzz/1.0"
	c := newTestClient(t, cfg)
	req, err := NewRequest("GET", srv.URL, nil)
	require.NoError(t, err)
	send(t, c, req)
	assert.Equal(t, "wildfuzz/1.0", ua)
}

func TestSendHostOverride(t *testing.T) {
	var host string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host = r.Host
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	for _, keep := range []bool{true, false} {
		cfg := clientConfig()
		cfg.KeepHostHeader = keep
		c := newTestClient(t, cfg)
		req, err := NewRequest("GET", srv.URL+"/", nil)
		require.NoError(t, err)
		req.Host = "vhost.internal"
		send(t, c, req)
		if keep {
			assert.Equal(t, "vhost.internal", host)
		} else {
			assert.Equal(t, u.Host, host)
		}
	}
}

func TestSendTargetOverridesURLAuthority(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	c := newTestClient(t, clientConfig())
	req, err := NewRequest("GET", "http://unresolvable.invalid/admin", nil)
	require.NoError(t, err)
	_, err = c.Send(context.Background(), TargetFor(u), req)
	require.NoError(t, err)
	assert.Equal(t, "/admin", path)
}

func TestSendRedirectPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		_, _ = io.WriteString(w, "arrived")
	}))
	defer srv.Close()

	req, err := NewRequest("GET", srv.URL+"/old", nil)
	require.NoError(t, err)

	ex := send(t, newTestClient(t, clientConfig()), req)
	assert.Equal(t, http.StatusFound, ex.Response.StatusCode)
	assert.Equal(t, "/new", ex.Response.Header.Get("Location"))

	cfg := clientConfig()
	cfg.FollowRedirects = true
	ex = send(t, newTestClient(t, cfg), req)
	assert.Equal(t, http.StatusOK, ex.Response.StatusCode)
	assert.Equal(t, "arrived", string(ex.Response.Body))
}

func TestSendTransportErrorCountsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	cfg := clientConfig()
	dm := NewDomainManager(cfg, &utils.NoOpLogger{})
	c, err := NewClient(cfg, dm, &utils.NoOpLogger{})
	require.NoError(t, err)
	defer c.Close()

	req, err := NewRequest("GET", addr, nil)
	require.NoError(t, err)
	_, err = c.Send(context.Background(), TargetFor(req.URL), req)
	require.Error(t, err)
	assert.Equal(t, 1, dm.ConsecutiveFailures(req.URL.Hostname()))
}

func TestSendAfterClose(t *testing.T) {
	c := newTestClient(t, clientConfig())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	req, err := NewRequest("GET", "http://example.test/", nil)
	require.NoError(t, err)
	_, err = c.Send(context.Background(), TargetFor(req.URL), req)
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestSendRoundRobinsProxiesPerDomain(t *testing.T) {
	var mu sync.Mutex
	var hits []string
	proxy := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits = append(hits, name+" "+r.URL.String())
			mu.Unlock()
			_, _ = io.WriteString(w, name)
		}))
	}
	p1, p2 := proxy("p1"), proxy("p2")
	defer p1.Close()
	defer p2.Close()

	cfg := clientConfig()
	var err error
	cfg.ParsedProxies, err = utils.ParseProxyInput(p1.URL+","+p2.URL, &utils.NoOpLogger{})
	require.NoError(t, err)
	c := newTestClient(t, cfg)

	var bodies []string
	for i := 0; i < 3; i++ {
		req, err := NewRequest("GET", "http://origin.invalid/x", nil)
		require.NoError(t, err)
		bodies = append(bodies, string(send(t, c, req).Response.Body))
	}
	assert.Equal(t, []string{"p1", "p2", "p1"}, bodies)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hits, 3)
	assert.Equal(t, "p1 http://origin.invalid/x", hits[0])
}

func TestSendHonoursCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	c := newTestClient(t, clientConfig())
	req, err := NewRequest("GET", srv.URL, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Send(ctx, TargetFor(req.URL), req)
	assert.ErrorIs(t, err, context.Canceled)
}
