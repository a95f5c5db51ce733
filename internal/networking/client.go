package networking

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rafabd1/Wildfuzz/internal/config"
	"github.com/rafabd1/Wildfuzz/internal/utils"
)

// ErrClientClosed is returned by Send after Close.
var ErrClientClosed = errors.New("network client is closed")

const maxRedirects = 10

// Client sends prepared requests over net/http. It is the concrete network
// collaborator used by the engine: one Send per attempt, no retries of its own.
type Client struct {
	config        *config.Config
	logger        utils.Logger
	domainManager *DomainManager

	transport  *http.Transport
	baseClient *http.Client

	proxyLock         sync.Mutex
	parsedProxies     []config.ProxyEntry
	domainProxyIndex  map[string]int
	proxiedClients    map[string]*http.Client // keyed by proxy URL
	proxiedTransports []*http.Transport

	sent   atomic.Int64
	closed atomic.Bool
}

// NewClient creates a new HTTP Client with specified configurations.
func NewClient(cfg *config.Config, dm *DomainManager, logger utils.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if dm == nil {
		dm = NewDomainManager(cfg, logger)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.Threads,
		MaxConnsPerHost:     cfg.MaxConnectionsPerHost,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableKeepAlives:   cfg.ForceCloseConnection,
		DisableCompression:  true, // Signatures must see the bytes the server sent
	}

	c := &Client{
		config:           cfg,
		logger:           logger,
		domainManager:    dm,
		transport:        transport,
		parsedProxies:    cfg.ParsedProxies,
		domainProxyIndex: make(map[string]int),
		proxiedClients:   make(map[string]*http.Client),
	}
	c.baseClient = c.newHTTPClient(transport)
	return c, nil
}

// newHTTPClient wraps transport with otelhttp so every attempt is a client
// span under the task span carried by the request context.
func (c *Client) newHTTPClient(transport *http.Transport) *http.Client {
	follow := c.config.FollowRedirects
	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
		Timeout:   c.config.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !follow {
				return http.ErrUseLastResponse // Return the 3xx itself
			}
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// clientForDomain selects a proxy for a given target domain using round-robin per domain.
func (c *Client) clientForDomain(targetDomain string) *http.Client {
	if len(c.parsedProxies) == 0 {
		return c.baseClient
	}

	c.proxyLock.Lock()
	defer c.proxyLock.Unlock()

	currentIndex, exists := c.domainProxyIndex[targetDomain]
	if !exists {
		currentIndex = 0
	} else {
		currentIndex = (currentIndex + 1) % len(c.parsedProxies)
	}
	c.domainProxyIndex[targetDomain] = currentIndex

	entry := c.parsedProxies[currentIndex]
	if hc, ok := c.proxiedClients[entry.URL]; ok {
		return hc
	}
	proxyURL, err := url.Parse(entry.URL)
	if err != nil {
		c.logger.Warnf("Failed to parse stored proxy URL '%s': %v. Using direct connection.", entry.URL, err)
		return c.baseClient
	}
	proxied := c.transport.Clone()
	proxied.Proxy = http.ProxyURL(proxyURL)
	hc := c.newHTTPClient(proxied)
	c.proxiedClients[entry.URL] = hc
	c.proxiedTransports = append(c.proxiedTransports, proxied)
	c.logger.Debugf("Selected proxy '%s' for target domain '%s' (Index: %d)", proxyURL.Redacted(), targetDomain, currentIndex)
	return hc
}

// Send delivers req to target and reads the full response.
func (c *Client) Send(ctx context.Context, target Target, req *Request) (*Exchange, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if req == nil || req.URL == nil {
		return nil, errors.New("nil request")
	}

	u := *req.URL
	u.Scheme = target.Scheme
	u.Host = target.authority()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", u.String(), err)
	}
	for key, values := range req.Header {
		if strings.EqualFold(key, "Host") || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}
	// Global custom headers only fill what the request did not set itself.
	for _, headerStr := range c.config.CustomHeaders {
		parts := strings.SplitN(headerStr, ":", 2)
		if len(parts) == 2 {
			name := strings.TrimSpace(parts[0])
			if httpReq.Header.Get(name) == "" {
				httpReq.Header.Set(name, strings.TrimSpace(parts[1]))
			}
		}
	}
	if c.config.KeepHostHeader && req.Host != "" {
		httpReq.Host = req.Host
	}
	if c.config.ForceCloseConnection {
		httpReq.Close = true
	}

	domain := target.Host
	if err := c.domainManager.Wait(ctx, domain); err != nil {
		return nil, fmt.Errorf("rate limiter wait for %s: %w", domain, err)
	}

	start := time.Now()
	resp, err := c.clientForDomain(domain).Do(httpReq)
	if err != nil {
		c.domainManager.RecordRequestResult(domain, 0, nil, err)
		return nil, fmt.Errorf("failed to execute request for %s: %w", u.String(), err)
	}
	body, errReadBody := io.ReadAll(resp.Body)
	resp.Body.Close()
	elapsed := time.Since(start)
	if errReadBody != nil {
		c.domainManager.RecordRequestResult(domain, 0, nil, errReadBody)
		return nil, fmt.Errorf("failed to read response body for %s: %w", u.String(), errReadBody)
	}
	c.domainManager.RecordRequestResult(domain, resp.StatusCode, resp.Header, nil)
	c.rotateConnections()

	c.logger.Debugf("Request to %s successful. Status: %s. Body size: %d. Elapsed: %s", u.String(), resp.Status, len(body), elapsed)
	return &Exchange{
		Request: req,
		Response: &Response{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Proto:      resp.Proto,
			Header:     resp.Header,
			Body:       body,
		},
		Elapsed: elapsed,
	}, nil
}

// rotateConnections drops idle keep-alive connections every MaxRequestsPerConnection
// requests. net/http does not expose per-connection counters, so the budget is
// enforced across the pool rather than per socket.
func (c *Client) rotateConnections() {
	limit := int64(c.config.MaxRequestsPerConnection)
	if limit <= 0 || c.config.ForceCloseConnection {
		return
	}
	if c.sent.Add(1)%limit == 0 {
		c.closeIdle()
	}
}

func (c *Client) closeIdle() {
	c.transport.CloseIdleConnections()
	c.proxyLock.Lock()
	for _, tr := range c.proxiedTransports {
		tr.CloseIdleConnections()
	}
	c.proxyLock.Unlock()
}

// Close releases idle connections. Sends after Close fail with ErrClientClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.closeIdle()
	return nil
}
