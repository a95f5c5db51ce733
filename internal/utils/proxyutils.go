package utils

import (
	"bufio"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/rafabd1/Wildfuzz/internal/config"
)

var supportedProxySchemes = map[string]bool{"http": true, "https": true, "socks5": true}

// ParseProxyInput parses a proxy input string (a single proxy URL, a
// comma-separated list of proxy URLs, or a file path containing one proxy
// per line) into a slice of ProxyEntry structs.
// Entries use the [scheme://][user:pass@]host:port format; the scheme defaults to http.
func ParseProxyInput(proxyInput string, logger Logger) ([]config.ProxyEntry, error) {
	if proxyInput == "" {
		return nil, nil
	}

	proxyStrings, err := readProxyStrings(proxyInput, logger)
	if err != nil {
		return nil, err
	}

	var parsedProxies []config.ProxyEntry
	for _, raw := range proxyStrings {
		entry, err := parseProxyEntry(raw)
		if err != nil {
			logger.Warnf("Skipping proxy '%s': %v", raw, err)
			continue
		}
		parsedProxies = append(parsedProxies, entry)
		logger.Debugf("Parsed proxy details: Scheme: %s, Host: %s, Username: %s", entry.Scheme, entry.Host, entry.Username)
	}

	if len(proxyStrings) > 0 && len(parsedProxies) == 0 {
		return nil, fmt.Errorf("proxy input '%s' provided, but no valid proxies could be parsed", proxyInput)
	}
	if len(parsedProxies) > 0 {
		logger.Infof("Successfully parsed %d proxies.", len(parsedProxies))
	}
	return parsedProxies, nil
}

func readProxyStrings(proxyInput string, logger Logger) ([]string, error) {
	if _, err := os.Stat(proxyInput); err != nil {
		logger.Debugf("Proxy input '%s' is not a file. Treating as literal string(s).", proxyInput)
		return splitNonEmpty(proxyInput), nil
	}

	file, err := os.Open(proxyInput)
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy file '%s': %w", proxyInput, err)
	}
	defer file.Close()

	var proxies []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			proxies = append(proxies, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading proxy file '%s': %w", proxyInput, err)
	}
	logger.Debugf("Loaded %d proxy strings from file '%s'", len(proxies), proxyInput)
	return proxies, nil
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseProxyEntry(raw string) (config.ProxyEntry, error) {
	urlStr := raw
	if !strings.Contains(urlStr, "://") {
		urlStr = "http://" + urlStr
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return config.ProxyEntry{}, err
	}
	scheme := strings.ToLower(u.Scheme)
	if !supportedProxySchemes[scheme] {
		return config.ProxyEntry{}, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return config.ProxyEntry{}, fmt.Errorf("empty host")
	}
	if u.Port() == "" {
		return config.ProxyEntry{}, fmt.Errorf("missing port")
	}

	entry := config.ProxyEntry{
		Scheme: scheme,
		Host:   net.JoinHostPort(u.Hostname(), u.Port()),
	}
	canonical := url.URL{Scheme: scheme, Host: entry.Host}
	if u.User != nil {
		entry.Username = u.User.Username()
		entry.Password, _ = u.User.Password()
		canonical.User = u.User
	}
	entry.URL = canonical.String()
	return entry, nil
}
