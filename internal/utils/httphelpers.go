package utils

import (
	"net/http"
	"net/url"
	"strings"
)

// cacheHeaders are the response headers that describe caching behaviour,
// in the order CacheHeadersSummary reports them.
var cacheHeaders = []string{"Cache-Control", "Pragma", "Expires", "Age", "X-Cache", "CF-Cache-Status", "Vary"}

// GetDomainFromURL extracts the host name from a URL string.
func GetDomainFromURL(urlString string) (string, error) {
	u, err := url.Parse(urlString)
	if err != nil {
		return "", err
	}
	return u.Hostname(), nil
}

// IsCacheable checks response headers to make a basic assessment of whether a response is likely cacheable.
// This is a simplified check; real cache behavior can be complex.
func IsCacheable(headers http.Header) bool {
	cacheControl := strings.ToLower(headers.Get("Cache-Control"))
	if cacheControl != "" {
		if strings.Contains(cacheControl, "no-store") || strings.Contains(cacheControl, "no-cache") || strings.Contains(cacheControl, "private") {
			return false
		}
		if strings.Contains(cacheControl, "public") || strings.Contains(cacheControl, "max-age") || strings.Contains(cacheControl, "s-maxage") {
			return true
		}
	}

	if strings.Contains(strings.ToLower(headers.Get("Pragma")), "no-cache") {
		return false
	}

	expires := headers.Get("Expires")
	if expires != "" && expires != "0" && expires != "-1" {
		return true
	}

	if strings.Contains(strings.ToLower(headers.Get("X-Cache")), "hit") {
		return true
	}
	if strings.EqualFold(headers.Get("CF-Cache-Status"), "HIT") {
		return true
	}
	return false
}

// CacheHeadersSummary joins the caching-related headers into one stable string.
// Volatile values (Age, Expires dates) are reduced to their presence so two
// responses served by the same cache policy summarize identically.
func CacheHeadersSummary(headers http.Header) string {
	var b strings.Builder
	for _, name := range cacheHeaders {
		v := headers.Get(name)
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strings.ToLower(name))
		switch name {
		case "Age", "Expires":
			// presence only
		default:
			b.WriteByte('=')
			b.WriteString(strings.ToLower(strings.TrimSpace(v)))
		}
	}
	return b.String()
}

// MediaType returns the Content-Type without its parameters, lower-cased.
func MediaType(headers http.Header) string {
	ct := headers.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
