package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/rafabd1/Wildfuzz/internal/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "wildfuzz [url]",
	Short: "Wildfuzz - HTTP fuzzer with wildcard response learning",
	Long: `Wildfuzz sends wordlist payloads through an HTTP request template and
reports the responses that differ from what the target answers for anything.

Before enumerating, it learns the shape of the target's catch-all response from
a few random payloads and filters every result that matches it.

Payload markers (default %s) can be placed in the URL or in a raw request file:
  wildfuzz -u https://example.com/%s -w words.txt
  wildfuzz -u https://example.com -r request.txt -w users.txt -w passwords.txt`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runScan,
}

func init() {
	d := config.GetDefaultConfig()
	f := rootCmd.Flags()

	f.StringVar(&configFile, "config", "", "Config file (yaml, json or toml)")

	// Target
	f.StringP("url", "u", "", "Target URL, may contain payload markers")
	f.StringP("request", "r", "", "Raw HTTP request template file")
	f.StringSliceP("wordlists", "w", nil, "Wordlist per marker, '-' for stdin (repeatable)")
	f.String("marker", d.PayloadMarker, "Payload marker")

	// Engine
	f.IntP("threads", "t", d.Threads, "Number of concurrent workers")
	f.Duration("timeout", d.RequestTimeout, "Request timeout")
	f.Int("retries", d.RetriesOnIOError, "Retries on I/O errors")
	f.Duration("retry-delay", d.RetryDelayBase, "Base delay between retries, multiplied by the attempt")
	f.Duration("retry-delay-max", d.RetryDelayMax, "Maximum delay between retries (0 for no cap)")
	f.Int("quarantine", d.QuarantineThreshold, "Pause after this many consecutive failures (0 disables)")
	f.Duration("quarantine-cooldown", d.QuarantineCooldown, "Resume a quarantined scan after this long, growing on repeats (0 never resumes)")
	f.Duration("quarantine-max-wait", d.QuarantineMaxWait, "Longest quarantine cooldown")
	f.Int("learn", d.LearnSamples, "Random requests sent to learn the wildcard response")
	f.String("filter-group", d.FilterGroup, "Wildcard filter group to match against")
	f.Duration("monitor-interval", d.MonitorInterval, "Progress and completion check interval")
	f.Duration("shutdown-timeout", d.ShutdownTimeout, "Maximum time to wait for a clean shutdown")

	// Network
	f.Bool("follow-redirects", d.FollowRedirects, "Follow redirects")
	f.Bool("keep-host", d.KeepHostHeader, "Send the Host header of the request template")
	f.Bool("force-close", d.ForceCloseConnection, "Close the connection after each request")
	f.Int("max-requests-per-conn", d.MaxRequestsPerConnection, "Recycle connections after this many requests (0 disables)")
	f.Int("max-conns-per-host", d.MaxConnectionsPerHost, "Maximum connections per host (0 for no limit)")
	f.Float64("rps", d.RequestsPerSecond, "Requests per second per host (0 for no limit)")
	f.BoolP("insecure", "k", d.InsecureSkipVerify, "Skip TLS certificate verification")
	f.String("user-agent", d.UserAgent, "User-Agent for requests that do not set one")
	f.StringArrayP("headers", "H", nil, "Extra header 'Name: Value' (repeatable)")
	f.StringP("proxy", "x", "", "Proxy URL, comma separated list or file")

	// Matchers
	f.IntSlice("match-status", nil, "Only report these status codes")
	f.IntSlice("filter-status", nil, "Never report these status codes")
	f.IntSlice("filter-size", nil, "Never report these body sizes")
	f.String("match-regex", "", "Only report responses matching this regex")
	f.String("filter-regex", "", "Never report responses matching this regex")

	// Output
	f.StringP("output", "o", "", "Report file (default stdout)")
	f.String("format", d.OutputFormat, "Report format: text, json or yaml")
	f.StringP("verbosity", "v", d.Verbosity, "Log level: debug, info, warn, error")
	f.Bool("no-color", d.NoColor, "Disable colored logs")
	f.BoolP("silent", "s", d.Silent, "Only print findings and errors")
	f.Bool("no-progress", d.NoProgress, "Disable the progress bar")
}

func main() {
	_, _ = maxprocs.Set()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
