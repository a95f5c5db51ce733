package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.TargetURL = "https://example.test/%s"
	return cfg
}

func TestDefaultsValidateOnceURLIsSet(t *testing.T) {
	cfg := GetDefaultConfig()
	assert.Error(t, cfg.Validate(), "url is required")
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRules(t *testing.T) {
	cases := map[string]func(*Config){
		"zero threads":           func(c *Config) { c.Threads = 0 },
		"bad url":                func(c *Config) { c.TargetURL = "not a url" },
		"empty marker":           func(c *Config) { c.PayloadMarker = "" },
		"negative retries":       func(c *Config) { c.RetriesOnIOError = -1 },
		"delay above cap":        func(c *Config) { c.RetryDelayBase = time.Minute },
		"header without colon":   func(c *Config) { c.CustomHeaders = []string{"X-Broken"} },
		"status out of range":    func(c *Config) { c.MatchStatus = []int{200, 700} },
		"unknown output format":  func(c *Config) { c.OutputFormat = "xml" },
		"unknown verbosity":      func(c *Config) { c.Verbosity = "loud" },
		"zero shutdown timeout":  func(c *Config) { c.ShutdownTimeout = 0 },
		"negative quarantine":    func(c *Config) { c.QuarantineThreshold = -2 },
		"negative cooldown":      func(c *Config) { c.QuarantineCooldown = -time.Second },
		"negative learn samples": func(c *Config) { c.LearnSamples = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := validConfig()
	cfg.RetryDelayBase = time.Minute
	cfg.RetryDelayMax = 0
	assert.NoError(t, cfg.Validate(), "a zero cap disables the ordering rule")
}

func TestLoadFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wildfuzz.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
url: https://target.test/FUZZ
marker: FUZZ
threads: 25
timeout: 3s
wordlists: [a.txt, b.txt]
headers:
  - "X-A: 1"
  - "X-A: 1"
  - "X-B: 2"
match-status: [200, 403]
`), 0o600))
	t.Setenv("WILDFUZZ_RETRY_DELAY", "750ms")
	t.Setenv("WILDFUZZ_THREADS", "40")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://target.test/FUZZ", cfg.TargetURL)
	assert.Equal(t, "FUZZ", cfg.PayloadMarker)
	assert.Equal(t, 40, cfg.Threads, "environment overrides the file")
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.RetryDelayBase)
	assert.Equal(t, []string{"a.txt", "b.txt"}, cfg.Wordlists)
	assert.Equal(t, []string{"X-A: 1", "X-B: 2"}, cfg.CustomHeaders)
	assert.Equal(t, []int{200, 403}, cfg.MatchStatus)
	assert.Equal(t, GetDefaultConfig().UserAgent, cfg.UserAgent)
}

func TestLoadWithoutFileKeepsDefaults(t *testing.T) {
	v := viper.New()
	v.Set("url", "http://only.test/")
	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "http://only.test/", cfg.TargetURL)
	assert.Equal(t, GetDefaultConfig().Threads, cfg.Threads)
	assert.Equal(t, "text", cfg.OutputFormat)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestProxyEntryString(t *testing.T) {
	assert.Equal(t, "http://p.test:8080", (&ProxyEntry{URL: "http://p.test:8080"}).String())
	assert.Equal(t, "http://u:pw@p.test:3128", (&ProxyEntry{Host: "p.test:3128", Username: "u", Password: "pw"}).String())
	assert.Equal(t, "socks5://p.test:1080", (&ProxyEntry{Scheme: "socks5", Host: "p.test:1080"}).String())
}
