package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all the configuration for a Wildfuzz session.
// Fields are populated by Viper from flags, environment and an optional config file.
type Config struct {
	TargetURL     string   `mapstructure:"url" validate:"required"`
	RequestFile   string   `mapstructure:"request"` // Raw HTTP request template; empty means GET on TargetURL
	Wordlists     []string `mapstructure:"wordlists"`
	PayloadMarker string   `mapstructure:"marker" validate:"required"`

	Threads             int           `mapstructure:"threads" validate:"min=1,max=1024"`
	RequestTimeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RetriesOnIOError    int           `mapstructure:"retries" validate:"min=0,max=100"`
	RetryDelayBase      time.Duration `mapstructure:"retry-delay" validate:"min=0"`
	RetryDelayMax       time.Duration `mapstructure:"retry-delay-max" validate:"min=0"`     // 0 disables the cap
	QuarantineThreshold int           `mapstructure:"quarantine" validate:"min=0"`          // 0 disables quarantine
	QuarantineCooldown  time.Duration `mapstructure:"quarantine-cooldown" validate:"min=0"` // 0 waits for a manual resume
	QuarantineMaxWait   time.Duration `mapstructure:"quarantine-max-wait" validate:"min=0"`

	FollowRedirects          bool         `mapstructure:"follow-redirects"`
	KeepHostHeader           bool         `mapstructure:"keep-host"`
	ForceCloseConnection     bool         `mapstructure:"force-close"`
	MaxRequestsPerConnection int          `mapstructure:"max-requests-per-conn" validate:"min=0"`
	MaxConnectionsPerHost    int          `mapstructure:"max-conns-per-host" validate:"min=0"`
	RequestsPerSecond        float64      `mapstructure:"rps" validate:"min=0"` // 0 means unlimited
	InsecureSkipVerify       bool         `mapstructure:"insecure"`
	UserAgent                string       `mapstructure:"user-agent" validate:"required"`
	CustomHeaders            []string     `mapstructure:"headers"` // "Name: Value"
	ProxyInput               string       `mapstructure:"proxy"`   // URL, comma separated list or file path
	ParsedProxies            []ProxyEntry `mapstructure:"-"`

	LearnSamples int    `mapstructure:"learn" validate:"min=0"`
	FilterGroup  string `mapstructure:"filter-group"` // empty is the global group

	MatchStatus  []int  `mapstructure:"match-status"`
	FilterStatus []int  `mapstructure:"filter-status"`
	FilterSizes  []int  `mapstructure:"filter-size"`
	MatchRegex   string `mapstructure:"match-regex"`
	FilterRegex  string `mapstructure:"filter-regex"`

	MonitorInterval time.Duration `mapstructure:"monitor-interval" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout" validate:"gt=0"`

	OutputFile   string `mapstructure:"output"`
	OutputFormat string `mapstructure:"format" validate:"oneof=text json yaml"`
	Verbosity    string `mapstructure:"verbosity" validate:"oneof=debug info warn warning error fatal"`
	NoColor      bool   `mapstructure:"no-color"`
	Silent       bool   `mapstructure:"silent"`
	NoProgress   bool   `mapstructure:"no-progress"`
}

// ProxyEntry holds the parsed components of a proxy string.
type ProxyEntry struct {
	URL      string
	Scheme   string
	Host     string // host:port
	Username string
	Password string
}

// String returns the proxy URL string representation.
func (pe *ProxyEntry) String() string {
	if pe.URL != "" {
		return pe.URL
	}
	userInfo := ""
	if pe.Username != "" {
		userInfo = pe.Username
		if pe.Password != "" {
			userInfo += ":" + pe.Password
		}
		userInfo += "@"
	}
	scheme := pe.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s%s", scheme, userInfo, pe.Host)
}

// GetDefaultConfig returns a Config struct populated with default values.
func GetDefaultConfig() *Config {
	return &Config{
		PayloadMarker:            "%s",
		Threads:                  10,
		RequestTimeout:           10 * time.Second,
		RetriesOnIOError:         3,
		RetryDelayBase:           200 * time.Millisecond,
		RetryDelayMax:            5 * time.Second,
		QuarantineThreshold:      0,
		QuarantineCooldown:       10 * time.Second,
		QuarantineMaxWait:        time.Minute,
		FollowRedirects:          false,
		KeepHostHeader:           true,
		MaxRequestsPerConnection: 0,
		MaxConnectionsPerHost:    0,
		UserAgent:                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		LearnSamples:             3,
		MonitorInterval:          500 * time.Millisecond,
		ShutdownTimeout:          time.Second,
		OutputFormat:             "text",
		Verbosity:                "info",
	}
}

// SetDefaults registers every default of GetDefaultConfig on v so that
// flags, environment and config files only need to override what they set.
func SetDefaults(v *viper.Viper) {
	d := GetDefaultConfig()
	v.SetDefault("marker", d.PayloadMarker)
	v.SetDefault("threads", d.Threads)
	v.SetDefault("timeout", d.RequestTimeout)
	v.SetDefault("retries", d.RetriesOnIOError)
	v.SetDefault("retry-delay", d.RetryDelayBase)
	v.SetDefault("retry-delay-max", d.RetryDelayMax)
	v.SetDefault("quarantine", d.QuarantineThreshold)
	v.SetDefault("quarantine-cooldown", d.QuarantineCooldown)
	v.SetDefault("quarantine-max-wait", d.QuarantineMaxWait)
	v.SetDefault("follow-redirects", d.FollowRedirects)
	v.SetDefault("keep-host", d.KeepHostHeader)
	v.SetDefault("max-requests-per-conn", d.MaxRequestsPerConnection)
	v.SetDefault("max-conns-per-host", d.MaxConnectionsPerHost)
	v.SetDefault("user-agent", d.UserAgent)
	v.SetDefault("learn", d.LearnSamples)
	v.SetDefault("monitor-interval", d.MonitorInterval)
	v.SetDefault("shutdown-timeout", d.ShutdownTimeout)
	v.SetDefault("format", d.OutputFormat)
	v.SetDefault("verbosity", d.Verbosity)
}

// Load unmarshals v into a Config. When configFile is set it is read first,
// and WILDFUZZ_* environment variables are applied on top.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("wildfuzz")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := GetDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.CustomHeaders = deduplicateStringSlice(cfg.CustomHeaders)
	return cfg, nil
}

func deduplicateStringSlice(s []string) []string {
	seen := make(map[string]struct{})
	result := []string{}
	for _, item := range s {
		if _, ok := seen[item]; !ok {
			seen[item] = struct{}{}
			result = append(result, item)
		}
	}
	return result
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags first and then the rules spanning several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid value for %s: failed '%s' rule (got %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return err
	}
	// Markers such as %s are not valid escapes, so the URL is only checked for its scheme.
	lower := strings.ToLower(c.TargetURL)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return fmt.Errorf("target URL %q must start with http:// or https://", c.TargetURL)
	}
	if c.RetryDelayBase > c.RetryDelayMax && c.RetryDelayMax > 0 { // Only if the cap is enabled
		return fmt.Errorf("retry-delay (%s) cannot be greater than retry-delay-max (%s)", c.RetryDelayBase, c.RetryDelayMax)
	}
	for _, h := range c.CustomHeaders {
		if !strings.Contains(h, ":") {
			return fmt.Errorf("custom header %q must use the 'Name: Value' format", h)
		}
	}
	for _, code := range append(append([]int{}, c.MatchStatus...), c.FilterStatus...) {
		if code < 100 || code > 599 {
			return fmt.Errorf("status code %d in match/filter rules is out of range", code)
		}
	}
	return nil
}

// String (Config method) remains useful for debugging.
func (c *Config) String() string {
	return fmt.Sprintf("URL: %s, Threads: %d, Timeout: %s, Retries: %d, RetryDelay: %s, Quarantine: %d, RPS: %.2f, FollowRedirects: %t, Wordlists: %v, Learn: %d, ProxyInput: '%s', Verbosity: %s",
		c.TargetURL, c.Threads, c.RequestTimeout, c.RetriesOnIOError, c.RetryDelayBase, c.QuarantineThreshold, c.RequestsPerSecond, c.FollowRedirects, c.Wordlists, c.LearnSamples, c.ProxyInput, c.Verbosity)
}
