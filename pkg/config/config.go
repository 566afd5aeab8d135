package config

import "time"

// WatchConfig holds configuration for a single watched thread
type WatchConfig struct {
	URL            string        `yaml:"url"`
	Dir            string        `yaml:"dir,omitempty"`      // Destination directory (default: <download_dir>/<sanitized host+path>)
	Interval       time.Duration `yaml:"interval,omitempty"` // Check interval override
	UserAgent      string        `yaml:"user_agent,omitempty"`
	Username       string        `yaml:"username,omitempty"` // Basic auth
	Password       string        `yaml:"password,omitempty"`
	Referer        string        `yaml:"referer,omitempty"`
	Extractor      string        `yaml:"extractor,omitempty"` // Registered extractor name; empty selects by URL
	RespectRobots  *bool         `yaml:"respect_robots,omitempty"`
	SkipPatterns   []string      `yaml:"skip_patterns,omitempty"` // Regex patterns for resource URLs to ignore
	SkipThumbnails bool          `yaml:"skip_thumbnails,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	UserAgent             string           `yaml:"user_agent"`
	StateDir              string           `yaml:"state_dir"`
	DownloadDir           string           `yaml:"download_dir"`
	CheckInterval         time.Duration    `yaml:"check_interval"`
	RetryDelay            time.Duration    `yaml:"retry_delay,omitempty"` // Delay before a cycle that ended in RetryLater runs again
	MaxTries              int              `yaml:"max_tries,omitempty"`
	MaxConnectionsPerHost int              `yaml:"max_connections_per_host,omitempty"`
	HostEvictionInterval  time.Duration    `yaml:"host_eviction_interval,omitempty"`
	PoolMinWorkers        int              `yaml:"pool_min_workers,omitempty"`
	PoolThreshold         time.Duration    `yaml:"pool_threshold,omitempty"`
	PoolIdleTimeout       time.Duration    `yaml:"pool_idle_timeout,omitempty"`
	SchedulerIdleTimeout  time.Duration    `yaml:"scheduler_idle_timeout,omitempty"`
	RequestTimeout        time.Duration    `yaml:"request_timeout,omitempty"` // Wait for response headers
	ReadTimeout           time.Duration    `yaml:"read_timeout,omitempty"`    // Wait for each body chunk
	DelayPerHost          time.Duration    `yaml:"delay_per_host,omitempty"`
	MaxPathLength         int              `yaml:"max_path_length,omitempty"`
	RespectRobots         bool             `yaml:"respect_robots,omitempty"`
	StatusBuffer          int              `yaml:"status_buffer,omitempty"` // Per-subscriber event buffer
	HTTPClientSettings    HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Watches               []WatchConfig    `yaml:"watches"`
}

// HTTPClientConfig holds settings for the per-connection-group transports
type HTTPClientConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// GetEffectiveUserAgent determines the user agent for a watch
func GetEffectiveUserAgent(watchCfg WatchConfig, appCfg AppConfig) string {
	if watchCfg.UserAgent != "" {
		return watchCfg.UserAgent
	}
	return appCfg.UserAgent
}

// GetEffectiveInterval determines the check interval for a watch
func GetEffectiveInterval(watchCfg WatchConfig, appCfg AppConfig) time.Duration {
	if watchCfg.Interval > 0 {
		return watchCfg.Interval
	}
	return appCfg.CheckInterval
}

// GetEffectiveRespectRobots determines whether robots.txt is consulted for a watch
func GetEffectiveRespectRobots(watchCfg WatchConfig, appCfg AppConfig) bool {
	if watchCfg.RespectRobots != nil {
		return *watchCfg.RespectRobots
	}
	return appCfg.RespectRobots
}
