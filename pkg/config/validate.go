package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/Sriram-PR/thread-watcher/pkg/utils"
)

// AppName names the per-user state directory.
const AppName = "thread-watcher"

// Minimum check interval accepted before a warning is raised.
const minCheckInterval = 10 * time.Second

// DefaultStateDir returns the XDG state directory of the watcher,
// e.g. ~/.local/state/thread-watcher on Linux.
func DefaultStateDir() string {
	return filepath.Join(xdg.StateHome, AppName)
}

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.UserAgent == "" {
		c.UserAgent = "thread-watcher/1.0"
	}

	// StateDir
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir()
		warnings = append(warnings, fmt.Sprintf("state_dir is empty, defaulting to '%s'", c.StateDir))
	}

	// DownloadDir
	if c.DownloadDir == "" {
		warnings = append(warnings, "download_dir is empty, defaulting to './downloads'")
		c.DownloadDir = "./downloads"
	}

	// CheckInterval
	if c.CheckInterval <= 0 {
		c.CheckInterval = 3 * time.Minute
	} else if c.CheckInterval < minCheckInterval {
		warnings = append(warnings, fmt.Sprintf("check_interval %v is below %v, raising it", c.CheckInterval, minCheckInterval))
		c.CheckInterval = minCheckInterval
	}

	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}

	// MaxTries
	if c.MaxTries < 0 {
		warnings = append(warnings, "max_tries cannot be negative, defaulting to 3")
		c.MaxTries = 3
	}
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}

	// MaxConnectionsPerHost
	if c.MaxConnectionsPerHost <= 0 {
		c.MaxConnectionsPerHost = 4
	}
	if c.HostEvictionInterval <= 0 {
		c.HostEvictionInterval = 5 * time.Minute
	}

	// Worker pools
	if c.PoolMinWorkers <= 0 {
		c.PoolMinWorkers = 4
	}
	if c.PoolThreshold <= 0 {
		c.PoolThreshold = 500 * time.Millisecond
	}
	if c.PoolIdleTimeout <= 0 {
		c.PoolIdleTimeout = 30 * time.Second
	}
	if c.SchedulerIdleTimeout <= 0 {
		c.SchedulerIdleTimeout = 30 * time.Second
	}

	// Timeouts
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.ReadTimeout > c.RequestTimeout {
		warnings = append(warnings, fmt.Sprintf(
			"read_timeout (%v) > request_timeout (%v), chunk reads may outlive header waits",
			c.ReadTimeout, c.RequestTimeout))
	}

	// DelayPerHost
	if c.DelayPerHost < 0 {
		warnings = append(warnings, "delay_per_host cannot be negative, disabling delay")
		c.DelayPerHost = 0
	}

	// MaxPathLength
	if c.MaxPathLength < 0 {
		warnings = append(warnings, "max_path_length cannot be negative, disabling limit")
		c.MaxPathLength = 0
	} else if c.MaxPathLength == 0 {
		c.MaxPathLength = 255
	}

	if c.StatusBuffer <= 0 {
		c.StatusBuffer = 64
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	return warnings, nil // AppConfig validation never fails fatally
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks WatchConfig fields.
// Returns collected warnings and any fatal error.
func (c *WatchConfig) Validate() (warnings []string, err error) {
	// Required: URL
	if c.URL == "" {
		return nil, fmt.Errorf("%w: watch has no url", utils.ErrConfigValidation)
	}
	u, parseErr := url.Parse(c.URL)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: watch url '%s': %v", utils.ErrConfigValidation, c.URL, parseErr)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: watch url '%s' must be http or https", utils.ErrConfigValidation, c.URL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: watch url '%s' has no host", utils.ErrConfigValidation, c.URL)
	}

	// Interval
	if c.Interval < 0 {
		warnings = append(warnings, "watch interval cannot be negative, using global check_interval")
		c.Interval = 0
	} else if c.Interval > 0 && c.Interval < minCheckInterval {
		warnings = append(warnings, fmt.Sprintf("watch interval %v is below %v, raising it", c.Interval, minCheckInterval))
		c.Interval = minCheckInterval
	}

	// Basic auth needs both parts
	if (c.Username == "") != (c.Password == "") {
		warnings = append(warnings, "watch has only one of username/password, basic auth disabled")
		c.Username, c.Password = "", ""
	}

	// SkipPatterns must compile
	if _, err := utils.CompileRegexPatterns(c.SkipPatterns); err != nil {
		return warnings, fmt.Errorf("watch '%s' skip_patterns: %w", c.URL, err)
	}

	return warnings, nil
}
