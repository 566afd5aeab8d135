package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func boolPtr(b bool) *bool {
	return &b
}

func TestGetEffectiveUserAgent(t *testing.T) {
	app := AppConfig{UserAgent: "global-agent"}

	assert.Equal(t, "global-agent", GetEffectiveUserAgent(WatchConfig{}, app))
	assert.Equal(t, "watch-agent", GetEffectiveUserAgent(WatchConfig{UserAgent: "watch-agent"}, app))
}

func TestGetEffectiveInterval(t *testing.T) {
	app := AppConfig{CheckInterval: 3 * time.Minute}

	assert.Equal(t, 3*time.Minute, GetEffectiveInterval(WatchConfig{}, app))
	assert.Equal(t, 10*time.Minute, GetEffectiveInterval(WatchConfig{Interval: 10 * time.Minute}, app))
}

func TestGetEffectiveRespectRobots(t *testing.T) {
	tests := []struct {
		name     string
		watchCfg WatchConfig
		appCfg   AppConfig
		expected bool
	}{
		{
			name:     "watch enabled overrides global disabled",
			watchCfg: WatchConfig{RespectRobots: boolPtr(true)},
			appCfg:   AppConfig{RespectRobots: false},
			expected: true,
		},
		{
			name:     "watch disabled overrides global enabled",
			watchCfg: WatchConfig{RespectRobots: boolPtr(false)},
			appCfg:   AppConfig{RespectRobots: true},
			expected: false,
		},
		{
			name:     "watch nil uses global",
			watchCfg: WatchConfig{},
			appCfg:   AppConfig{RespectRobots: true},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetEffectiveRespectRobots(tt.watchCfg, tt.appCfg))
		})
	}
}

func TestAppConfig_YAMLDecoding(t *testing.T) {
	input := `
user_agent: "test-agent"
state_dir: "/tmp/state"
download_dir: "/tmp/downloads"
check_interval: 5m
read_timeout: 15s
max_connections_per_host: 2
http_client_settings:
  max_idle_conns: 20
watches:
  - url: "https://boards.example.com/thread/123"
    interval: 2m
    referer: "https://boards.example.com/"
    respect_robots: true
    skip_patterns: ["\\.webm$"]
`
	var cfg AppConfig
	err := yaml.Unmarshal([]byte(input), &cfg)
	assert.NoError(t, err)

	assert.Equal(t, "test-agent", cfg.UserAgent)
	assert.Equal(t, 5*time.Minute, cfg.CheckInterval)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 2, cfg.MaxConnectionsPerHost)
	assert.Equal(t, 20, cfg.HTTPClientSettings.MaxIdleConns)

	if assert.Len(t, cfg.Watches, 1) {
		w := cfg.Watches[0]
		assert.Equal(t, "https://boards.example.com/thread/123", w.URL)
		assert.Equal(t, 2*time.Minute, w.Interval)
		assert.Equal(t, "https://boards.example.com/", w.Referer)
		assert.Equal(t, boolPtr(true), w.RespectRobots)
		assert.Equal(t, []string{`\.webm$`}, w.SkipPatterns)
	}
}
