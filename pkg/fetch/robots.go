package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"github.com/Sriram-PR/thread-watcher/pkg/parse"
)

const maxRobotsBytes = 512 * 1024

// RobotsChecker fetches, caches and evaluates robots.txt per host.
// A host whose robots.txt cannot be fetched or parsed allows everything.
type RobotsChecker struct {
	conns     *HostConnections
	limiter   *RateLimiter
	delay     time.Duration
	timeout   time.Duration
	userAgent string
	log       *logrus.Entry

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData // host -> parsed data (nil means allow all)
}

// NewRobotsChecker creates a RobotsChecker sharing conns with the downloader so
// robots fetches count against the same per-host cap.
func NewRobotsChecker(conns *HostConnections, limiter *RateLimiter, delay, timeout time.Duration, userAgent string, log *logrus.Entry) *RobotsChecker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RobotsChecker{
		conns:     conns,
		limiter:   limiter,
		delay:     delay,
		timeout:   timeout,
		userAgent: userAgent,
		log:       log,
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether userAgent may fetch target.
func (rc *RobotsChecker) Allowed(ctx context.Context, target *url.URL, userAgent string) bool {
	data := rc.robotsData(ctx, target)
	if data == nil {
		return true
	}
	if userAgent == "" {
		userAgent = rc.userAgent
	}
	return data.TestAgent(target.RequestURI(), userAgent)
}

// Forget drops the cached entry for host so the next check fetches again.
func (rc *RobotsChecker) Forget(host string) {
	rc.mu.Lock()
	delete(rc.cache, host)
	rc.mu.Unlock()
}

func (rc *RobotsChecker) robotsData(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := parse.HostKey(target)

	rc.mu.Lock()
	data, found := rc.cache[host]
	rc.mu.Unlock()
	if found {
		return data
	}

	data, cacheable := rc.fetch(ctx, target)
	if cacheable {
		rc.mu.Lock()
		rc.cache[host] = data
		rc.mu.Unlock()
	}
	return data
}

// fetch retrieves robots.txt once. The result is not cacheable when ctx was
// cancelled mid-fetch.
func (rc *RobotsChecker) fetch(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, bool) {
	host := parse.HostKey(target)
	scheme := target.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	robotsURL := (&url.URL{Scheme: scheme, Host: target.Host, Path: "/robots.txt"}).String()
	log := rc.log.WithFields(logrus.Fields{"host": host, "robots_url": robotsURL})
	log.Info("Fetching robots.txt...")

	group, err := rc.conns.Obtain(ctx, host)
	if err != nil {
		return nil, false
	}
	defer rc.conns.Release(group)

	if rc.limiter != nil {
		if err := rc.limiter.ApplyDelay(ctx, host, rc.delay); err != nil {
			return nil, false
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, robotsURL, nil)
	if err != nil {
		log.Errorf("Error creating request: %v", err)
		return nil, true
	}
	if rc.userAgent != "" {
		req.Header.Set("User-Agent", rc.userAgent)
	}

	resp, err := group.Client().Do(req)
	if rc.limiter != nil {
		rc.limiter.UpdateLastRequestTime(host)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		log.Warnf("Fetching robots.txt failed, allowing all: %v", err)
		return nil, true
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.WithField("status_code", resp.StatusCode).Info("No usable robots.txt, allowing all")
		return nil, true
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		log.Warnf("Error reading robots.txt body: %v", err)
		return nil, true
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		log.Warnf("Error parsing robots.txt: %v", err)
		return nil, true
	}
	log.Debug("Parsed robots.txt")
	return data, true
}
