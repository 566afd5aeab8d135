package fetch

import (
	"errors"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/thread-watcher/pkg/config"
)

// TransportFactory builds the RoundTripper owned by one connection group.
// Each group gets its own transport so rotating a group drops only its connections.
type TransportFactory func() http.RoundTripper

// NewTransportFactory returns a factory producing transports configured from cfg.
func NewTransportFactory(cfg config.HTTPClientConfig) TransportFactory {
	return func() http.RoundTripper {
		dialer := &net.Dialer{
			Timeout:   cfg.DialerTimeout,
			KeepAlive: cfg.DialerKeepAlive,
		}

		transport := &http.Transport{
			Proxy:                  http.ProxyFromEnvironment,
			DialContext:            dialer.DialContext,
			ForceAttemptHTTP2:      true,
			MaxIdleConns:           cfg.MaxIdleConns,
			MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:        cfg.IdleConnTimeout,
			TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
			ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
			MaxResponseHeaderBytes: 1 << 20,
		}
		if cfg.ForceAttemptHTTP2 != nil {
			transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
		}
		return transport
	}
}

// newGroupClient wraps a group's transport in a client. Timeouts are enforced
// per request by the downloader, so the client itself has none.
func newGroupClient(transport http.RoundTripper, log *logrus.Entry) *http.Client {
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
}
