package llm

import (
	"net"
	"net/http"
	"time"

	"dietchat/internal/config"
)

// NewHTTPClient builds the shared outbound client for provider calls. The
// pool and the connection-phase timeouts are bounded; there is no overall
// client timeout because streamed replies are long-lived and are bounded by
// the request context instead.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          positiveOr(cfg.MaxIdleConns, 64),
		MaxIdleConnsPerHost:   positiveOr(cfg.MaxIdleConnsPerHost, 16),
		MaxConnsPerHost:       positiveOr(cfg.MaxConnsPerHost, 32),
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: transport}
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
