package fetch

import (
	"net"
	"net/http"
	"time"
)

const (
	defaultDialTimeout      = 10 * time.Second
	defaultKeepAliveTimeout = 60 * time.Second
	defaultIdleConnTimeout  = 90 * time.Second
	defaultRequestTimeout   = 30 * time.Second
	maxIdleConnsPerHost     = 16
)

// NewHTTPClient builds a pooled HTTP client with the given per-request
// timeout. A zero timeout falls back to the 30s default. Connections are
// reused across the batch; proxy environment variables are respected.
func NewHTTPClient(requestTimeout time.Duration) *http.Client {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultKeepAliveTimeout,
		}).DialContext,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   requestTimeout,
	}
}
