package h2c

import (
	"crypto/tls"
	"time"
)

// Options configures the HTTP/2 transport behavior.
//
// Defaults:
// - RPCTimeout:       3s (used only if incoming context has no deadline)
// - MaxResponseBytes: 4 MiB
// - UserAgent:        grpcwire
// - TLSConfig:        nil, i.e. cleartext HTTP/2 with prior knowledge
//
// EndpointProvider must be provided (use StaticEndpoints or a custom implementation).
// If Provider is nil, the transport will error on calls.

type Options struct {
	Provider EndpointProvider

	RPCTimeout       time.Duration
	MaxResponseBytes int64
	UserAgent        string

	TLSConfig *tls.Config
}

// Option mutates Options
//
// Use WithX helpers below.

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		RPCTimeout:       3 * time.Second,
		MaxResponseBytes: 4 << 20,
		UserAgent:        "grpcwire",
	}
}

func WithProvider(p EndpointProvider) Option { return func(o *Options) { o.Provider = p } }
func WithRPCTimeout(d time.Duration) Option  { return func(o *Options) { o.RPCTimeout = d } }
func WithMaxResponseBytes(n int64) Option    { return func(o *Options) { o.MaxResponseBytes = n } }
func WithUserAgent(ua string) Option         { return func(o *Options) { o.UserAgent = ua } }
func WithTLS(cfg *tls.Config) Option         { return func(o *Options) { o.TLSConfig = cfg } }
