package server

import (
	"crypto/tls"
	"net"
)

type options struct {
	tlsConfig *tls.Config
}

type Option func(*options)

// WithTLS serves over TLS with cfg.
func WithTLS(cfg *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = cfg
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) scheme() string {
	if o.tlsConfig != nil {
		return "https"
	}
	return "http"
}

func (o options) listen(addr string) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if o.tlsConfig != nil {
		listener = tls.NewListener(listener, o.tlsConfig)
	}
	return listener, nil
}
