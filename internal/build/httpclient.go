package build

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// NewSecureHTTPClient returns an http.Client hardened for HTTP fetches made
// from Go code: a bounded TLS version range, strong cipher suites only, and
// dial/handshake timeouts so a stalled mirror cannot hang indefinitely.
// Nothing in internal/build calls it: component prepare.* hooks run as
// separate processes, and the container pull goes through the container
// engine.
func NewSecureHTTPClient() *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()

	base.DialContext = (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext

	base.TLSHandshakeTimeout = 10 * time.Second
	base.ResponseHeaderTimeout = 15 * time.Second
	base.ExpectContinueTimeout = 1 * time.Second
	base.IdleConnTimeout = 90 * time.Second
	base.ForceAttemptHTTP2 = true

	base.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		},
	}

	return &http.Client{
		Transport: base,
		Timeout:   30 * time.Second,
	}
}
