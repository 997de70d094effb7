package api

import (
	"crypto/tls"
	"fmt"
)

// TLSFiles names the certificate and key served by the API. TLS is on only
// when both are set.
type TLSFiles struct {
	CertFile string
	KeyFile  string
}

// Enabled reports whether both files are configured.
func (t TLSFiles) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// Load builds the server TLS config. It returns nil when TLS is disabled.
func (t TLSFiles) Load() (*tls.Config, error) {
	if !t.Enabled() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
