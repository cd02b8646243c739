// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

// Package tls builds the TLS configuration used for outbound upstream calls.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/samber/oops"
)

// ClientOptions controls certificate validation for an upstream client.
type ClientOptions struct {
	// CAFile is an optional PEM bundle appended to the system roots.
	CAFile string

	// AllowInsecure disables certificate validation. Diagnostic use only.
	AllowInsecure bool
}

// ClientConfig returns a TLS configuration that validates certificates
// unless AllowInsecure is explicitly set.
func ClientConfig(opts ClientOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if opts.CAFile != "" {
		pool, err := loadCertPool(opts.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if opts.AllowInsecure {
		slog.Warn("TLS certificate validation disabled for upstream calls; do not use in production")
		cfg.InsecureSkipVerify = true //nolint:gosec // explicit operator override
	}

	return cfg, nil
}

// NewHTTPClient returns an HTTP client with the given timeout and TLS settings.
func NewHTTPClient(timeout time.Duration, tlsConfig *tls.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// loadCertPool reads a PEM bundle and appends it to the system roots.
func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, oops.Code("TLS_CA_LOAD_FAILED").With("path", path).Wrap(err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	added := 0
	for block, rest := pem.Decode(data); block != nil; block, rest = pem.Decode(rest) {
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, parseErr := x509.ParseCertificate(block.Bytes)
		if parseErr != nil {
			return nil, oops.Code("TLS_CA_LOAD_FAILED").With("path", path).Wrap(parseErr)
		}
		pool.AddCert(cert)
		added++
	}
	if added == 0 {
		return nil, oops.Code("TLS_CA_LOAD_FAILED").With("path", path).Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
