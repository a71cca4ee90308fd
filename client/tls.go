package client

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// config returns nil when TLS is disabled. Server host names are not
// checked in "required" mode, only the certificate chain.
func (o TLSOptions) config() (*tls.Config, error) {
	if !o.Enabled {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if o.CertFile != "" || o.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	var roots *x509.CertPool
	if o.CACerts != "" {
		pem, err := os.ReadFile(o.CACerts)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificates: %w", err)
		}
		roots = x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", o.CACerts)
		}
		cfg.RootCAs = roots
	}

	switch o.VerifyMode {
	case "none":
		cfg.InsecureSkipVerify = true
	case "optional":
		cfg.InsecureSkipVerify = true
		cfg.VerifyConnection = verifyChain(roots, false)
	case "", "required":
		cfg.InsecureSkipVerify = true
		cfg.VerifyConnection = verifyChain(roots, true)
	default:
		return nil, fmt.Errorf("invalid tls verify_mode %q", o.VerifyMode)
	}
	return cfg, nil
}

// verifyChain checks the peer certificates against roots (the system pool
// when nil). A peer without certificates passes unless required is set.
func verifyChain(roots *x509.CertPool, required bool) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			if required {
				return errors.New("server presented no certificate")
			}
			return nil
		}
		inter := x509.NewCertPool()
		for _, c := range cs.PeerCertificates[1:] {
			inter.AddCert(c)
		}
		_, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: inter,
		})
		return err
	}
}
