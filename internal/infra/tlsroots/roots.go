package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoCertsFound is returned when PEM data holds no certificate.
var ErrNoCertsFound = errors.New("tlsroots: no certificates found")

// Pool is a set of trusted CA certificates.
type Pool struct {
	certs *x509.CertPool
	count int
}

// SystemPool starts from the system roots, or from an empty pool on
// platforms without them.
func SystemPool() *Pool {
	certs, err := x509.SystemCertPool()
	if err != nil {
		certs = x509.NewCertPool()
	}
	return &Pool{certs: certs}
}

// EmptyPool starts with no trusted certificates.
func EmptyPool() *Pool {
	return &Pool{certs: x509.NewCertPool()}
}

// Load returns the system roots plus the certificates in each path. A path
// may be a PEM file or a directory of .pem, .crt and .cer files.
func Load(paths ...string) (*Pool, error) {
	p := SystemPool()
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := p.Add(path); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Add adds a PEM file or every certificate file in a directory.
func (p *Pool) Add(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("tlsroots: %w", err)
	}
	if !info.IsDir() {
		return p.AddFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read dir %s: %w", path, err)
	}
	added := 0
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".pem", ".crt", ".cer":
		default:
			continue
		}
		if e.IsDir() {
			continue
		}
		if err := p.AddFile(filepath.Join(path, e.Name())); err != nil {
			return err
		}
		added++
	}
	if added == 0 {
		return fmt.Errorf("tlsroots: %s: %w", path, ErrNoCertsFound)
	}
	return nil
}

// AddFile adds every certificate in a PEM file.
func (p *Pool) AddFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read %s: %w", path, err)
	}
	if err := p.AddPEM(data); err != nil {
		return fmt.Errorf("%w (%s)", err, path)
	}
	return nil
}

// AddPEM adds every CERTIFICATE block in data. Other blocks are skipped.
func (p *Pool) AddPEM(data []byte) error {
	added := 0
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		p.certs.AddCert(cert)
		added++
	}
	if added == 0 {
		return ErrNoCertsFound
	}
	p.count += added
	return nil
}

// Len returns how many certificates were added on top of the base pool.
func (p *Pool) Len() int {
	return p.count
}

// CertPool returns the underlying pool.
func (p *Pool) CertPool() *x509.CertPool {
	return p.certs
}

// ClientConfig trusts the pool when dialing the server.
func (p *Pool) ClientConfig() *tls.Config {
	return &tls.Config{
		RootCAs:    p.certs,
		MinVersion: tls.VersionTLS12,
	}
}

// ServerConfig returns the listener configuration. Certificates come from
// r on every handshake. When clientCAs is non-nil, clients must present a
// certificate signed by one of them.
func ServerConfig(r *Reloader, clientCAs *Pool) *tls.Config {
	cfg := &tls.Config{
		GetCertificate: r.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	if clientCAs != nil {
		cfg.ClientCAs = clientCAs.certs
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg
}
