package tlsroots

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writePair writes a self-signed certificate for 127.0.0.1 and its key
// into dir and returns the paths and the certificate PEM.
func writePair(t *testing.T, dir, cn string) (certFile, keyFile string, certPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	serial, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	certFile = filepath.Join(dir, "tls.crt")
	keyFile = filepath.Join(dir, "tls.key")
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile, certPEM
}

func TestPool_AddPEM(t *testing.T) {
	_, _, one := writePair(t, t.TempDir(), "one")
	_, _, two := writePair(t, t.TempDir(), "two")
	keyOnly := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte{1}})

	tests := []struct {
		name    string
		data    []byte
		wantLen int
		wantErr bool
	}{
		{"single", one, 1, false},
		{"bundle", append(append([]byte{}, one...), two...), 2, false},
		{"skips other blocks", append(append([]byte{}, keyOnly...), one...), 1, false},
		{"empty", nil, 0, true},
		{"no certificate", keyOnly, 0, true},
		{"garbage certificate", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("x")}), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := EmptyPool()
			err := p.AddPEM(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AddPEM() error = %v, wantErr %v", err, tt.wantErr)
			}
			if p.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", p.Len(), tt.wantLen)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	certFile, _, _ := writePair(t, dir, "ca")

	p, err := Load("", certFile)
	if err != nil {
		t.Fatalf("Load(file) error = %v", err)
	}
	if p.Len() != 1 || p.CertPool() == nil {
		t.Errorf("Len() = %d", p.Len())
	}

	// The directory holds tls.crt and tls.key; only the .crt counts.
	p, err = Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if p.Len() != 1 {
		t.Errorf("Len() from dir = %d, want 1", p.Len())
	}

	if _, err := Load(filepath.Join(dir, "missing.pem")); err == nil {
		t.Error("Load accepted a missing file")
	}
	if _, err := Load(t.TempDir()); !errors.Is(err, ErrNoCertsFound) {
		t.Errorf("Load(empty dir) error = %v, want ErrNoCertsFound", err)
	}
}

func TestServerConfig_ClientAuth(t *testing.T) {
	certFile, keyFile, _ := writePair(t, t.TempDir(), "server")
	r, err := NewReloader(certFile, keyFile)
	if err != nil {
		t.Fatal(err)
	}

	cfg := ServerConfig(r, nil)
	if cfg.ClientAuth != tls.NoClientCert || cfg.GetCertificate == nil {
		t.Errorf("plain config = %+v", cfg)
	}
	cfg = ServerConfig(r, EmptyPool())
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("ClientAuth = %v", cfg.ClientAuth)
	}
}
