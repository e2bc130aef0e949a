package tlsroots

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewReloader_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewReloader(filepath.Join(dir, "nope.crt"), filepath.Join(dir, "nope.key")); err == nil {
		t.Error("NewReloader accepted missing files")
	}

	certFile, keyFile, _ := writePair(t, dir, "a")
	if err := os.WriteFile(keyFile, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewReloader(certFile, keyFile); err == nil {
		t.Error("NewReloader accepted a broken key")
	}
}

// peerName dials srv with a fresh connection and returns the server's CN.
func peerName(t *testing.T, addr string, pool *Pool) string {
	t.Helper()
	client := &http.Client{
		Timeout: 3 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:   pool.ClientConfig(),
			DisableKeepAlives: true,
		},
	}
	resp, err := client.Get("https://" + addr + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	return resp.TLS.PeerCertificates[0].Subject.CommonName
}

func TestReloader_ServesRenewedCertificate(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile, firstPEM := writePair(t, dir, "first")

	r, err := NewReloader(certFile, keyFile, WithSettle(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	watchDone := make(chan error, 1)
	go func() { watchDone <- r.Watch(ctx) }()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})}
	go func() { _ = srv.Serve(tls.NewListener(ln, ServerConfig(r, nil))) }()
	defer srv.Close()

	pool := EmptyPool()
	if err := pool.AddPEM(firstPEM); err != nil {
		t.Fatal(err)
	}
	if got := peerName(t, ln.Addr().String(), pool); got != "first" {
		t.Fatalf("CN = %q, want first", got)
	}

	// Give the watcher time to register before the files change.
	time.Sleep(100 * time.Millisecond)
	loaded := r.LoadedAt()
	_, _, secondPEM := writePair(t, dir, "second")
	if err := pool.AddPEM(secondPEM); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !r.LoadedAt().After(loaded) {
		if time.Now().After(deadline) {
			t.Fatal("certificate was not reloaded")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := peerName(t, ln.Addr().String(), pool); got != "second" {
		t.Errorf("CN after renewal = %q, want second", got)
	}

	cancel()
	select {
	case err := <-watchDone:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Watch did not return after cancel")
	}
}

func TestReloader_KeepsPreviousOnBadPair(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile, _ := writePair(t, dir, "good")
	r, err := NewReloader(certFile, keyFile)
	if err != nil {
		t.Fatal(err)
	}
	before, _ := r.GetCertificate(nil)

	if err := os.WriteFile(certFile, []byte("truncated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(); err == nil {
		t.Fatal("Reload accepted a broken certificate")
	}
	after, _ := r.GetCertificate(nil)
	if after != before {
		t.Error("failed reload replaced the certificate in service")
	}
}
