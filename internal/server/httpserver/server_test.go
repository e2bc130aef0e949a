package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s := New(":7480", h)
	if s == nil {
		t.Fatal("New returned nil")
	}
	if s.Addr() != ":7480" {
		t.Errorf("Addr() = %q", s.Addr())
	}
	if s.httpServer.ReadHeaderTimeout != DefaultReadHeaderTimeout {
		t.Errorf("ReadHeaderTimeout = %v", s.httpServer.ReadHeaderTimeout)
	}
	if s.TLS() {
		t.Error("TLS() without WithTLSConfig")
	}
	if s.httpServer.WriteTimeout != 0 {
		t.Error("WriteTimeout must stay zero for WebSocket connections")
	}

	custom := New(":7480", h, WithReadHeaderTimeout(3*time.Second), WithReadHeaderTimeout(0),
		WithTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	if !custom.TLS() {
		t.Error("TLS() = false with WithTLSConfig")
	}
	if custom.httpServer.ReadHeaderTimeout != 3*time.Second {
		t.Errorf("ReadHeaderTimeout with option = %v", custom.httpServer.ReadHeaderTimeout)
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := New(ln.Addr().String(), h)

	errChan := make(chan error, 1)
	go func() { errChan <- s.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("Serve returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for Serve to return")
	}
}
