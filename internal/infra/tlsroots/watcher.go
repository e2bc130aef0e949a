package tlsroots

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
)

// DefaultSettle is how long the Reloader waits after the last file event
// before reading the key pair, so a cert and key written one after the
// other load together.
const DefaultSettle = 250 * time.Millisecond

// Reloader serves a certificate pair and reloads it when either file
// changes. A pair that fails to load leaves the previous one in service.
type Reloader struct {
	certFile string
	keyFile  string
	settle   time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	cert     *tls.Certificate
	loadedAt time.Time
}

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ReloaderOption {
	return func(r *Reloader) {
		r.logger = logger.OrDiscard(l)
	}
}

// WithSettle overrides DefaultSettle.
func WithSettle(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.settle = d
		}
	}
}

// NewReloader loads the pair once and fails if it cannot.
func NewReloader(certFile, keyFile string, opts ...ReloaderOption) (*Reloader, error) {
	r := &Reloader{
		certFile: certFile,
		keyFile:  keyFile,
		settle:   DefaultSettle,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reads the key pair from disk.
func (r *Reloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("tlsroots: load key pair: %w", err)
	}
	r.mu.Lock()
	r.cert = &cert
	r.loadedAt = time.Now()
	r.mu.Unlock()
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// LoadedAt returns when the pair in service was read.
func (r *Reloader) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}

// Watch reloads on changes until ctx is done. It watches the parent
// directories so editors and secret mounts that replace files by rename
// are seen.
func (r *Reloader) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	defer fw.Close()

	dirs := map[string]bool{filepath.Dir(r.certFile): true, filepath.Dir(r.keyFile): true}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("tlsroots: watch %s: %w", dir, err)
		}
	}
	names := map[string]bool{filepath.Base(r.certFile): true, filepath.Base(r.keyFile): true}

	r.logger.Info("certificate watcher started", "cert_file", r.certFile)

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !names[filepath.Base(ev.Name)] || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			settle = time.After(r.settle)
		case <-settle:
			settle = nil
			if err := r.Reload(); err != nil {
				r.logger.Error("certificate reload failed, keeping previous", "error", err)
				continue
			}
			r.logger.Info("certificate reloaded", "cert_file", r.certFile)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("certificate watcher error", "error", err)
		}
	}
}
