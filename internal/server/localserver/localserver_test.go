package localserver

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/annomesh-go/internal/core/domain"
)

type fakeAdmin struct {
	mu        sync.Mutex
	sessions  []domain.SessionSummary
	closed    []string
	reloads   int
	reloadErr error
	shutdowns int
}

func (f *fakeAdmin) Status() Status {
	return Status{
		Version:      "v1.2.3",
		StartedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Sessions:     len(f.sessions),
		Participants: 3,
		ReadyError:   "relay: disconnected",
	}
}

func (f *fakeAdmin) Sessions() []domain.SessionSummary { return f.sessions }

func (f *fakeAdmin) CloseSession(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ID == id {
			f.closed = append(f.closed, id)
			return nil
		}
	}
	return domain.ErrSessionNotFound
}

func (f *fakeAdmin) Reload() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return f.reloadErr
}

func (f *fakeAdmin) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
}

func (f *fakeAdmin) snapshot() (closed []string, shutdowns int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...), f.shutdowns
}

func newFake() *fakeAdmin {
	return &fakeAdmin{sessions: []domain.SessionSummary{
		{ID: "doc-1", State: "active", Participants: 2, Annotations: 5, Layers: 1, Seq: 42},
		{ID: "doc-2", State: "forming", Layers: 1},
	}}
}

func TestHandler_Execute(t *testing.T) {
	tests := []struct {
		name    string
		cmd     string
		args    []string
		want    []string
		wantErr string
	}{
		{name: "status", cmd: "status", want: []string{"version       v1.2.3", "uptime        2h0m0s", "ready         no (relay: disconnected)", "sessions      2", "participants  3"}},
		{name: "sessions", cmd: "sessions", want: []string{"ID     STATE    PARTICIPANTS  ANNOTATIONS  LAYERS  SEQ", "doc-1  active   2             5            1       42", "doc-2  forming  0             0            1       0"}},
		{name: "close", cmd: "close", args: []string{"doc-1"}},
		{name: "close missing", cmd: "close", args: []string{"nope"}, wantErr: "not found"},
		{name: "close usage", cmd: "close", wantErr: "usage"},
		{name: "close invalid id", cmd: "close", args: []string{strings.Repeat("x", domain.MaxSessionIDLength+1)}, wantErr: "too long"},
		{name: "help", cmd: "help", want: usage},
		{name: "unknown", cmd: "drain", wantErr: "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(newFake())
			h.now = func() time.Time { return time.Date(2026, 1, 1, 2, 0, 0, 500, time.UTC) }

			var buf bytes.Buffer
			err := h.Execute(&buf, tt.cmd, tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(strings.ToLower(err.Error()), tt.wantErr) {
					t.Fatalf("Execute() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			got := lines(buf.String())
			if strings.Join(got, "\n") != strings.Join(tt.want, "\n") {
				t.Errorf("output:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(tt.want, "\n"))
			}
		})
	}
}

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if l != "" {
			out = append(out, strings.TrimRight(l, " "))
		}
	}
	return out
}

func socketPath(t *testing.T) string {
	t.Helper()
	// Unix socket paths are short; t.TempDir can exceed the limit.
	dir, err := os.MkdirTemp("", "amadm")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "admin.sock")
}

func startServer(t *testing.T, admin Admin) *Server {
	t.Helper()
	s := New(socketPath(t), NewHandler(admin))
	if err := s.Listen(); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
		if err := <-done; err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	})
	return s
}

func TestServer_Exec(t *testing.T) {
	admin := newFake()
	s := startServer(t, admin)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	fi, err := os.Stat(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("socket mode = %v, want 0600", fi.Mode().Perm())
	}

	out, err := Exec(ctx, s.Path(), "sessions")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(out) != 3 || !strings.HasPrefix(out[1], "doc-1") {
		t.Errorf("sessions output = %q", out)
	}

	if _, err := Exec(ctx, s.Path(), "CLOSE doc-2"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed, _ := admin.snapshot(); len(closed) != 1 || closed[0] != "doc-2" {
		t.Errorf("closed = %v", closed)
	}

	admin.mu.Lock()
	admin.reloadErr = errors.New("invalid configuration:\nlog.level \"loud\"")
	admin.mu.Unlock()
	_, err = Exec(ctx, s.Path(), "reload")
	if err == nil || !strings.Contains(err.Error(), "invalid configuration:; log.level") {
		t.Errorf("reload error = %v", err)
	}

	if _, err := Exec(ctx, s.Path(), "shutdown"); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, n := admin.snapshot(); n != 1 {
		t.Errorf("shutdowns = %d, want 1", n)
	}
}

func TestServer_Listen(t *testing.T) {
	t.Run("replaces stale socket", func(t *testing.T) {
		path := socketPath(t)
		first := New(path, NewHandler(newFake()))
		if err := first.Listen(); err != nil {
			t.Fatal(err)
		}
		// Closing the listener without unlinking leaves a stale file.
		first.listener.(interface{ SetUnlinkOnClose(bool) }).SetUnlinkOnClose(false)
		first.listener.Close()

		second := New(path, NewHandler(newFake()))
		if err := second.Listen(); err != nil {
			t.Fatalf("Listen() over stale socket: %v", err)
		}
		second.listener.Close()
	})

	t.Run("refuses socket in use", func(t *testing.T) {
		s := startServer(t, newFake())
		if err := New(s.Path(), NewHandler(newFake())).Listen(); err == nil {
			t.Error("Listen() on a live socket succeeded")
		}
	})

	t.Run("refuses regular file", func(t *testing.T) {
		path := socketPath(t)
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			t.Fatal(err)
		}
		if err := New(path, NewHandler(newFake())).Listen(); err == nil {
			t.Error("Listen() over a regular file succeeded")
		}
	})
}

func TestServer_ShutdownClosesIdleConnections(t *testing.T) {
	s := New(socketPath(t), NewHandler(newFake()))
	if err := s.Listen(); err != nil {
		t.Fatal(err)
	}
	go s.Serve()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Hold a connection open without sending anything.
	if _, err := Exec(ctx, s.Path(), "help"); err != nil {
		t.Fatal(err)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", s.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Errorf("socket file still present: %v", err)
	}
}
