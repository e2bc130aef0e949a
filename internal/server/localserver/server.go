package localserver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
)

// DefaultIdleTimeout closes connections that send nothing for this long.
const DefaultIdleTimeout = 2 * time.Minute

// maxLine bounds a command line.
const maxLine = 4096

// Server is the local administration server.
type Server struct {
	path        string
	handler     *Handler
	logger      *slog.Logger
	idleTimeout time.Duration

	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = logger.OrDiscard(l) }
}

// WithIdleTimeout overrides DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// New creates a server for the socket at socketPath.
func New(socketPath string, h *Handler, opts ...Option) *Server {
	s := &Server{
		path:        socketPath,
		handler:     h,
		logger:      logger.Discard(),
		idleTimeout: DefaultIdleTimeout,
		conns:       make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// Listen creates the socket. A stale socket file left by a previous
// process is removed; any other file at the path is an error.
func (s *Server) Listen() error {
	if fi, err := os.Lstat(s.path); err == nil {
		if fi.Mode().Type() != fs.ModeSocket {
			return fmt.Errorf("localserver: %s exists and is not a socket", s.path)
		}
		if c, err := net.Dial("unix", s.path); err == nil {
			c.Close()
			return fmt.Errorf("localserver: %s is in use", s.path)
		}
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("localserver: remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("localserver: %w", err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("localserver: %w", err)
	}
	s.listener = ln
	s.running.Store(true)
	return nil
}

// Serve accepts connections until Shutdown. Listen must have succeeded.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.mu.Lock()
		if !s.running.Load() {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// ListenAndServe calls Listen then Serve.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops accepting, closes open connections and waits for their
// handlers. The socket file is removed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running.Store(false)
	var closeErr error
	if s.listener != nil {
		closeErr = s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			return closeErr
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 256), maxLine)
	w := bufio.NewWriter(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		if !sc.Scan() {
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		cmd := strings.ToLower(fields[0])

		var out bytes.Buffer
		err := s.handler.Execute(&out, cmd, fields[1:])
		w.Write(out.Bytes())
		if err != nil {
			s.logger.Warn("admin command failed", "command", cmd, "error", err)
			fmt.Fprintf(w, "error: %s\n", oneLine(err.Error()))
		} else {
			s.logger.Info("admin command", "command", cmd)
			fmt.Fprintln(w, "ok")
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", "; ")
}
