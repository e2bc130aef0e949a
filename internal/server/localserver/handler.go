package localserver

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/yndnr/annomesh-go/internal/core/domain"
)

// ErrUnknownCommand is returned for commands the handler does not know.
var ErrUnknownCommand = errors.New("unknown command")

// Status is the reply to the status command.
type Status struct {
	Version      string
	StartedAt    time.Time
	Sessions     int
	Participants int

	// ReadyError is empty when the server is ready.
	ReadyError string
}

// Admin is the server surface the socket exposes.
type Admin interface {
	Status() Status
	Sessions() []domain.SessionSummary
	CloseSession(sessionID string) error
	Reload() error

	// Shutdown starts a graceful shutdown and returns without waiting
	// for it.
	Shutdown()
}

// Handler executes admin commands.
type Handler struct {
	admin Admin
	now   func() time.Time
}

// NewHandler creates a Handler backed by admin.
func NewHandler(admin Admin) *Handler {
	return &Handler{admin: admin, now: time.Now}
}

var usage = []string{
	"status",
	"sessions",
	"close SESSION_ID",
	"reload",
	"shutdown",
	"help",
}

// Execute runs cmd and writes its output lines to w. The terminating
// ok or error line is written by the caller.
func (h *Handler) Execute(w io.Writer, cmd string, args []string) error {
	switch cmd {
	case "status":
		return h.status(w)
	case "sessions":
		return h.sessions(w)
	case "close":
		if len(args) != 1 {
			return errors.New("usage: close SESSION_ID")
		}
		if err := domain.ValidateSessionID(args[0]); err != nil {
			return err
		}
		return h.admin.CloseSession(args[0])
	case "reload":
		return h.admin.Reload()
	case "shutdown":
		h.admin.Shutdown()
		return nil
	case "help":
		for _, u := range usage {
			fmt.Fprintln(w, u)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
}

func (h *Handler) status(w io.Writer) error {
	st := h.admin.Status()
	ready := "yes"
	if st.ReadyError != "" {
		ready = "no (" + st.ReadyError + ")"
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "version\t%s\n", st.Version)
	fmt.Fprintf(tw, "uptime\t%s\n", h.now().Sub(st.StartedAt).Truncate(time.Second))
	fmt.Fprintf(tw, "ready\t%s\n", ready)
	fmt.Fprintf(tw, "sessions\t%d\n", st.Sessions)
	fmt.Fprintf(tw, "participants\t%d\n", st.Participants)
	return tw.Flush()
}

func (h *Handler) sessions(w io.Writer) error {
	list := h.admin.Sessions()
	if len(list) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tPARTICIPANTS\tANNOTATIONS\tLAYERS\tSEQ")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			s.ID, s.State, s.Participants, s.Annotations, s.Layers, s.Seq)
	}
	return tw.Flush()
}
