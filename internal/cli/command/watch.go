package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/annomesh-go/internal/cli/connection"
	"github.com/yndnr/annomesh-go/internal/cli/output"
	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/core/session"
	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
	"github.com/yndnr/annomesh-go/internal/transport/wsclient"
)

// WatchCommand returns the watch command.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Join a session and print its changes as they happen",
		ArgsUsage: "SESSION_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "participant",
				Aliases: []string{"p"},
				Usage:   "Participant ID to join as (default: settings file, then random)",
			},
			&cli.DurationFlag{
				Name:  "for",
				Usage: "Stop after this long (default: until interrupted)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log replica internals to stderr at this level",
			},
		},
		Action: watch,
	}
}

// WatchEvent is one line of watch output.
type WatchEvent struct {
	Time         time.Time `json:"time"`
	Event        string    `json:"event"`
	SessionID    string    `json:"session_id"`
	AnnotationID string    `json:"annotation_id,omitempty"`
	LayerID      string    `json:"layer_id,omitempty"`
	Origin       string    `json:"origin,omitempty"`
	Seq          uint64    `json:"seq,omitempty"`

	Annotation *domain.Annotation `json:"annotation,omitempty"`
	Layer      *domain.Layer      `json:"layer,omitempty"`

	// Set on snapshot events.
	Annotations int `json:"annotations,omitempty"`
	Layers      int `json:"layers,omitempty"`
}

// printer is the replica's observer. It runs on the coordinator goroutine.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	format output.Format
	now    func() time.Time
	count  int
}

func (p *printer) AnnotationChanged(sessionID string, op *domain.Operation, eff domain.Effect) {
	ev := WatchEvent{
		Event:        string(op.Type),
		SessionID:    sessionID,
		AnnotationID: op.AnnotationID,
		Origin:       op.OriginID,
		Seq:          op.SessionSeq,
		Annotation:   eff.After,
	}
	if eff.After != nil {
		ev.LayerID = eff.After.EffectiveLayer()
	}
	p.print(ev)
}

func (p *printer) LayerChanged(sessionID string, l *domain.Layer, deleted bool) {
	ev := WatchEvent{Event: "layer", SessionID: sessionID, LayerID: l.ID, Layer: l}
	if deleted {
		ev.Event = "layer-delete"
	}
	p.print(ev)
}

func (p *printer) SnapshotLoaded(snap *domain.Snapshot) {
	p.print(WatchEvent{
		Event:       "snapshot",
		SessionID:   snap.SessionID,
		Seq:         snap.Seq,
		Annotations: len(snap.Annotations),
		Layers:      len(snap.Layers),
	})
}

func (p *printer) print(ev WatchEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	ev.Time = p.now()

	if p.format != output.FormatTable {
		// One document per event so the stream can be piped.
		var f output.Formatter = &output.JSONFormatter{Compact: true}
		if p.format == output.FormatYAML {
			fmt.Fprintln(p.w, "---")
			f = output.NewFormatter(p.format, false)
		}
		_ = f.Format(p.w, ev)
		return
	}

	ts := ev.Time.Format("15:04:05.000")
	switch ev.Event {
	case "snapshot":
		fmt.Fprintf(p.w, "%s  snapshot  %d annotations, %d layers at seq %d\n", ts, ev.Annotations, ev.Layers, ev.Seq)
	case "layer", "layer-delete":
		fmt.Fprintf(p.w, "%s  %-8s  %s %q locked=%t visible=%t\n", ts, ev.Event, ev.LayerID, ev.Layer.Name, ev.Layer.Locked, ev.Layer.Visible)
	default:
		detail := ""
		if ev.Annotation != nil {
			detail = fmt.Sprintf("  %s %s on %s", ev.Annotation.Kind, geometry(ev.Annotation), ev.LayerID)
		}
		fmt.Fprintf(p.w, "%s  %-8s  %s by %s seq %d%s\n", ts, ev.Event, ev.AnnotationID, dash(ev.Origin), ev.Seq, detail)
	}
}

func (p *printer) events() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func watch(c *cli.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	api, g, err := client(c)
	if err != nil {
		return err
	}

	participant := c.String("participant")
	if participant == "" {
		participant = settings(c).Participant
	}
	log, err := watchLogger(c)
	if err != nil {
		return err
	}

	ws, err := wsclient.New(wsclient.Config{
		URL:              api.WebSocketURL(),
		ParticipantID:    participant,
		HandshakeTimeout: g.Timeout,
		TLSConfig:        api.TLSConfig(),
	}, wsclient.WithLogger(log))
	if err != nil {
		return err
	}
	defer ws.Close()

	p := &printer{w: c.App.Writer, format: g.Output, now: time.Now}
	replica := session.NewCoordinator(id, ws, session.ReplicaConfig(ws.ParticipantID()),
		session.WithObserver(p),
		session.WithLogger(log),
	)
	replica.Start()
	defer replica.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("for"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	unsubscribe, err := ws.Subscribe(id, replica)
	if err != nil {
		return err
	}
	defer unsubscribe()

	spin := output.NewSpinner(c.App.ErrWriter, fmt.Sprintf("Joining %s as %s...", id, ws.ParticipantID()))
	spin.Start()
	if err := waitConnected(ctx, ws, id, g.Timeout); err != nil {
		spin.Fail("Could not join " + id)
		return err
	}
	spin.Success("Joined " + id)

	<-ctx.Done()

	// Stop the replica before reading the count so no event is in flight.
	replica.Close()
	fmt.Fprintf(c.App.ErrWriter, "%d events\n", p.events())
	return nil
}

func waitConnected(ctx context.Context, ws *wsclient.Client, sessionID string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = connection.DefaultTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for !ws.Connected(sessionID) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("not connected after %s", timeout)
		case <-tick.C:
		}
	}
	return nil
}

func watchLogger(c *cli.Context) (*slog.Logger, error) {
	level := c.String("log-level")
	if level == "" {
		return logger.Discard(), nil
	}
	l, err := logger.New(logger.Config{Level: level, Format: "text", Output: c.App.ErrWriter})
	if err != nil {
		return nil, err
	}
	return logger.Slog(l), nil
}
