package command

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/annomesh-go/internal/cli/output"
	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/server/httpserver/handler"
)

// SessionCommand returns the session subcommand group.
func SessionCommand() *cli.Command {
	return &cli.Command{
		Name:    "session",
		Aliases: []string{"sess"},
		Usage:   "Inspect and close sessions",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List live sessions",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "state",
						Usage: "Filter by state (forming, active, draining)",
					},
				},
				Action: sessionList,
			},
			{
				Name:      "show",
				Aliases:   []string{"get"},
				Usage:     "Show a session with its layers and presence",
				ArgsUsage: "SESSION_ID",
				Action:    sessionShow,
			},
			{
				Name:      "snapshot",
				Usage:     "Print the full session state",
				ArgsUsage: "SESSION_ID",
				Action:    sessionSnapshot,
			},
			{
				Name:      "annotations",
				Aliases:   []string{"ann"},
				Usage:     "List live annotations",
				ArgsUsage: "SESSION_ID",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "layer",
						Aliases: []string{"l"},
						Usage:   "Only annotations on these layers",
					},
				},
				Action: sessionAnnotations,
			},
			{
				Name:      "presence",
				Usage:     "List participant pointers",
				ArgsUsage: "SESSION_ID",
				Action:    sessionPresence,
			},
			{
				Name:      "close",
				Usage:     "Close a session and disconnect its participants",
				ArgsUsage: "SESSION_ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Skip confirmation",
					},
				},
				Action: sessionClose,
			},
		},
	}
}

func sessionID(c *cli.Context) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", fmt.Errorf("session ID required")
	}
	if err := domain.ValidateSessionID(id); err != nil {
		return "", err
	}
	return id, nil
}

func sessionPath(id string, parts ...string) string {
	return "/v1/sessions/" + url.PathEscape(id) + strings.Join(parts, "")
}

func sessionList(c *cli.Context) error {
	api, g, err := client(c)
	if err != nil {
		return err
	}

	query := url.Values{}
	if state := c.String("state"); state != "" {
		query.Set("state", state)
	}
	var result handler.ListSessionsResponse
	if err := api.Get(c.Context, "/v1/sessions", query, &result); err != nil {
		return err
	}

	if g.Output != output.FormatTable {
		return render(c, g, result)
	}
	if err := render(c, g, result.Items); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "\nTotal: %d sessions\n", result.Total)
	return nil
}

func sessionShow(c *cli.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	api, g, err := client(c)
	if err != nil {
		return err
	}

	var result handler.SessionResponse
	if err := api.Get(c.Context, sessionPath(id), nil, &result); err != nil {
		return err
	}

	if g.Output != output.FormatTable {
		return render(c, g, result)
	}
	w := c.App.Writer
	if err := render(c, g, result.SessionSummary); err != nil {
		return err
	}
	fmt.Fprintf(w, "backlog      %d\n", result.Backlog)

	fmt.Fprintf(w, "\nLayers:\n")
	if err := render(c, g, result.Layers); err != nil {
		return err
	}
	if len(result.Presence) > 0 {
		fmt.Fprintf(w, "\nPresence:\n")
		return renderPresence(c, result.Presence)
	}
	return nil
}

func sessionSnapshot(c *cli.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	api, g, err := client(c)
	if err != nil {
		return err
	}

	var snap domain.Snapshot
	if err := api.Get(c.Context, sessionPath(id, "/snapshot"), nil, &snap); err != nil {
		return err
	}

	if g.Output != output.FormatTable {
		return render(c, g, snap)
	}
	w := c.App.Writer
	fmt.Fprintf(w, "Session %s at seq %d\n\nLayers:\n", snap.SessionID, snap.Seq)
	if err := render(c, g, snap.Layers); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nAnnotations:\n")
	return renderAnnotations(c, snap.Annotations)
}

func sessionAnnotations(c *cli.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	api, g, err := client(c)
	if err != nil {
		return err
	}

	query := url.Values{}
	if layers := c.StringSlice("layer"); len(layers) > 0 {
		query.Set("layer", strings.Join(layers, ","))
	}
	var result handler.ListAnnotationsResponse
	if err := api.Get(c.Context, sessionPath(id, "/annotations"), query, &result); err != nil {
		return err
	}

	if g.Output != output.FormatTable {
		return render(c, g, result)
	}
	if err := renderAnnotations(c, result.Items); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "\nTotal: %d annotations\n", result.Total)
	return nil
}

func sessionPresence(c *cli.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	api, g, err := client(c)
	if err != nil {
		return err
	}

	var records []domain.PresenceRecord
	if err := api.Get(c.Context, sessionPath(id, "/presence"), nil, &records); err != nil {
		return err
	}
	if g.Output != output.FormatTable {
		return render(c, g, records)
	}
	return renderPresence(c, records)
}

func sessionClose(c *cli.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	api, _, err := client(c)
	if err != nil {
		return err
	}

	if !c.Bool("force") && !confirm(c, fmt.Sprintf("Close session %s and disconnect its participants?", id)) {
		fmt.Fprintln(c.App.Writer, "Aborted.")
		return nil
	}
	if err := api.Delete(c.Context, sessionPath(id)); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Session %s closed.\n", id)
	return nil
}

func renderAnnotations(c *cli.Context, anns []*domain.Annotation) error {
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	t := &output.Table{Headers: []string{"ID", "KIND", "LAYER", "GEOMETRY", "AUTHOR"}}
	if g.Wide {
		t.Headers = append(t.Headers, "COLOR", "CREATED")
	}
	for _, a := range anns {
		row := []string{a.ID, string(a.Kind), a.EffectiveLayer(), geometry(a), dash(a.AuthorID)}
		if g.Wide {
			row = append(row, dash(a.Color), a.CreatedAtTime().Format("2006-01-02 15:04:05"))
		}
		t.AddRow(row...)
	}
	return t.Render(c.App.Writer)
}

func renderPresence(c *cli.Context, records []domain.PresenceRecord) error {
	t := &output.Table{Headers: []string{"USER", "X", "Y", "LAST SEEN"}}
	for _, r := range records {
		t.AddRow(r.UserID,
			fmt.Sprintf("%g", r.Position.X),
			fmt.Sprintf("%g", r.Position.Y),
			r.LastSeenAt.Format("15:04:05.000"))
	}
	return t.Render(c.App.Writer)
}

func geometry(a *domain.Annotation) string {
	g := a.Geometry
	switch a.Kind {
	case domain.KindPoint:
		return fmt.Sprintf("(%g,%g)", g.X, g.Y)
	case domain.KindCircle:
		return fmt.Sprintf("(%g,%g) r=%g", g.X, g.Y, g.Radius)
	case domain.KindArrow:
		if g.End != nil {
			return fmt.Sprintf("(%g,%g)->(%g,%g)", g.X, g.Y, g.End.X, g.End.Y)
		}
		return fmt.Sprintf("(%g,%g)", g.X, g.Y)
	case domain.KindText:
		return fmt.Sprintf("(%g,%g) %q", g.X, g.Y, g.Text)
	case domain.KindFreehand:
		return fmt.Sprintf("%d points", len(g.Points))
	default:
		return fmt.Sprintf("(%g,%g) %gx%g", g.X, g.Y, g.Width, g.Height)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
