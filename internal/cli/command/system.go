package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/annomesh-go/internal/infra/buildinfo"
)

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Server health and status",
		Subcommands: []*cli.Command{
			{
				Name:   "health",
				Usage:  "Check server liveness",
				Action: systemHealth,
			},
			{
				Name:   "ready",
				Usage:  "Check server readiness",
				Action: systemReady,
			},
			{
				Name:   "status",
				Usage:  "Show server and client status",
				Action: systemStatus,
			},
		},
	}
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// ReadyStatus is the body of GET /ready.
type ReadyStatus struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Time     string `json:"time"`
}

// SystemStatus combines liveness, readiness and client details.
type SystemStatus struct {
	Server        string `json:"server"`
	Status        string `json:"status"`
	ServerVersion string `json:"server_version"`
	Ready         bool   `json:"ready"`
	Sessions      int    `json:"sessions"`
	ReadyError    string `json:"ready_error,omitempty"`
	ClientVersion string `json:"client_version"`
}

func systemHealth(c *cli.Context) error {
	api, g, err := client(c)
	if err != nil {
		return err
	}
	var h HealthStatus
	if err := api.Get(c.Context, "/health", nil, &h); err != nil {
		return err
	}
	return render(c, g, h)
}

func systemReady(c *cli.Context) error {
	api, g, err := client(c)
	if err != nil {
		return err
	}
	var r ReadyStatus
	if err := api.Get(c.Context, "/ready", nil, &r); err != nil {
		return err
	}
	return render(c, g, r)
}

func systemStatus(c *cli.Context) error {
	api, g, err := client(c)
	if err != nil {
		return err
	}

	st := SystemStatus{
		Server:        api.BaseURL(),
		ClientVersion: buildinfo.Get().Version,
	}
	var h HealthStatus
	if err := api.Get(c.Context, "/health", nil, &h); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	st.Status = h.Status
	st.ServerVersion = h.Version

	// A server that is alive but not ready is still worth reporting.
	var r ReadyStatus
	if err := api.Get(c.Context, "/ready", nil, &r); err != nil {
		st.ReadyError = err.Error()
	} else {
		st.Ready = true
		st.Sessions = r.Sessions
	}

	return render(c, g, st)
}
