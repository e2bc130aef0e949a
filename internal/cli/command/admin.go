package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/annomesh-go/internal/server/localserver"
)

// DefaultAdminSocket is where annomesh-server is usually told to put its
// admin socket.
const DefaultAdminSocket = "/run/annomesh/admin.sock"

// AdminCommand returns the admin command, which talks to a server's local
// administration socket instead of its HTTP API.
func AdminCommand() *cli.Command {
	return &cli.Command{
		Name:      "admin",
		Usage:     "Run a command on the local server admin socket",
		ArgsUsage: "status | sessions | close SESSION_ID | reload | shutdown | help",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "socket",
				Usage:   "Admin socket path",
				Value:   DefaultAdminSocket,
				EnvVars: []string{"ANNOMESH_ADMIN_SOCKET"},
			},
		},
		Action: admin,
	}
}

func admin(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("command required, try: admin help")
	}
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	cmd := strings.Join(c.Args().Slice(), " ")
	if c.Args().First() == "shutdown" && !confirm(c, "Shut the server down?") {
		fmt.Fprintln(c.App.Writer, "Aborted.")
		return nil
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()

	lines, err := localserver.Exec(ctx, c.String("socket"), cmd)
	for _, l := range lines {
		fmt.Fprintln(c.App.Writer, l)
	}
	if err != nil {
		return fmt.Errorf("admin %s: %w", c.Args().First(), err)
	}
	return nil
}
