package command

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/annomesh-go/internal/cli/config"
	"github.com/yndnr/annomesh-go/internal/cli/connection"
	"github.com/yndnr/annomesh-go/internal/cli/output"
	"github.com/yndnr/annomesh-go/internal/infra/buildinfo"
	"github.com/yndnr/annomesh-go/internal/infra/tlsroots"
)

const metaConfig = "config"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:                 "annomesh-cli",
		Usage:                "Inspect and manage annomesh-server sessions",
		Version:              buildinfo.String(),
		Flags:                globalFlags(),
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			SessionCommand(),
			WatchCommand(),
			SystemCommand(),
			ConfigCommand(),
			AdminCommand(),
		},
		Before:   loadConfig,
		Metadata: map[string]interface{}{},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI settings file",
			EnvVars: []string{"ANNOMESH_CLI_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "annomesh-server address (e.g., http://127.0.0.1:7480)",
			EnvVars: []string{"ANNOMESH_SERVER"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Request timeout",
		},
		&cli.StringFlag{
			Name:    "ca-file",
			Usage:   "Extra CA certificates (PEM file or directory) for https servers",
			EnvVars: []string{"ANNOMESH_CA_FILE"},
		},
	}
}

func loadConfig(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	c.App.Metadata[metaConfig] = cfg
	return nil
}

// settings returns the file settings, or defaults when Before did not run.
func settings(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// GlobalFlags are the effective global settings: flags and environment
// over the settings file.
type GlobalFlags struct {
	Server  string
	Output  output.Format
	Wide    bool
	Timeout time.Duration
	CAFile  string
}

// ParseGlobalFlags resolves the global settings for c.
func ParseGlobalFlags(c *cli.Context) (*GlobalFlags, error) {
	cfg := settings(c)
	g := &GlobalFlags{
		Server:  cfg.Server,
		Wide:    c.Bool("wide"),
		Timeout: cfg.Timeout,
		CAFile:  cfg.CAFile,
	}
	if c.IsSet("server") {
		g.Server = c.String("server")
	}
	if c.IsSet("timeout") {
		g.Timeout = c.Duration("timeout")
	}
	if c.IsSet("ca-file") {
		g.CAFile = c.String("ca-file")
	}

	format := cfg.Output
	if c.IsSet("output") {
		format = c.String("output")
	}
	f, err := output.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	g.Output = f
	return g, nil
}

// client builds the admin API client for c.
func client(c *cli.Context) (*connection.HTTPClient, *GlobalFlags, error) {
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return nil, nil, err
	}
	var opts []connection.ClientOption
	if g.CAFile != "" {
		pool, err := tlsroots.Load(g.CAFile)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, connection.WithTLSConfig(pool.ClientConfig()))
	}
	return connection.NewHTTPClient(g.Server, g.Timeout, opts...), g, nil
}

// render writes data in the selected format.
func render(c *cli.Context, g *GlobalFlags, data any) error {
	return output.NewFormatter(g.Output, g.Wide).Format(c.App.Writer, data)
}

// confirm asks a yes/no question on the App's Reader.
func confirm(c *cli.Context, question string) bool {
	fmt.Fprintf(c.App.Writer, "%s [y/N]: ", question)
	line, _ := bufio.NewReader(c.App.Reader).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
