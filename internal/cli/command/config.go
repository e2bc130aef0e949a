package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/annomesh-go/internal/cli/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage CLI settings",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the settings file merged with defaults",
				Action: configShow,
			},
			{
				Name:      "get",
				Usage:     "Print one setting",
				ArgsUsage: "KEY",
				Action:    configGet,
			},
			{
				Name:      "set",
				Usage:     "Change one setting and save the file",
				ArgsUsage: "KEY VALUE",
				Action:    configSet,
			},
			{
				Name:   "path",
				Usage:  "Print the settings file path",
				Action: configPath,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	cfg := settings(c)
	view := map[string]string{}
	for _, k := range config.Keys {
		v, _ := cfg.Get(k)
		view[k] = v
	}
	return render(c, g, view)
}

func configGet(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: config get KEY")
	}
	v, err := settings(c).Get(c.Args().First())
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, v)
	return nil
}

func configSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: config set KEY VALUE")
	}
	key, value := c.Args().Get(0), c.Args().Get(1)

	cfg := settings(c)
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	path := c.String("config")
	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	fmt.Fprintf(c.App.Writer, "%s = %s\n", key, value)
	return nil
}

func configPath(c *cli.Context) error {
	fmt.Fprintln(c.App.Writer, c.String("config"))
	return nil
}
