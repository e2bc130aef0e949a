package config

import "time"

// Defaults.
const (
	DefaultServer  = "http://127.0.0.1:7480"
	DefaultOutput  = "table"
	DefaultTimeout = 30 * time.Second
)

// CLIConfig is the configuration for annomesh-cli.
type CLIConfig struct {
	// Server is the annomesh-server base URL.
	Server string `yaml:"server"`

	// Output is table, json or yaml.
	Output string `yaml:"output"`

	// Timeout bounds each admin API request.
	Timeout time.Duration `yaml:"timeout"`

	// Participant is the id watch joins as. A random id is used when empty.
	Participant string `yaml:"participant,omitempty"`

	// CAFile is a PEM file or directory of CAs trusted in addition to the
	// system roots, for servers behind a private CA.
	CAFile string `yaml:"ca_file,omitempty"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Server:  DefaultServer,
		Output:  DefaultOutput,
		Timeout: DefaultTimeout,
	}
}

// Keys lists the settings `config set` accepts.
var Keys = []string{"server", "output", "timeout", "participant", "ca_file"}
