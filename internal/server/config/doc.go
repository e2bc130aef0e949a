// Package config defines the annomesh-server configuration.
//
//   - spec.go: the ServerConfig tree and its koanf keys
//   - default.go: default values
//   - verify.go: validation run before anything is started
//   - sanitize.go: a copy safe to log
//
// Values are loaded by internal/infra/confloader from a YAML file,
// ANNOMESH_ environment variables and command-line flags.
package config
