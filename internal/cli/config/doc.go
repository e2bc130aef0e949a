// Package config holds the annomesh-cli settings file, by default
// ~/.annomesh/cli.yaml. Command line flags and ANNOMESH_* environment
// variables take precedence over it.
package config
