// Package command defines the annomesh-cli commands on urfave/cli/v2.
//
//   - session: list, inspect and close sessions through the admin API
//   - watch: join a session over WebSocket and print what happens in it
//   - system: health and readiness checks
//   - config: read and write the CLI settings file
//
// Commands write to the App's Writer so tests can capture output.
package command
