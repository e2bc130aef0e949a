// Package confloader loads layered configuration with koanf.
//
// Sources, highest priority first:
//
//  1. Values set explicitly through LoadMap (command-line flags)
//  2. Environment variables with the ANNOMESH_ prefix
//  3. A YAML file
//  4. Defaults held by the target struct
//
// Environment names map to keys by lowercasing and turning a double
// underscore into a key separator, so ANNOMESH_SESSION__IDLE_TIMEOUT sets
// session.idle_timeout.
//
// Watcher reports changes to the configuration file so selected settings,
// such as the log level, can be applied without a restart.
package confloader
