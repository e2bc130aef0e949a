// Package output renders annomesh-cli results as tables, JSON or YAML.
//
// Tables are built by reflection from slices, maps and structs. Struct
// fields use their json name as the column header; a `table:"-"` tag hides
// a field and `table:"wide"` shows it only with --wide.
package output
