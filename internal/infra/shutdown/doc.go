// Package shutdown runs cleanup hooks when the process is asked to stop.
//
// Components register a named hook as they start; on SIGINT or SIGTERM (or
// when the context passed to Wait ends) the hooks run in reverse order under
// one deadline, so listeners stop before the sessions and archives behind
// them.
package shutdown
