// Package localserver serves the local administration socket.
//
// The socket is a Unix domain socket created with mode 0600, so access is
// controlled by file system permissions and no other authentication is
// done. The protocol is line based: a client writes one command per line
// and reads response lines until a line that is either "ok" or starts
// with "error: ".
//
//	status            version, uptime, readiness and totals
//	sessions          one line per live session
//	close SESSION_ID  close a session and disconnect its participants
//	reload            re-read the configuration file
//	shutdown          begin a graceful shutdown
//	help              list commands
package localserver
