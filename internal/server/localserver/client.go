package localserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Exec sends one command to the socket at path and returns the output
// lines. An error reply is returned as an error.
func Exec(ctx context.Context, path, command string) ([]string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(command)); err != nil {
		return nil, err
	}

	var lines []string
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "ok":
			return lines, nil
		case strings.HasPrefix(line, "error: "):
			return lines, errors.New(strings.TrimPrefix(line, "error: "))
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return lines, err
	}
	return lines, errors.New("connection closed before reply")
}
