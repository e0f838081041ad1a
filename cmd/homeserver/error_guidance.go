package main

import (
	"context"
	"errors"
	"net"

	"homeserver/internal/api"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "unauthorized":
			lines = append(lines, "hint: check that --key names the identity that owns the path.")
		case "forbidden":
			lines = append(lines, "hint: writes are only accepted under /pub/ and for enabled users.")
		case "resource_exhausted":
			lines = append(lines, "hint: too many failed sign-in attempts; wait a few minutes and retry.")
		}
		if apiErr.Code == "" {
			lines = append(lines, "hint: verify "+urlEnvKey+" points to a homeserver.")
		}
		if apiErr.Status >= 500 {
			lines = append(lines, "hint: server returned an internal error; check server logs for details.")
		}
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check server health or increase HOMESERVER_HTTP_TIMEOUT.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: ensure a homeserver is running at "+urlEnvKey+" or --url.",
			"hint: start a local server with: homeserver serve",
		)
		return uniqueLines(lines)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
