package main

import (
	"fmt"
	"os"
	"time"

	"homeserver/internal/format"
)

var (
	jsonFormatter  format.Formatter = format.JSONFormatter{Indent: "  "}
	linesFormatter format.Formatter = format.LinesFormatter{}
)

func writeJSON(payload any) error {
	return jsonFormatter.Write(os.Stdout, payload)
}

func writeLines(lines []string) error {
	return linesFormatter.Write(os.Stdout, lines)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
