package logging

import (
	"io"
	"log/slog"
	"os"
)

// New returns a JSON logger tagged with the service name and installs it as the slog default.
func New(service string) *slog.Logger {
	logger := NewWithWriter(os.Stdout, service)
	slog.SetDefault(logger)
	return logger
}

func NewWithWriter(w io.Writer, service string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	}).WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("hostname", hostname()),
	})
	return slog.New(handler)
}

// Discard is used where no logger was injected.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown-hostname"
	}
	return name
}
