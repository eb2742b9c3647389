package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/xerrors"
)

// InitLogger installs a JSON slog handler writing to stdout as the default logger.
// level is one of DEBUG, INFO, WARN, ERROR (case-insensitive).
func InitLogger(level string) error {
	return initLogger(os.Stdout, level)
}

func initLogger(w io.Writer, level string) error {
	name := strings.ToUpper(strings.TrimSpace(level))
	if name == "WARNING" {
		name = "WARN"
	}

	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return xerrors.Errorf("invalid log level %q: %w", level, err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: l,
	})))
	return nil
}
