package logger

import (
	"log/slog"
	"os"
)

// New returns the root structured logger. JSON output so log shippers can
// index request_id and outcome fields without parsing.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
