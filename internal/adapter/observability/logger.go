package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/pixtools/internal/config"
)

// SetupLogger builds the process-wide JSON logger. Every record carries the
// service name and environment so the api and worker log streams can be told
// apart once aggregated.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
