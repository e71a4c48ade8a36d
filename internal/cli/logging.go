package cli

import (
	"io"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/sblgo/sbl/pkg/logger"
	zlog "github.com/sblgo/sbl/pkg/logger/zerolog"
)

func newLogger(w io.Writer, format string, verbose bool) logger.Logger {
	level := slog.LevelInfo
	zlevel := zerolog.InfoLevel
	if verbose {
		level = slog.LevelDebug
		zlevel = zerolog.DebugLevel
	}

	switch format {
	case "json":
		return logger.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	case "console":
		zl := zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).Level(zlevel).With().Timestamp().Logger()
		return zlog.New(zl)
	default:
		return logger.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}
}
