// Package zerolog adapts a zerolog.Logger to logger.Logger.
package zerolog

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sblgo/sbl/pkg/logger"
)

type Logger struct {
	zl zerolog.Logger
}

var _ logger.Logger = (*Logger)(nil)

func New(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

func (l *Logger) Error(msg string, args ...any) {
	fields(l.zl.Error(), args).Msg(msg)
}

func (l *Logger) Warn(msg string, args ...any) {
	fields(l.zl.Warn(), args).Msg(msg)
}

func (l *Logger) Info(msg string, args ...any) {
	fields(l.zl.Info(), args).Msg(msg)
}

func (l *Logger) Debug(msg string, args ...any) {
	fields(l.zl.Debug(), args).Msg(msg)
}

// fields attaches slog-style key/value pairs. A trailing key without a value
// is logged under "!BADKEY", matching log/slog.
func fields(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			e = e.Interface("!BADKEY", args[i])
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if err, isErr := args[i+1].(error); isErr {
			e = e.AnErr(key, err)
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	return e
}
