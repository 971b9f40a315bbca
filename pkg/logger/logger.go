// Package logger provides the process-wide structured logger. Events are
// slog records rendered through tint when stdout is a terminal and through
// the JSON handler otherwise, so log output stays grep-able when the server
// runs headless under a tray launcher.
package logger

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

var base *slog.Logger

func Init() {
	InitWithLevel(os.Getenv("LANDROP_LOG_LEVEL"))
}

func InitWithLevel(levelName string) {
	level := slog.LevelInfo
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if term.IsTerminal(int(os.Stdout.Fd())) {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == "error" && a.Value.Kind() == slog.KindAny {
					if err, ok := a.Value.Any().(error); ok {
						return tint.Err(err)
					}
				}
				return a
			},
		})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	base = slog.New(handler)
	slog.SetDefault(base)
}

func get() *slog.Logger {
	if base == nil {
		Init()
	}
	return base
}

func attrs(fields map[string]interface{}) []any {
	out := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		out = append(out, key, value)
	}
	return out
}

func Debug(event string, fields map[string]interface{}) {
	get().Debug(event, attrs(fields)...)
}

func Info(event string, fields map[string]interface{}) {
	get().Info(event, attrs(fields)...)
}

func Warn(event string, fields map[string]interface{}) {
	get().Warn(event, attrs(fields)...)
}

func Error(event string, fields map[string]interface{}) {
	get().Error(event, attrs(fields)...)
}

func InfoWithDevice(deviceID, event string, fields map[string]interface{}) {
	get().With("device_id", deviceID).Info(event, attrs(fields)...)
}

func WarnWithDevice(deviceID, event string, fields map[string]interface{}) {
	get().With("device_id", deviceID).Warn(event, attrs(fields)...)
}
