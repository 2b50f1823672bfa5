// Package gatlog provides the default slog.Logger every formulator and
// the dispatcher fall back to when a collaborator does not supply its
// own, plus the rotating file sink the native plugin transport writes
// subprocess stderr through. It is adapted from the teacher's pack-wide
// logging convention (an slog.Logger wrapping a lumberjack.Logger
// writer) rather than the teacher's own code, since the teacher ships no
// logging package at all — this is learned from the rest of the
// retrieval pack instead.
package gatlog

import (
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Default returns the package-wide fallback logger used whenever a
// BaseOptions.Logger (or equivalent) field is left nil.
func Default() *slog.Logger { return defaultLogger }

// SetDefault lets a collaborator replace the fallback logger process-wide,
// e.g. to raise the level or redirect to JSON.
func SetDefault(l *slog.Logger) { defaultLogger = l }

// RotatingSink builds an slog.Logger backed by a size/age-rotated file,
// used by the plugin transport to capture a subprocess's stderr stream
// and by NativeCrash reports to point at a durable log path.
func RotatingSink(path string, maxSizeMB, maxBackups, maxAgeDays int) *slog.Logger {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// RotatingWriter exposes the raw io.Writer (rather than a Logger) for
// callers that need to pipe a subprocess's cmd.Stderr directly into the
// rotating sink instead of through structured log records.
func RotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
}
