// Package logger provides the colored-console logging surface used by the
// demo CLI binaries and, at debug level, by the connection state machine to
// report state transitions. It is a thin named-level wrapper around
// logrus rather than a hand-rolled formatter.
package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	base.SetLevel(logrus.InfoLevel)
}

// SetLevel sets the minimum level that will be emitted. Accepts the same
// names logrus does ("debug", "info", "warn", "error").
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)
}

// ShowTime enables or disables the timestamp field in log output.
func ShowTime(show bool) {
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:    show,
		DisableTimestamp: !show,
		TimestampFormat:  "15:04:05",
	})
}

// Debug logs a debug message.
func Debug(format string, args ...interface{}) { base.Debugf(format, args...) }

// Info logs an informational message.
func Info(format string, args ...interface{}) { base.Infof(format, args...) }

// Warn logs a warning message.
func Warn(format string, args ...interface{}) { base.Warnf(format, args...) }

// Error logs an error message.
func Error(format string, args ...interface{}) { base.Errorf(format, args...) }

// Success logs a notable positive outcome at info level with an outcome=success field,
// the closest logrus equivalent to the teacher logger's dedicated green level.
func Success(format string, args ...interface{}) {
	base.WithField("outcome", "success").Infof(format, args...)
}

// Fatal logs a fatal error and exits the process.
func Fatal(format string, args ...interface{}) { base.Fatalf(format, args...) }

// WithConn returns an entry pre-populated with the connection id field, for
// call sites that log repeatedly about one connection (state transitions,
// retransmissions).
func WithConn(id string) *logrus.Entry { return base.WithField("conn", id) }

// Section prints a cosmetic section header; console-only, never used by the
// engine itself.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n╔%s╗\n", border)
	fmt.Printf("║ %-57s ║\n", title)
	fmt.Printf("╚%s╝\n\n", border)
}

// Banner prints the CLI startup banner; console-only, never used by the engine.
func Banner(title, version string) {
	fmt.Printf("\n=== %s (v%s) ===\n\n", title, version)
}
