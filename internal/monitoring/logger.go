// Package monitoring holds the diagnostic logger and run metrics shared by the
// analysis packages.
package monitoring

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// NewZapLogger builds the console logger used by the glue binary. Verbose
// lowers the level to debug.
func NewZapLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		cfg.Development = false
	}
	return cfg.Build()
}

// UseZap routes Logf through l. The returned function restores the previous
// logger and flushes l.
func UseZap(l *zap.Logger) (restore func()) {
	prev := Logf
	sugar := l.Sugar()
	Logf = sugar.Infof
	return func() {
		_ = l.Sync()
		Logf = prev
	}
}
