// Package logger - process-wide zap logger.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var once sync.Once
var core zapcore.Core

// GetZapLogger returns an instance of zap logger. Debug and info entries go to
// stdout, warnings and errors to stderr. The core is built on the first call;
// later calls reuse it whatever their debug flag.
func GetZapLogger(debug bool) *zap.Logger {
	once.Do(func() {
		core = newCore(debug, zapcore.Lock(os.Stdout), zapcore.Lock(os.Stderr))
	})
	return zap.New(core)
}

func newCore(debug bool, stdout, stderr zapcore.WriteSyncer) zapcore.Core {
	// debug and info level enabler
	debugInfoLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level == zapcore.DebugLevel || level == zapcore.InfoLevel
	})

	// info level enabler
	infoLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level == zapcore.InfoLevel
	})

	// warn, error and fatal level enabler
	warnErrorFatalLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= zapcore.WarnLevel
	})

	encoderConfig := zap.NewProductionEncoderConfig()
	lowLevel := zapcore.LevelEnabler(infoLevel)
	if debug {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		lowLevel = debugInfoLevel
	}

	return zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), stdout, lowLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), stderr, warnErrorFatalLevel),
	)
}
