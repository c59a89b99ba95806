// Package logging builds the service logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a JSON logger writing to stdout, plus a size-rotated
// app.log under dir when dir is non-empty. Debug lowers the level.
func New(debug bool, dir string) (*zap.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		fileSink := zapcore.AddSync(&lumberjack.Logger{
			Filename: filepath.Join(dir, "app.log"),
			MaxSize:  100,
			MaxAge:   28,
			Compress: true,
		})
		cores = append(cores, zapcore.NewCore(encoder, fileSink, level))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}
