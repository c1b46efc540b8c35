package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/lumberjack.v3"
)

type Config struct {
	Level      string
	Filename   string // empty disables the file core
	MaxSize    int    // megabytes
	MaxBackups int
	MaxAge     int // days
}

func DefaultConfig(level, filename string) Config {
	return Config{
		Level:      level,
		Filename:   filename,
		MaxSize:    5,
		MaxBackups: 10,
		MaxAge:     14,
	}
}

// New builds a console logger, teed into a rotating JSON file when Filename is set.
func New(config Config) (*zap.Logger, error) {
	level := zap.InfoLevel
	if config.Level != "" {
		parsed, err := zapcore.ParseLevel(config.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
		}
		level = parsed
	}
	logLevel := zap.NewAtomicLevelAt(level)

	developmentCfg := zap.NewDevelopmentEncoderConfig()
	developmentCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(developmentCfg), zapcore.AddSync(os.Stdout), logLevel),
	}

	if config.Filename != "" {
		fileHandler, err := lumberjack.New(
			lumberjack.WithFileName(config.Filename),
			lumberjack.WithMaxBytes(int64(config.MaxSize*1024*1024)),
			lumberjack.WithMaxBackups(config.MaxBackups),
			lumberjack.WithMaxDays(config.MaxAge),
			lumberjack.WithCompress(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create file handler: %w", err)
		}

		productionCfg := zap.NewProductionEncoderConfig()
		productionCfg.TimeKey = "timestamp"
		productionCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(productionCfg), zapcore.AddSync(fileHandler), logLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
