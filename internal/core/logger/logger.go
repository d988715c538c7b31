package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Field = zap.Field

type Logger interface {
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
}

func StringField(key, value string) Field { return zap.String(key, value) }
func Int64Field(key string, value int64) Field { return zap.Int64(key, value) }
func IntField(key string, value int) Field { return zap.Int(key, value) }
func BoolField(key string, value bool) Field { return zap.Bool(key, value) }
func AnyField(key string, value any) Field { return zap.Any(key, value) }
func DurationField(key string, d time.Duration) Field { return zap.Duration(key, d) }

func ErrorField(key string, err error) Field {
	return zap.NamedError(key, err)
}

type Options struct {
	Dir     string // directory for info.log and error.log
	Console bool   // also write everything to stdout
	Debug   bool
}

// NewLogger writes info-and-below to info.log and warn-and-above to error.log.
func NewLogger(opts Options) (*zap.Logger, func(), error) {
	if opts.Dir == "" {
		opts.Dir = "logs"
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}

	infoFile, err := os.OpenFile(filepath.Join(opts.Dir, "info.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, nil, fmt.Errorf("open info log file: %w", err)
	}

	errorFile, err := os.OpenFile(filepath.Join(opts.Dir, "error.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		infoFile.Close()
		return nil, nil, fmt.Errorf("open error log file: %w", err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	minLevel := zapcore.InfoLevel
	if opts.Debug {
		minLevel = zapcore.DebugLevel
	}

	infoCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(infoFile),
		zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= minLevel && lvl <= zapcore.InfoLevel
		}),
	)

	errorCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(errorFile),
		zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= zapcore.WarnLevel
		}),
	)

	cores := []zapcore.Core{infoCore, errorCore}
	if opts.Console {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.Lock(os.Stdout),
			minLevel,
		))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())

	cleanup := func() {
		_ = logger.Sync()
		infoFile.Close()
		errorFile.Close()
	}

	return logger, cleanup, nil
}
