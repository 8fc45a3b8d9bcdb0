package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kidoz/storage-wiper-sub000/internal/config"
)

// Enterprise логгер с аудитом на базе zap
type EnterpriseLogger struct {
	sugar   *zap.SugaredLogger
	rotator *lumberjack.Logger
	verbose bool
}

func NewEnterpriseLogger(cfg *config.Config, verbose bool) (*EnterpriseLogger, error) {
	l := &EnterpriseLogger{verbose: verbose}

	writers := []io.Writer{os.Stdout}

	// Автоматическое создание директории для логов
	if cfg.Logging.File != "" {
		logDir := filepath.Dir(cfg.Logging.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			// Если не можем создать директорию, используем только stdout
			fmt.Printf("[WARN] не удалось создать директорию логов %s: %v\n", logDir, err)
		} else {
			l.rotator = &lumberjack.Logger{
				Filename:   cfg.Logging.File,
				MaxSize:    cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxFiles,
				Compress:   false,
			}
			writers = append(writers, l.rotator)
		}
	}

	l.sugar = newZapLogger("storage-wiper", parseLevel(cfg.Logging.Level), writers...)
	return l, nil
}

// NewTestLogger возвращает логгер для тестов (только stderr, уровень WARN)
func NewTestLogger() *EnterpriseLogger {
	return &EnterpriseLogger{
		sugar: newZapLogger("test", zapcore.WarnLevel, os.Stderr),
	}
}

func newZapLogger(name string, level zapcore.Level, writers ...io.Writer) *zap.SugaredLogger {
	cfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		MessageKey:    "msg",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel: func(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(fmt.Sprintf("%-7s", "["+lvl.CapitalString()+"]"))
		},
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			if name != "" {
				enc.AppendString("[" + name + "]")
			}
			enc.AppendString("[" + t.Format("2006-01-02 15:04:05.000") + "]")
		},
		EncodeDuration:   zapcore.SecondsDurationEncoder,
		ConsoleSeparator: " ",
	}

	var cores []zapcore.Core
	for _, w := range writers {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(w), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel)).Sugar()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "DEBUG":
		return zapcore.DebugLevel
	case "INFO":
		return zapcore.InfoLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Log пишет запись аудита в формате level/message/key-value пар
func (l *EnterpriseLogger) Log(level, message string, fields ...interface{}) {
	switch level {
	case "DEBUG":
		l.sugar.Debugw(message, fields...)
	case "INFO":
		l.sugar.Infow(message, fields...)
	case "WARN":
		l.sugar.Warnw(message, fields...)
	case "ERROR":
		l.sugar.Errorw(message, fields...)
	case "FATAL":
		l.sugar.Fatalw(message, fields...)
	default:
		l.sugar.Infow(message, fields...)
	}
}

func (l *EnterpriseLogger) Close() error {
	_ = l.sugar.Sync()
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}
