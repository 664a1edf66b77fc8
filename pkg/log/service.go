package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	config "github.com/mwantia/opsreg/internal/config/server"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerService interface {
	Debug(msg string, args ...any)

	Info(msg string, args ...any)

	Warn(msg string, args ...any)

	Error(msg string, args ...any)

	Fatal(msg string, args ...any)

	Named(name string) LoggerService

	// Writer exposes the shared sink so other libraries (gorm) log alongside.
	Writer() io.Writer
}

type LoggerServiceImpl struct {
	cfg    config.LogServerConfig
	name   string
	level  LogLevel
	mu     *sync.Mutex
	writer io.Writer
}

type logEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`
}

func NewLoggerService(name string, cfg config.LogServerConfig) LoggerService {
	impl := &LoggerServiceImpl{
		cfg:   cfg,
		name:  name,
		level: Parse(cfg.Level),
		mu:    &sync.Mutex{},
	}

	impl.writer = openWriter(cfg)
	return impl
}

// NewWriterLogger logs into w only; used by tests and the CLI.
func NewWriterLogger(name string, level string, w io.Writer) LoggerService {
	return &LoggerServiceImpl{
		cfg: config.LogServerConfig{
			Level:      level,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		},
		name:   name,
		level:  Parse(level),
		mu:     &sync.Mutex{},
		writer: w,
	}
}

func openWriter(cfg config.LogServerConfig) io.Writer {
	var writers []io.Writer

	if !cfg.NoTerminal {
		writers = append(writers, os.Stdout)
	}

	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.Rotation.MaxSize,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAge:     cfg.Rotation.MaxAge,
			Compress:   cfg.Rotation.Compress,
		})
	}

	if len(writers) == 0 {
		return io.Discard
	}
	return io.MultiWriter(writers...)
}

func (impl *LoggerServiceImpl) log(level LogLevel, msg string, args ...any) {
	if level < impl.level {
		return
	}

	format := impl.cfg.TimeFormat
	if format == "" {
		format = time.RFC3339
	}
	timestamp := time.Now().Format(format)

	message := msg
	if len(args) > 0 {
		message = fmt.Sprintf(msg, args...)
	}

	impl.mu.Lock()
	defer impl.mu.Unlock()

	switch {
	case impl.cfg.JSON:
		data, _ := json.Marshal(logEntry{
			Timestamp: timestamp,
			Level:     level.String(),
			Component: impl.name,
			Message:   message,
		})
		fmt.Fprintf(impl.writer, "%s\n", data)
	default:
		prefix := fmt.Sprintf("[%s] %-5s", timestamp, level)
		if impl.name != "" {
			prefix = fmt.Sprintf("%s [%s]", prefix, impl.name)
		}

		if !impl.cfg.NoTerminal && !impl.cfg.NoColor {
			fmt.Fprintf(impl.writer, "%s%s %s\033[0m\n", Color(level), prefix, message)
		} else {
			fmt.Fprintf(impl.writer, "%s %s\n", prefix, message)
		}
	}

	if level == Fatal {
		os.Exit(1)
	}
}

func (impl *LoggerServiceImpl) Debug(msg string, args ...any) {
	impl.log(Debug, msg, args...)
}

func (impl *LoggerServiceImpl) Info(msg string, args ...any) {
	impl.log(Info, msg, args...)
}

func (impl *LoggerServiceImpl) Warn(msg string, args ...any) {
	impl.log(Warn, msg, args...)
}

func (impl *LoggerServiceImpl) Error(msg string, args ...any) {
	impl.log(Error, msg, args...)
}

func (impl *LoggerServiceImpl) Fatal(msg string, args ...any) {
	impl.log(Fatal, msg, args...)
}

func (impl *LoggerServiceImpl) Named(name string) LoggerService {
	child := name
	if impl.name != "" {
		child = fmt.Sprintf("%s/%s", impl.name, name)
	}

	return &LoggerServiceImpl{
		cfg:    impl.cfg,
		name:   child,
		level:  impl.level,
		mu:     impl.mu, // named loggers share the sink and its lock
		writer: impl.writer,
	}
}

func (impl *LoggerServiceImpl) Writer() io.Writer {
	return impl.writer
}
