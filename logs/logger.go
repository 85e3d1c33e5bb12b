package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"riskfortress/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileHook is a logrus hook that writes entries to a rotated file.
type FileHook struct {
	formatter logrus.Formatter
	writer    io.Writer
}

func newFileHook(writer io.Writer, formatter logrus.Formatter) *FileHook {
	return &FileHook{
		writer:    writer,
		formatter: formatter,
	}
}

// Levels returns all log levels, so the hook fires for every entry.
func (h *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire formats and writes the log entry to the file.
func (h *FileHook) Fire(entry *logrus.Entry) error {
	formattedBytes, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(formattedBytes)
	return err
}

var (
	log              *logrus.Logger
	fileHookInstance *FileHook // held so Close can release the underlying writer
)

// Init initializes the logging system: colored console output plus a rotated
// plain-text file handled by lumberjack.
func Init(cfg *config.LogConfig, logFilePath string) error {
	log = logrus.New()
	parsedLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		parsedLevel = logrus.InfoLevel
	}
	log.SetLevel(parsedLevel)

	log.SetFormatter(&logrus.TextFormatter{
		ForceColors:            true,
		FullTimestamp:          true,
		TimestampFormat:        "2006-01-02 15:04:05",
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
	log.SetOutput(os.Stdout)

	// Silence the global logrus instance so stray logrus.Info calls from
	// third-party code produce no output.
	logrus.SetOutput(io.Discard)
	logrus.StandardLogger().Hooks = make(logrus.LevelHooks)

	logDir := filepath.Dir(logFilePath)
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	lumberjackLogger := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	fileFormatter := &logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}

	fileHookInstance = newFileHook(lumberjackLogger, fileFormatter)
	log.AddHook(fileHookInstance)

	Infof("Logging system initialized.")
	return nil
}

// InitForTesting points the package logger at a bare console logger so
// package tests can run without a config file.
func InitForTesting() {
	log = logrus.New()
	log.SetLevel(logrus.WarnLevel)
	log.SetOutput(os.Stderr)
}

// Close closes the file hook's underlying writer.
func Close() {
	if fileHookInstance != nil {
		if closer, ok := fileHookInstance.writer.(io.Closer); ok {
			closer.Close()
		}
	}
	Info("Logging system closed.")
}

func ensure() *logrus.Logger {
	if log == nil {
		InitForTesting()
	}
	return log
}

// Wrapper functions to expose the logger.
func Debug(args ...interface{})                 { ensure().Debug(args...) }
func Debugf(format string, args ...interface{}) { ensure().Debugf(format, args...) }
func Info(args ...interface{})                  { ensure().Info(args...) }
func Infof(format string, args ...interface{})  { ensure().Infof(format, args...) }
func Warn(args ...interface{})                  { ensure().Warn(args...) }
func Warnf(format string, args ...interface{})  { ensure().Warnf(format, args...) }
func Error(args ...interface{})                 { ensure().Error(args...) }
func Errorf(format string, args ...interface{}) { ensure().Errorf(format, args...) }
func Fatal(args ...interface{})                 { ensure().Fatal(args...) }
func Fatalf(format string, args ...interface{}) { ensure().Fatalf(format, args...) }
