package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New creates the process logger. Output is JSON on stdout; the level comes
// from the LOG_LEVEL environment variable and defaults to info.
func New() *logrus.Logger {
	log := logrus.New()

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "time",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "msg",
		},
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))

	return log
}

// SetLevel applies a configured level string, keeping the current level for
// unknown values.
func SetLevel(log *logrus.Logger, level string) {
	switch level {
	case "trace", "debug", "info", "warn", "error":
		log.SetLevel(parseLevel(level))
	}
}

// SetFormat switches between json (default) and text output.
func SetFormat(log *logrus.Logger, format string) {
	if format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
