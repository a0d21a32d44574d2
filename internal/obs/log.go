package obs

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	loggerOnce sync.Once
	logger     *logrus.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *logrus.Logger {
	loggerOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "ts",
				logrus.FieldKeyMsg:  "msg",
			},
		})
		logger.SetLevel(parseLevel(os.Getenv("TILLBASE_LOG_LEVEL")))
	})
	return logger
}

func parseLevel(raw string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(strings.ToLower(raw)))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// ConfigAlarm logs a configuration-integrity problem at error level. These are
// data-entry errors in role/group setup, not per-request conditions, so they
// need operator attention rather than retries.
func ConfigAlarm(event string, fields map[string]any) {
	Logger().WithFields(logrus.Fields(fields)).WithField("alarm", "config_integrity").Error(event)
}
