package utils

import (
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

func init() {
	logger.SetFormatter(&logrus.JSONFormatter{})
}

// LogError records a failure with structured context and forwards it to
// Sentry when a DSN is configured. Used for swallowed best-effort
// failures that must still be visible.
func LogError(errorType string, err error, context map[string]interface{}) {
	entry := logger.WithField("type", errorType)
	if context != nil {
		entry = entry.WithFields(logrus.Fields(context))
	}
	entry.WithError(err).Error("operation failed")

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_type", errorType)
		for k, v := range context {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// LogEvent records a structured application event.
func LogEvent(eventType string, data map[string]interface{}) {
	logger.WithField("type", eventType).WithFields(logrus.Fields(data)).Info("event")
}
