package utils

import (
	"github.com/sirupsen/logrus"
)

// LogEvent logs a structured application event.
func LogEvent(eventType string, data map[string]interface{}) {
	logrus.WithFields(logrus.Fields(data)).Info(eventType)
}

// Truncate shortens s to at most limit characters for display.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
