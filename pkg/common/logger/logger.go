package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is usable before Init so packages can log from tests.
var Log = logrus.New()

// Init switches the process logger to JSON output at the given level.
// Unknown levels fall back to info.
func Init(level string) {
	Log = logrus.New()
	Log.SetOutput(os.Stdout)
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	if level == "" {
		level = "info"
	}
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	Log.SetLevel(logLevel)
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

// ForPatient tags an entry with the patient and, when known, the region.
func ForPatient(patientID, regionID string) *logrus.Entry {
	fields := logrus.Fields{"patient_id": patientID}
	if regionID != "" {
		fields["region"] = regionID
	}
	return Log.WithFields(fields)
}
