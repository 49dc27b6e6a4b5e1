// Package logger provides a context-carried structured logger.
package logger

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type loggerCtxKey struct{}

var defaultLogger = logrus.New()
var defaultEntry = logrus.NewEntry(defaultLogger)

// NewContextWithFields returns a new context carrying a log entry derived
// from the logger already in ctx (or the default logger), with fields added.
func NewContextWithFields(parent context.Context, fields logrus.Fields) context.Context {
	return context.WithValue(parent, loggerCtxKey{}, For(parent).WithFields(fields))
}

// SetOptions mutates the default logger, e.g. to set level or formatter.
func SetOptions(optionsFunc func(logger *logrus.Logger)) {
	optionsFunc(defaultLogger)
}

// InitDefaults configures the default logger the way production deploys of
// the recommender expect: JSON in anything but local, debug level outside
// production.
func InitDefaults() {
	SetOptions(func(l *logrus.Logger) {
		l.SetReportCaller(true)
		if viper.GetString("APP_ENV") != "production" {
			l.SetLevel(logrus.DebugLevel)
		}
		if viper.GetString("APP_ENV") == "local" {
			l.SetFormatter(&logrus.TextFormatter{DisableQuote: true})
		} else {
			l.SetFormatter(&GCPFormatter{})
		}
	})
}

// GCPFormatter maps logrus levels onto the severity/time fields Google Cloud
// Logging expects.
type GCPFormatter struct {
	logrus.JSONFormatter
}

var levelToGCPSeverity = map[logrus.Level]string{
	logrus.DebugLevel: "DEBUG",
	logrus.InfoLevel:  "INFO",
	logrus.WarnLevel:  "WARNING",
	logrus.ErrorLevel: "ERROR",
	logrus.FatalLevel: "CRITICAL",
	logrus.PanicLevel: "ALERT",
}

func (f *GCPFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	entry.Data["severity"] = levelToGCPSeverity[entry.Level]
	entry.Data["time"] = entry.Time.Format(time.RFC3339Nano)
	return f.JSONFormatter.Format(entry)
}

// For returns the log entry carried by ctx, or the default entry if none is
// attached.
func For(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return defaultEntry
	}
	if v := ctx.Value(loggerCtxKey{}); v != nil {
		if entry, ok := v.(*logrus.Entry); ok {
			return entry
		}
	}
	return defaultEntry.WithContext(ctx)
}

// RuleInvocation logs the standard per-rule-invocation debug line required
// by the observability surface: {name, cust_no?, input_size, output_size,
// duration_ms}.
func RuleInvocation(ctx context.Context, name string, custNo string, inputSize, outputSize int, started time.Time) {
	fields := logrus.Fields{
		"rule":        name,
		"input_size":  inputSize,
		"output_size": outputSize,
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if custNo != "" {
		fields["cust_no"] = custNo
	}
	For(ctx).WithFields(fields).Debug("rule applied")
}
