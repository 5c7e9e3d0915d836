package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// base is the process-wide logger every component entry derives from.
var base = newBase(os.Stdout)

func newBase(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return l
}

// Base returns the process-wide logger.
func Base() *logrus.Logger {
	return base
}

// SetOutput redirects all component loggers.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// SetLevel sets the global log level
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// GetLevel returns the current log level
func GetLevel() logrus.Level {
	return base.GetLevel()
}

// ParseLevel converts a flag value to a logrus level. It accepts the usual
// logrus names plus "warning"/"warn" and is case-insensitive.
func ParseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	}
	return logrus.InfoLevel, fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, or error)", level)
}

// For returns an entry tagged with the component prefix.
func For(prefix string) *logrus.Entry {
	return base.WithField("component", prefix)
}

// ToJSON converts any value to a pretty-printed JSON string for logging.
// Protobuf messages go through protojson; plain maps are lifted into a
// structpb.Struct so they print with the same layout.
func ToJSON(v interface{}) string {
	marshaler := protojson.MarshalOptions{
		Multiline:       true,
		Indent:          "  ",
		EmitUnpopulated: false,
	}

	switch msg := v.(type) {
	case proto.Message:
		jsonBytes, err := marshaler.Marshal(msg)
		if err != nil {
			return fmt.Sprintf("<error: %v>", err)
		}
		return string(jsonBytes)
	case map[string]interface{}:
		s, err := structpb.NewStruct(msg)
		if err == nil {
			if jsonBytes, err := marshaler.Marshal(s); err == nil {
				return string(jsonBytes)
			}
		}
	}

	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return string(jsonBytes)
}

// TraceJSON logs a labelled JSON dump at trace level
func TraceJSON(log *logrus.Entry, label string, v interface{}) {
	if !log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		return
	}
	log.Tracef("%s:\n%s", label, ToJSON(v))
}

// DebugJSON logs a labelled JSON dump at debug level
func DebugJSON(log *logrus.Entry, label string, v interface{}) {
	if !log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	log.Debugf("%s:\n%s", label, ToJSON(v))
}

// Trace logs with a prefix at trace level (wire protocol details)
func Trace(prefix, format string, args ...interface{}) {
	For(prefix).Tracef(format, args...)
}

// Debug logs with a prefix at debug level
func Debug(prefix, format string, args ...interface{}) {
	For(prefix).Debugf(format, args...)
}

// Info logs with a prefix at info level (connections, lifecycle)
func Info(prefix, format string, args ...interface{}) {
	For(prefix).Infof(format, args...)
}

func Warn(prefix, format string, args ...interface{}) {
	For(prefix).Warnf(format, args...)
}

func Error(prefix, format string, args ...interface{}) {
	For(prefix).Errorf(format, args...)
}
