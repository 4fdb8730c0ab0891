package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultTimestampFormat = "2006-01-02 15:04:05"

// Init initializes the logger based on configuration. format is "text"
// (bracketed single-line records) or "json".
func Init(level, output, format string) (*logrus.Logger, error) {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	logger.SetReportCaller(true)

	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: defaultTimestampFormat})
	default:
		logger.SetFormatter(&BracketFormatter{TimestampFormat: defaultTimestampFormat})
	}

	writers := []io.Writer{os.Stdout}

	if output != "" && output != "stdout" {
		dir := filepath.Dir(output)
		if dir != "." && dir != ".." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}

		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		writers = append(writers, file)
	}

	logger.SetOutput(io.MultiWriter(writers...))

	return logger, nil
}

// BracketFormatter renders "[time] [LEVEL] [file:line] message k=v ...".
type BracketFormatter struct {
	TimestampFormat string
}

func (f *BracketFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer

	tsFormat := f.TimestampFormat
	if tsFormat == "" {
		tsFormat = defaultTimestampFormat
	}
	fmt.Fprintf(&b, "[%s] [%s]", entry.Time.Format(tsFormat), strings.ToUpper(entry.Level.String()))

	if entry.HasCaller() {
		fmt.Fprintf(&b, " [%s:%d]", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}

	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(entry.Data[k])
		if strings.ContainsAny(v, " \t\n") {
			v = fmt.Sprintf("%q", v)
		}
		fmt.Fprintf(&b, " %s=%s", k, v)
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}
