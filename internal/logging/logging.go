// Package logging builds the logrus loggers used across greensched.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

// TimestampFormat is the layout of entry timestamps.
const TimestampFormat = "2006-01-02 15:04:05"

var levelColors = map[logrus.Level]*color.Color{
	logrus.PanicLevel: color.New(color.Bold, color.FgRed),
	logrus.FatalLevel: color.New(color.Bold, color.FgRed),
	logrus.ErrorLevel: color.New(color.FgRed),
	logrus.WarnLevel:  color.New(color.FgYellow),
	logrus.InfoLevel:  color.New(color.FgCyan),
	logrus.DebugLevel: color.New(color.Faint),
	logrus.TraceLevel: color.New(color.Faint),
}

// Formatter prints "[LEVEL]: <time> <message> k=v, k=v" with the level
// coloured. Fields are sorted by key.
type Formatter struct {
	TimestampFormat string
}

// Format implements logrus.Formatter.
func (f Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	level := fmt.Sprintf("[%s]:", strings.ToUpper(entry.Level.String()))
	if c, ok := levelColors[entry.Level]; ok {
		level = c.Sprint(level)
	}
	b.WriteString(strings.Join([]string{level, entry.Time.Format(f.TimestampFormat), entry.Message}, " "))

	keys := maps.Keys(entry.Data)
	sort.Strings(keys)
	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("%s=%v", k, entry.Data[k]))
	}
	if len(fields) > 0 {
		b.WriteString("  ")
		b.WriteString(strings.Join(fields, ", "))
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// New returns a logger writing to w at the named level ("debug", "info", ...).
func New(level string, w io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)
	l.SetFormatter(Formatter{TimestampFormat: TimestampFormat})
	return l, nil
}

// Discard returns a logger that drops everything.
func Discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// OrDiscard returns log, or a discarding logger when log is nil.
func OrDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return Discard()
	}
	return log
}
