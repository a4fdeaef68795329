/* Copyright (c) 2016 Jason Ish
 * All rights reserved.
 *
 * Redistribution and use in source and binary forms, with or without
 * modification, are permitted provided that the following conditions
 * are met:
 *
 * 1. Redistributions of source code must retain the above copyright
 *    notice, this list of conditions and the following disclaimer.
 * 2. Redistributions in binary form must reproduce the above copyright
 *    notice, this list of conditions and the following disclaimer in the
 *    documentation and/or other materials provided with the distribution.
 *
 * THIS SOFTWARE IS PROVIDED ``AS IS'' AND ANY EXPRESS OR IMPLIED
 * WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
 * MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
 * DISCLAIMED. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY DIRECT,
 * INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES
 * (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
 * SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION)
 * HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT,
 * STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING
 * IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
 * POSSIBILITY OF SUCH DAMAGE.
 */

package log

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

type LogLevel int

const (
	ERROR LogLevel = iota
	WARNING
	INFO
	DEBUG
)

var levelMap = map[LogLevel]logrus.Level{
	ERROR:   logrus.ErrorLevel,
	WARNING: logrus.WarnLevel,
	INFO:    logrus.InfoLevel,
	DEBUG:   logrus.DebugLevel,
}

const (
	GREEN   = "\x1b[32m"
	BLUE    = "\x1b[34m"
	REDB    = "\x1b[1;31m"
	YELLOW  = "\x1b[33m"
	RED     = "\x1b[31m"
	YELLOWB = "\x1b[1;33m"
	RESET   = "\x1b[0m"
)

// Fields are structured key/value pairs added to a log line.
type Fields = logrus.Fields

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Level = logrus.InfoLevel
	l.Formatter = &Formatter{
		Colors: isatty.IsTerminal(os.Stderr.Fd()) ||
			isatty.IsCygwinTerminal(os.Stderr.Fd()),
	}
	return l
}

// Logger returns the underlying logrus logger.
func Logger() *logrus.Logger {
	return logger
}

func SetLevel(level LogLevel) {
	logger.SetLevel(levelMap[level])
}

// ParseLevel converts a level name such as "debug" or "warning".
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(name) {
	case "error":
		return ERROR, nil
	case "warn", "warning":
		return WARNING, nil
	case "info":
		return INFO, nil
	case "debug":
		return DEBUG, nil
	}
	return INFO, fmt.Errorf("unknown log level: %s", name)
}

func IsDebug() bool {
	return logger.IsLevelEnabled(logrus.DebugLevel)
}

// Formatter renders entries as "timestamp (file:line) <Level> -- message",
// followed by any fields as key=value.
type Formatter struct {
	Colors bool
}

func (f *Formatter) color(color string, v interface{}) string {
	if !f.Colors {
		return fmt.Sprint(v)
	}
	return fmt.Sprintf("%s%v%s", color, v, RESET)
}

func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer

	b.WriteString(f.color(GREEN, entry.Time.Format("2006-01-02 15:04:05")))
	if caller, ok := entry.Data[callerKey].(runtime.Frame); ok {
		fmt.Fprintf(&b, " (%s:%s)",
			f.color(BLUE, filepath.Base(caller.File)), f.color(GREEN, caller.Line))
	}

	message := entry.Message
	switch entry.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		b.WriteString(" <" + f.color(RED, "Error") + ">")
		message = f.color(RED, message)
	case logrus.WarnLevel:
		b.WriteString(" <" + f.color(YELLOWB, "Warning") + ">")
	case logrus.InfoLevel:
		b.WriteString(" <" + f.color(BLUE, "Info") + ">")
	default:
		b.WriteString(" <" + f.color(YELLOW, "Debug") + ">")
	}
	b.WriteString(" -- ")
	b.WriteString(message)

	keys := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		if key != callerKey {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", f.color(BLUE, key), entry.Data[key])
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

const callerKey = "caller"

// Entry is a log line under construction with structured fields.
type Entry struct {
	entry *logrus.Entry
}

func WithFields(fields Fields) *Entry {
	return &Entry{entry: logger.WithFields(fields)}
}

func WithError(err error) *Entry {
	return &Entry{entry: logger.WithError(err)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{entry: e.entry.WithFields(fields)}
}

func (e *Entry) Error(format string, v ...interface{}) {
	doLog(e.entry, 2, logrus.ErrorLevel, format, v...)
}

func (e *Entry) Warning(format string, v ...interface{}) {
	doLog(e.entry, 2, logrus.WarnLevel, format, v...)
}

func (e *Entry) Info(format string, v ...interface{}) {
	doLog(e.entry, 2, logrus.InfoLevel, format, v...)
}

func (e *Entry) Debug(format string, v ...interface{}) {
	doLog(e.entry, 2, logrus.DebugLevel, format, v...)
}

func doLog(entry *logrus.Entry, calldepth int, level logrus.Level, format string, v ...interface{}) {
	if !logger.IsLevelEnabled(level) {
		return
	}
	if entry == nil {
		entry = logrus.NewEntry(logger)
	}
	if _, filename, line, ok := runtime.Caller(calldepth); ok {
		entry = entry.WithField(callerKey, runtime.Frame{File: filename, Line: line})
	}
	entry.Logf(level, format, v...)
}

func Error(format string, v ...interface{}) {
	doLog(nil, 2, logrus.ErrorLevel, format, v...)
}

func Warning(format string, v ...interface{}) {
	doLog(nil, 2, logrus.WarnLevel, format, v...)
}

func Info(format string, v ...interface{}) {
	doLog(nil, 2, logrus.InfoLevel, format, v...)
}

func Debug(format string, v ...interface{}) {
	doLog(nil, 2, logrus.DebugLevel, format, v...)
}

// Promote to info...
func Println(v ...interface{}) {
	doLog(nil, 2, logrus.InfoLevel, "%s", fmt.Sprint(v...))
}

// To be compatible with standard logging, promote to info.
func Printf(format string, v ...interface{}) {
	doLog(nil, 2, logrus.InfoLevel, format, v...)
}

func Fatal(v ...interface{}) {
	doLog(nil, 2, logrus.ErrorLevel, "%s", fmt.Sprint(v...))
	os.Exit(1)
}
