package log

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

//DefaultLogger returns an implementation of logger for labbus, used by default if other isn't specified
func DefaultLogger() Logger {
	return &defaultLogger{internalLogger: log.New(os.Stdout, "[labbus] ", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile), level: InfoLevel}
}

type defaultLogger struct {
	internalLogger *log.Logger
	level          Level
	fields         Fields
}

func (l defaultLogger) Log(level Level, v ...interface{}) {
	if level == FatalLevel {
		l.internalLogger.Fatal(v...)
		return
	}

	if level == PanicLevel {
		l.internalLogger.Panic(v...)
		return
	}

	if level <= l.level {
		entry := fmt.Sprint(v...)

		if len(l.fields) > 0 {
			entry = fmt.Sprintf("%s %s", entry, formatFields(l.fields))
		}

		if err := l.internalLogger.Output(3, entry); err != nil {
			l.internalLogger.Printf("err logging an entry: %s. %s\n", err, v)
		}
	}
}

func (l defaultLogger) Logf(level Level, template string, args ...interface{}) {
	l.Log(level, fmt.Sprintf(template, args...))
}

func (l *defaultLogger) SetLevel(level Level) {
	l.level = level

	l.internalLogger.SetPrefix(fmt.Sprintf("[labbus] %s ", levelNames[level]))
}

func (l defaultLogger) WithFields(fields Fields) Logger {
	merged := make(Fields, len(l.fields)+len(fields))

	for k, v := range l.fields {
		merged[k] = v
	}

	for k, v := range fields {
		merged[k] = v
	}

	return &defaultLogger{internalLogger: l.internalLogger, level: l.level, fields: merged}
}

func formatFields(fields Fields) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%v", k, fields[k])
	}

	return strings.Join(pairs, " ")
}

var levelNames = map[Level]string{
	PanicLevel: "panic",
	FatalLevel: "fatal",
	ErrorLevel: "error",
	WarnLevel:  "warn",
	InfoLevel:  "info",
	DebugLevel: "debug",
	TraceLevel: "trace",
}
