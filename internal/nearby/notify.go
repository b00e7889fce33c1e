package nearby

import (
	"fmt"

	"github.com/1ureka/nearby/internal/util"
)

// Level is the severity of a notification line.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Notifier is the status sink of the presentation layer. Each call is one
// human-readable line.
type Notifier interface {
	Notify(level Level, msg string)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(level Level, msg string)

func (f NotifierFunc) Notify(level Level, msg string) { f(level, msg) }

// LogNotifier writes notification lines to the process logger.
type LogNotifier struct{}

func (LogNotifier) Notify(level Level, msg string) {
	switch level {
	case LevelDebug:
		util.LogDebug("%s", msg)
	case LevelSuccess:
		util.LogSuccess("%s", msg)
	case LevelWarning:
		util.LogWarning("%s", msg)
	case LevelError:
		util.LogError("%s", msg)
	default:
		util.LogInfo("%s", msg)
	}
}

// notifyf formats and emits one line.
func notifyf(n Notifier, level Level, format string, args ...interface{}) {
	n.Notify(level, fmt.Sprintf(format, args...))
}
