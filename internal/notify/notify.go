// Package notify reports task outcomes to the developer.
//
// A Notifier is told about successful compiles and recoverable errors.
// The log notifier writes through slog; the desktop notifier raises a
// system notification. Multi fans out to several notifiers.
package notify

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/beeep"

	"github.com/vango-dev/assetpipe/internal/errors"
)

// AppName is the title used for desktop notifications.
const AppName = "assetpipe"

// Notifier receives task outcomes.
type Notifier interface {
	// Success reports a completed task, e.g. "styles compiled".
	Success(message string)

	// Failure reports a recoverable error.
	Failure(task string, err error)
}

// Log writes notifications to a logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// Success implements Notifier.
func (l Log) Success(message string) {
	l.logger().Info(message)
}

// Failure implements Notifier.
func (l Log) Failure(task string, err error) {
	l.logger().Error("task failed", "task", task, "error", errors.Describe(err))
}

// Desktop raises system notifications.
type Desktop struct {
	Logger *slog.Logger

	// notify and alert default to beeep.Notify and beeep.Alert.
	notify func(title, message string) error
	alert  func(title, message string) error
}

// NewDesktop creates a desktop notifier.
func NewDesktop(logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Desktop{
		Logger: logger,
		notify: func(title, message string) error { return beeep.Notify(title, message, "") },
		alert:  func(title, message string) error { return beeep.Alert(title, message, "") },
	}
}

// Success implements Notifier.
func (d *Desktop) Success(message string) {
	if err := d.notify(AppName, message); err != nil {
		d.Logger.Debug("desktop notification failed", "error", err)
	}
}

// Failure implements Notifier.
func (d *Desktop) Failure(task string, err error) {
	if nerr := d.alert(AppName+": "+task, summary(err)); nerr != nil {
		d.Logger.Debug("desktop notification failed", "error", nerr)
	}
}

// summary is the first line of an error, short enough for a notification.
func summary(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	const limit = 200
	if len(msg) > limit {
		cut := limit - 3
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return "Error: " + msg
}

// Multi fans out to several notifiers.
type Multi []Notifier

// Success implements Notifier.
func (m Multi) Success(message string) {
	for _, n := range m {
		n.Success(message)
	}
}

// Failure implements Notifier.
func (m Multi) Failure(task string, err error) {
	for _, n := range m {
		n.Failure(task, err)
	}
}

// Discard drops all notifications.
type Discard struct{}

func (Discard) Success(string) {}
func (Discard) Failure(string, error) {}
