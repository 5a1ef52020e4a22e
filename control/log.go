// control/log.go
// Author: momentics <momentics@gmail.com>
//
// Tagged logrus loggers for reactor components.

package control

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// NewLogger returns an entry whose messages are prefixed with "[tag]: ".
func NewLogger(base *logrus.Logger, tag string) *logrus.Entry {
	if base == nil {
		base = logrus.StandardLogger()
	}
	ensureTagHook(base)
	return logrus.NewEntry(base).WithField("tag", tag)
}

// ParseLevel maps the ABI log level (0 panic .. 6 trace) onto logrus.
// Out-of-range values fall back to info.
func ParseLevel(level int) logrus.Level {
	if level < int(logrus.PanicLevel) || level > int(logrus.TraceLevel) {
		return logrus.InfoLevel
	}
	return logrus.Level(level)
}

var hookMu sync.Mutex

func ensureTagHook(l *logrus.Logger) {
	hookMu.Lock()
	defer hookMu.Unlock()
	for _, h := range l.Hooks[logrus.InfoLevel] {
		if _, ok := h.(*TaggedHook); ok {
			return
		}
	}
	l.AddHook(new(TaggedHook))
}

// TaggedHook moves the "tag" field into the message.
type TaggedHook struct{}

func (h *TaggedHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *TaggedHook) Fire(entry *logrus.Entry) error {
	if tagObj, loaded := entry.Data["tag"]; loaded {
		tag, _ := tagObj.(string)
		delete(entry.Data, "tag")
		entry.Message = strings.ReplaceAll(entry.Message, tag+": ", "")
		entry.Message = "[" + tag + "]: " + entry.Message
	}
	return nil
}
