package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// wrapperPackages are skipped when resolving the call site of an entry.
var wrapperPackages = []string{
	"github.com/sirupsen/logrus.",
	"booksync/logger.",
}

// callerHook points entry.Caller at the first frame outside logrus and this
// package, so component logs report the session or transport line.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	if frame, ok := callSite(5); ok {
		entry.Caller = &frame
	}
	return nil
}

func callSite(skip int) (runtime.Frame, bool) {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !isWrapper(frame.Function) {
			return frame, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

func isWrapper(fn string) bool {
	for _, prefix := range wrapperPackages {
		if strings.Contains(fn, prefix) {
			return true
		}
	}
	return false
}
