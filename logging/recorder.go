package logging

import (
	"fmt"
	"strings"
	"sync"
)

// Recorder is a Logger that keeps formatted messages in memory, for tests and
// for the operator shell's log history.
type Recorder struct {
	mu       sync.Mutex
	messages []Entry
}

type Entry struct {
	Level   string
	Message string
}

func NewRecorder() *Recorder {
	return new(Recorder)
}

func (r *Recorder) add(level, format string, args []interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Entry{level, fmt.Sprintf(format, args...)})
}

func (r *Recorder) Debugf(format string, args ...interface{}) { r.add("debug", format, args) }
func (r *Recorder) Infof(format string, args ...interface{})  { r.add("info", format, args) }
func (r *Recorder) Warnf(format string, args ...interface{})  { r.add("warn", format, args) }
func (r *Recorder) Errorf(format string, args ...interface{}) { r.add("error", format, args) }
func (r *Recorder) With(string, interface{}) Logger           { return r }

// Entries returns a copy of everything logged so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.messages...)
}

// Messages returns the messages logged at level.
func (r *Recorder) Messages(level string) (out []string) {
	for _, e := range r.Entries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return
}

// Contains reports whether any message at level contains substr.
func (r *Recorder) Contains(level, substr string) bool {
	for _, m := range r.Messages(level) {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()
}
