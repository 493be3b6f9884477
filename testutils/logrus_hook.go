// Package testutils holds helpers shared by tests across the module.
package testutils

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// SimpleLogrusHook implements logrus.Hook and caches every fired
// entry, letting tests assert on emitted log lines.
type SimpleLogrusHook struct {
	HookedLevels []logrus.Level

	mu    sync.Mutex
	cache []logrus.Entry
}

var _ logrus.Hook = &SimpleLogrusHook{}

// NewSimpleLogrusHook returns a hook that caches entries of every
// level.
func NewSimpleLogrusHook() *SimpleLogrusHook {
	return &SimpleLogrusHook{HookedLevels: logrus.AllLevels}
}

// Levels is part of the logrus.Hook interface.
func (h *SimpleLogrusHook) Levels() []logrus.Level {
	return h.HookedLevels
}

// Fire is part of the logrus.Hook interface.
func (h *SimpleLogrusHook) Fire(e *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache = append(h.cache, *e)
	return nil
}

// Drain returns the cached entries and empties the cache.
func (h *SimpleLogrusHook) Drain() []logrus.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	res := h.cache
	h.cache = []logrus.Entry{}
	return res
}

// Lines returns a copy of the cached entries without clearing them.
func (h *SimpleLogrusHook) Lines() []logrus.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]logrus.Entry(nil), h.cache...)
}

// LogContains reports whether any entry at the given level contains
// substr in its message.
func LogContains(entries []logrus.Entry, level logrus.Level, substr string) bool {
	for _, e := range entries {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
