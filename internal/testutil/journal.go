package testutil

import (
	"fmt"
	"sync"
)

// Journal is an ordered log shared by the fakes, used to assert the order
// of writes and dispatches across components.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *Journal) Add(format string, args ...any) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

// Entries returns a copy of the log.
func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// Index returns the position of the first entry equal to s, or -1.
func (j *Journal) Index(s string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, e := range j.entries {
		if e == s {
			return i
		}
	}
	return -1
}
