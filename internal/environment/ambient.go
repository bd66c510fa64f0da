package environment

import (
	"os"
	"strings"
	"sync"
)

// Snapshot is a read-only view of process environment variables.
type Snapshot map[string]string

func (s Snapshot) Lookup(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

// Environ is the boundary through which composed variables are applied.
type Environ interface {
	Snapshot() Snapshot
	Setenv(key, value string) error
}

// ProcessEnviron reads and mutates the real process environment.
type ProcessEnviron struct{}

func (ProcessEnviron) Snapshot() Snapshot {
	return parseEnviron(os.Environ())
}

func (ProcessEnviron) Setenv(key, value string) error {
	return os.Setenv(key, value)
}

// MapEnviron is an in-memory environment. Concurrent tasks in one process each
// get their own so they never observe each other's variables.
type MapEnviron struct {
	mu   sync.Mutex
	vars map[string]string
}

func NewMapEnviron(seed map[string]string) *MapEnviron {
	vars := make(map[string]string, len(seed))
	for k, v := range seed {
		vars[k] = v
	}
	return &MapEnviron{vars: vars}
}

func (m *MapEnviron) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(Snapshot, len(m.vars))
	for k, v := range m.vars {
		out[k] = v
	}
	return out
}

func (m *MapEnviron) Setenv(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vars[key] = value
	return nil
}

func parseEnviron(kvs []string) Snapshot {
	out := make(Snapshot, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
