package engine

import (
	"sync"
)

// AbortSignal is the process-wide cancellation switch. Setting it stops
// every in-flight run at its next safe checkpoint; individual runs can
// also be aborted by operation key without affecting others. The signal
// stays set until Resume is called, so new runs started after an abort
// are refused too.
type AbortSignal struct {
	mu   sync.Mutex
	all  bool
	keys map[string]struct{}
}

// NewAbortSignal returns a cleared AbortSignal.
func NewAbortSignal() *AbortSignal {
	return &AbortSignal{keys: make(map[string]struct{})}
}

// Abort sets the global flag.
func (a *AbortSignal) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.all = true
}

// AbortKey flags one operation key.
func (a *AbortSignal) AbortKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.keys[key] = struct{}{}
}

// Aborted reports whether the run identified by key should stop.
func (a *AbortSignal) Aborted(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.all {
		return true
	}

	_, ok := a.keys[key]

	return ok
}

// Global reports whether the process-wide flag is set.
func (a *AbortSignal) Global() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.all
}

// ClearKey removes a per-key flag. The executor calls this when the run
// for that key finishes, so a consumed abort does not poison later runs
// of the same range.
func (a *AbortSignal) ClearKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.keys, key)
}

// Resume clears the global flag and all per-key flags.
func (a *AbortSignal) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.all = false
	a.keys = make(map[string]struct{})
}

// inflight tracks which operation keys currently have a run executing.
// A second run for the same key is refused rather than queued, so two
// replace runs can never race on the same range.
type inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{keys: make(map[string]struct{})}
}

// acquire claims the key, reporting false if a run already holds it.
func (f *inflight) acquire(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.keys[key]; exists {
		return false
	}

	f.keys[key] = struct{}{}

	return true
}

// release frees the key.
func (f *inflight) release(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.keys, key)
}
