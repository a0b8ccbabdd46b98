package types

import "sync"

// Dictionary is the committed key-value state, last-writer-wins,
// ordered only by commit. It is mutated exclusively by the executor
// task (spec.md §5) but may be read from other goroutines through the
// replica's Dictionary accessor, so it keeps its own lock.
type Dictionary struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewDictionary creates an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{values: make(map[string][]byte)}
}

// Set applies a committed write.
func (d *Dictionary) Set(key, value []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[string(key)] = value
}

// Get returns the value for key and whether it is present.
func (d *Dictionary) Get(key []byte) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[string(key)]
	return v, ok
}
