package state

import "sync"

// Locks serializes turn processing per conversation id. No two turns of the
// same conversation may run concurrently; different conversations do not
// contend. Entries are reference-counted so abandoned ids do not accumulate.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{entries: make(map[string]*lockEntry)}
}

func (l *Locks) Lock(id string) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

func (l *Locks) Unlock(id string) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		l.mu.Unlock()
		panic("state: unlock of unheld conversation lock " + id)
	}
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
	l.mu.Unlock()

	e.mu.Unlock()
}
