package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"lpvault/storage"
)

// Manager layers a mutable write set over a storage.Database and exposes
// RLP-encoded reads and writes. Mutations accumulate in memory and only reach
// the backing store on Commit, so a caller can bracket a multi-step operation
// with Snapshot/RevertToSnapshot and guarantee all-or-nothing semantics.
type Manager struct {
	db      storage.Database
	dirty   map[string][]byte
	journal []journalEntry
}

// journalEntry records the dirty-set value a key held before a write so the
// write can be undone.
type journalEntry struct {
	key      string
	prev     []byte
	hadEntry bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:    db,
		dirty: make(map[string][]byte),
	}
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil {
		return fmt.Errorf("state manager not initialised")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	m.record(string(key))
	m.dirty[string(key)] = encoded
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// out. The boolean result reports whether the key was present.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil {
		return false, fmt.Errorf("state manager not initialised")
	}
	data, ok := m.dirty[string(key)]
	if ok {
		if data == nil {
			return false, nil
		}
	} else {
		stored, err := m.db.Get(key)
		if err != nil {
			if err == storage.ErrNotFound {
				return false, nil
			}
			return false, err
		}
		data = stored
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVHas reports whether the key holds a value without decoding it.
func (m *Manager) KVHas(key []byte) (bool, error) {
	if m == nil {
		return false, fmt.Errorf("state manager not initialised")
	}
	if data, ok := m.dirty[string(key)]; ok {
		return data != nil, nil
	}
	if _, err := m.db.Get(key); err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// KVDelete removes the key. Deleting an absent key is a no-op.
func (m *Manager) KVDelete(key []byte) error {
	if m == nil {
		return fmt.Errorf("state manager not initialised")
	}
	m.record(string(key))
	m.dirty[string(key)] = nil
	return nil
}

// Snapshot returns an identifier for the current write-set position. Passing
// it to RevertToSnapshot undoes every mutation made since.
func (m *Manager) Snapshot() int {
	if m == nil {
		return 0
	}
	return len(m.journal)
}

// RevertToSnapshot rolls the write set back to the supplied snapshot. Invalid
// identifiers are clamped rather than panicking since revert runs on error
// paths.
func (m *Manager) RevertToSnapshot(id int) {
	if m == nil {
		return
	}
	if id < 0 {
		id = 0
	}
	if id > len(m.journal) {
		id = len(m.journal)
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.hadEntry {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:id]
}

// Commit flushes the accumulated write set to the backing database and resets
// the journal. A failed flush leaves the write set intact so the caller can
// retry or abandon.
func (m *Manager) Commit() error {
	if m == nil {
		return fmt.Errorf("state manager not initialised")
	}
	for key, value := range m.dirty {
		if value == nil {
			if err := m.db.Delete([]byte(key)); err != nil {
				return err
			}
			continue
		}
		if err := m.db.Put([]byte(key), value); err != nil {
			return err
		}
	}
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
	return nil
}

func (m *Manager) record(key string) {
	prev, ok := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, hadEntry: ok})
}
