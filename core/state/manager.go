package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"pairlend/storage"
)

// Manager provides typed, RLP-encoded access to the key-value state backing
// the lending engine. All writes are staged in a journal so that callers can
// snapshot and revert around a transactional unit.
type Manager struct {
	journal *storage.Journal
}

// NewManager creates a state manager staging writes on top of db.
func NewManager(db storage.Database) *Manager {
	return &Manager{journal: storage.NewJournal(db)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores the RLP encoding of value under the supplied key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.journal.Put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.journal.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.journal.Delete(kvKey(key))
}

// Snapshot marks the current staged state.
func (m *Manager) Snapshot() int { return m.journal.Snapshot() }

// RevertToSnapshot discards every write staged after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) { m.journal.RevertToSnapshot(id) }

// Commit flushes staged writes to the backing database.
func (m *Manager) Commit() error { return m.journal.Commit() }
