package storage

import (
	"errors"
	"fmt"
	"sort"
)

// batchWriter is implemented by backends that can apply a commit atomically.
type batchWriter interface {
	WriteBatch(puts map[string][]byte, deletes []string) error
}

type dirtyEntry struct {
	value   []byte
	deleted bool
}

type journalChange struct {
	key     string
	prev    dirtyEntry
	present bool
}

// Journal buffers writes on top of a Database. Snapshots are identified by
// the journal length at the time they were taken, so reverts must happen in
// LIFO order. Nothing reaches the backing database until Commit.
type Journal struct {
	db      Database
	dirty   map[string]dirtyEntry
	changes []journalChange
}

// NewJournal wraps db with a write-back overlay.
func NewJournal(db Database) *Journal {
	return &Journal{db: db, dirty: make(map[string]dirtyEntry)}
}

// Get reads through the overlay to the backing database.
func (j *Journal) Get(key []byte) ([]byte, error) {
	if entry, ok := j.dirty[string(key)]; ok {
		if entry.deleted {
			return nil, ErrNotFound
		}
		return append([]byte(nil), entry.value...), nil
	}
	return j.db.Get(key)
}

// Has reports whether key resolves to a value.
func (j *Journal) Has(key []byte) (bool, error) {
	_, err := j.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (j *Journal) record(key string) {
	prev, present := j.dirty[key]
	j.changes = append(j.changes, journalChange{key: key, prev: prev, present: present})
}

// Put stages key=value.
func (j *Journal) Put(key []byte, value []byte) error {
	k := string(key)
	j.record(k)
	j.dirty[k] = dirtyEntry{value: append([]byte(nil), value...)}
	return nil
}

// Delete stages the removal of key.
func (j *Journal) Delete(key []byte) error {
	k := string(key)
	j.record(k)
	j.dirty[k] = dirtyEntry{deleted: true}
	return nil
}

// Snapshot returns an identifier for the current overlay state.
func (j *Journal) Snapshot() int {
	return len(j.changes)
}

// RevertToSnapshot undoes every staged write made after id was taken.
func (j *Journal) RevertToSnapshot(id int) {
	if id < 0 || id > len(j.changes) {
		panic(fmt.Sprintf("storage: invalid journal snapshot %d (len %d)", id, len(j.changes)))
	}
	for i := len(j.changes) - 1; i >= id; i-- {
		change := j.changes[i]
		if change.present {
			j.dirty[change.key] = change.prev
		} else {
			delete(j.dirty, change.key)
		}
	}
	j.changes = j.changes[:id]
}

// Pending reports the number of keys staged for the next commit.
func (j *Journal) Pending() int {
	return len(j.dirty)
}

// Commit flushes the overlay into the backing database. Keys are written in
// sorted order so that commits are deterministic across backends.
func (j *Journal) Commit() error {
	if len(j.dirty) == 0 {
		j.changes = j.changes[:0]
		return nil
	}
	keys := make([]string, 0, len(j.dirty))
	for key := range j.dirty {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if bw, ok := j.db.(batchWriter); ok {
		puts := make(map[string][]byte, len(keys))
		var deletes []string
		for _, key := range keys {
			entry := j.dirty[key]
			if entry.deleted {
				deletes = append(deletes, key)
				continue
			}
			puts[key] = entry.value
		}
		if err := bw.WriteBatch(puts, deletes); err != nil {
			return fmt.Errorf("storage: commit batch: %w", err)
		}
	} else {
		for _, key := range keys {
			entry := j.dirty[key]
			var err error
			if entry.deleted {
				err = j.db.Delete([]byte(key))
			} else {
				err = j.db.Put([]byte(key), entry.value)
			}
			if err != nil {
				return fmt.Errorf("storage: commit %x: %w", key, err)
			}
		}
	}
	j.dirty = make(map[string]dirtyEntry)
	j.changes = j.changes[:0]
	return nil
}

// Discard drops every staged write.
func (j *Journal) Discard() {
	j.dirty = make(map[string]dirtyEntry)
	j.changes = j.changes[:0]
}
