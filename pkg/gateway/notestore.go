package gateway

import (
	"sync"

	"zkpool/pkg/field"
	"zkpool/pkg/note"
)

// StoredNote is a scanned note with its pool position and spend status.
type StoredNote struct {
	Note      note.Note
	LeafIndex uint64
	Spent     bool
}

// NoteStore persists scanned notes. Writes happen only after a submit
// succeeds; the builder never mutates the store mid-build.
type NoteStore interface {
	Put(n StoredNote) error
	GetByCommitment(commitment field.Element) (StoredNote, bool)
	MarkSpent(commitment field.Element) error
	ListByOwner(pk field.Element) []StoredNote
}

// MemoryNoteStore is the in-process NoteStore.
type MemoryNoteStore struct {
	mu    sync.RWMutex
	notes map[string]StoredNote
}

func NewMemoryNoteStore() *MemoryNoteStore {
	return &MemoryNoteStore{notes: make(map[string]StoredNote)}
}

func (s *MemoryNoteStore) Put(n StoredNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[field.Hex(n.Note.Commitment())] = n
	return nil
}

func (s *MemoryNoteStore) GetByCommitment(commitment field.Element) (StoredNote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[field.Hex(commitment)]
	return n, ok
}

func (s *MemoryNoteStore) MarkSpent(commitment field.Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[field.Hex(commitment)]
	if !ok {
		return nil
	}
	n.Spent = true
	s.notes[field.Hex(commitment)] = n
	return nil
}

func (s *MemoryNoteStore) ListByOwner(pk field.Element) []StoredNote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StoredNote
	for _, n := range s.notes {
		if n.Note.Pk.Equal(&pk) {
			out = append(out, n)
		}
	}
	return out
}
