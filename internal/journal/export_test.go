package journal

// TamperForTest overwrites a stored entry in place, bypassing the append path.
// It exists only so tests can simulate storage-level tampering.
func (s *MemoryStore) TamperForTest(seq int64, mutate func(e *Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[seq-1].clone()
	mutate(e)
	s.entries[seq-1] = e
}

// DeleteForTest removes a stored entry, leaving a sequence gap.
func (s *MemoryStore) DeleteForTest(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries[:seq-1:seq-1], s.entries[seq:]...)
}
