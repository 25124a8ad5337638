package dynts

type Stats struct {
	Chunks    int
	Open      int
	Sealed    int
	Persisted int
	Resident  int
	Rows      int

	// Bytes is the sum of Size over all chunks; ResidentBytes counts only
	// chunks held in memory.
	Bytes         int
	ResidentBytes int
}

func (s *Stats) Evicted() int {
	return s.Chunks - s.Resident
}

// Fill is the average chunk size as a fraction of limit.
func (s *Stats) Fill(limit int) float64 {
	if s.Chunks == 0 || limit <= 0 {
		return 0
	}
	return float64(s.Bytes) / float64(s.Chunks) / float64(limit)
}

func (ht *Hypertable) Stats() Stats {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	var s Stats
	for pos, ref := range ht.refs {
		ht.refreshLocked(pos)
		ref = ht.refs[pos]
		s.Chunks++
		if ref.Sealed {
			s.Sealed++
		} else {
			s.Open++
		}
		if ref.Persisted {
			s.Persisted++
		}
		s.Rows += ref.Rows
		s.Bytes += ref.Size
		if ht.chunks[pos] != nil {
			s.Resident++
			s.ResidentBytes += ref.Size
		}
	}
	return s
}
