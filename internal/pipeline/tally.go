package pipeline

import "sync"

// tally accumulates per-job outcomes across workers.
type tally struct {
	mu        sync.Mutex
	claimed   int
	processed int
	released  int
	failed    map[string]int
	reclaimed int64
	texts     int
	words     int64
}

func newTally() *tally {
	return &tally{failed: make(map[string]int)}
}

func (t *tally) claim() {
	t.mu.Lock()
	t.claimed++
	t.mu.Unlock()
}

func (t *tally) process(res Result) {
	t.mu.Lock()
	t.processed++
	t.texts += res.Texts
	t.words += res.Words
	t.mu.Unlock()
}

func (t *tally) fail(kind string) {
	t.mu.Lock()
	t.failed[kind]++
	t.mu.Unlock()
}

func (t *tally) release() {
	t.mu.Lock()
	t.released++
	t.mu.Unlock()
}

func (t *tally) reclaim(n int64) {
	t.mu.Lock()
	t.reclaimed += n
	t.mu.Unlock()
}

func (t *tally) fill(s *Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.Claimed = t.claimed
	s.Processed = t.processed
	s.Released = t.released
	s.Reclaimed = t.reclaimed
	s.Texts = t.texts
	s.Words = t.words
	s.Failed = make(map[string]int, len(t.failed))
	for kind, n := range t.failed {
		s.Failed[kind] = n
	}
}
