// Package triage keeps every scored patient in urgency order.
package triage

import (
	"errors"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/ai4ckd/platform/pkg/srirc"
	"github.com/ai4ckd/platform/pkg/staging"
)

var ErrInvalidEntry = errors.New("invalid urgency entry")

// Entry is one patient's latest assessment. It is replaced whole on every
// scoring event.
type Entry struct {
	PatientID string        `json:"patient_id"`
	Region    string        `json:"region"`
	Stage     staging.Stage `json:"stage"`
	Score     int           `json:"score"`
	Tier      srirc.Tier    `json:"tier"`
	Degraded  bool          `json:"degraded"`
	EDFG      float64       `json:"edfg"`
	Version   int           `json:"version"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Ranked pairs an entry with its 1-based rank.
type Ranked struct {
	Rank int `json:"rank"`
	Entry
}

// Less orders by stage descending, then score descending, then patient id
// ascending.
func Less(a, b Entry) bool {
	if a.Stage != b.Stage {
		return a.Stage > b.Stage
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.PatientID < b.PatientID
}

// Queue is safe for concurrent use. Mutations keep entries sorted by
// locating positions with binary search instead of re-sorting.
type Queue struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]Entry
}

func NewQueue() *Queue {
	return &Queue{index: make(map[string]Entry)}
}

// Upsert replaces any entry for the same patient and returns its new 1-based
// position. The tier is always recomputed from the score.
func (q *Queue) Upsert(e Entry) (int, error) {
	if e.PatientID == "" || !e.Stage.Valid() || e.Score < 0 {
		return 0, ErrInvalidEntry
	}
	e.Tier = srirc.TierOf(e.Score)

	q.mu.Lock()
	defer q.mu.Unlock()

	if prev, ok := q.index[e.PatientID]; ok {
		q.removeAt(q.search(prev))
	}
	pos := q.search(e)
	q.entries = append(q.entries, Entry{})
	copy(q.entries[pos+1:], q.entries[pos:])
	q.entries[pos] = e
	q.index[e.PatientID] = e
	return pos + 1, nil
}

func (q *Queue) Remove(patientID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	prev, ok := q.index[patientID]
	if !ok {
		return false
	}
	q.removeAt(q.search(prev))
	delete(q.index, patientID)
	return true
}

// search returns the first index whose entry does not rank before e.
func (q *Queue) search(e Entry) int {
	return sort.Search(len(q.entries), func(i int) bool { return !Less(q.entries[i], e) })
}

func (q *Queue) removeAt(i int) {
	copy(q.entries[i:], q.entries[i+1:])
	q.entries[len(q.entries)-1] = Entry{}
	q.entries = q.entries[:len(q.entries)-1]
}

func (q *Queue) Get(patientID string) (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.index[patientID]
	return e, ok
}

// Position returns the current 1-based rank of a patient.
func (q *Queue) Position(patientID string) (int, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.index[patientID]
	if !ok {
		return 0, false
	}
	return q.search(e) + 1, true
}

func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Top yields the n most urgent entries. Each range over the sequence reads
// a fresh copy of the head of the queue, so it can be restarted and is not
// affected by concurrent mutations. n <= 0 yields every entry.
func (q *Queue) Top(n int) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range q.head(n) {
			if !yield(e) {
				return
			}
		}
	}
}

// Snapshot returns the n most urgent entries with their ranks.
func (q *Queue) Snapshot(n int) []Ranked {
	head := q.head(n)
	out := make([]Ranked, len(head))
	for i, e := range head {
		out[i] = Ranked{Rank: i + 1, Entry: e}
	}
	return out
}

func (q *Queue) head(n int) []Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if n <= 0 || n > len(q.entries) {
		n = len(q.entries)
	}
	out := make([]Entry, n)
	copy(out, q.entries[:n])
	return out
}
