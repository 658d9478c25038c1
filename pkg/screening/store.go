package screening

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ai4ckd/platform/pkg/common/models"
)

var (
	// ErrStorageUnavailable wraps every driver failure. The engine does not
	// retry; callers decide.
	ErrStorageUnavailable = errors.New("patient store unavailable")
	ErrNotFound           = errors.New("patient record not found")
)

// Store keeps immutable, versioned patient records.
type Store interface {
	// Get returns the latest live version of a patient.
	Get(ctx context.Context, patientID string) (models.PatientRecord, error)
	// Put appends a new version and returns the record as stored.
	Put(ctx context.Context, rec models.PatientRecord) (models.PatientRecord, error)
	// ListByRegion returns the latest live version of every patient whose
	// latest version is in region. An empty region lists every patient.
	ListByRegion(ctx context.Context, region string) ([]models.PatientRecord, error)
}

// MemoryStore is a Store for tests and single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string][]models.PatientRecord
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string][]models.PatientRecord),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Get(_ context.Context, patientID string) (models.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.versions[patientID]
	if len(history) == 0 || history[len(history)-1].Removed {
		return models.PatientRecord{}, ErrNotFound
	}
	return cloneRecord(history[len(history)-1]), nil
}

func (s *MemoryStore) Put(_ context.Context, rec models.PatientRecord) (models.PatientRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := cloneRecord(rec)
	stored.Version = len(s.versions[rec.PatientID]) + 1
	if stored.ReceivedAt.IsZero() {
		stored.ReceivedAt = s.now()
	}
	s.versions[rec.PatientID] = append(s.versions[rec.PatientID], stored)
	return cloneRecord(stored), nil
}

func (s *MemoryStore) ListByRegion(_ context.Context, region string) ([]models.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PatientRecord
	for _, history := range s.versions {
		latest := history[len(history)-1]
		if latest.Removed || (region != "" && latest.Region != region) {
			continue
		}
		out = append(out, cloneRecord(latest))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatientID < out[j].PatientID })
	return out, nil
}

// History returns every stored version of a patient, oldest first.
func (s *MemoryStore) History(patientID string) []models.PatientRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PatientRecord, len(s.versions[patientID]))
	for i, rec := range s.versions[patientID] {
		out[i] = cloneRecord(rec)
	}
	return out
}

func cloneRecord(rec models.PatientRecord) models.PatientRecord {
	out := rec
	if rec.Fields != nil {
		out.Fields = make(map[string]interface{}, len(rec.Fields))
		for k, v := range rec.Fields {
			out.Fields[k] = v
		}
	}
	return out
}
