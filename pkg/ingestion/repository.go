package ingestion

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("import job not found")

// JobStore persists import jobs.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Job{})
}

func (r *Repository) Create(ctx context.Context, job *Job) error {
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repository) Update(ctx context.Context, job *Job) error {
	job.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":     job.Status,
			"total":      job.Total,
			"accepted":   job.Accepted,
			"rejected":   job.Rejected,
			"row_errors": job.RowErrors,
			"error":      job.Error,
			"updated_at": job.UpdatedAt,
		}).Error
}

func (r *Repository) Get(ctx context.Context, id string) (*Job, error) {
	var job Job
	result := r.db.WithContext(ctx).First(&job, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &job, nil
}

// CleanupExpired deletes jobs older than ttl.
func (r *Repository) CleanupExpired(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-ttl)
	return r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Job{}).Error
}

// MemoryJobs keeps jobs in process, for the CLI and tests.
type MemoryJobs struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemoryJobs() *MemoryJobs {
	return &MemoryJobs{jobs: make(map[string]Job)}
}

func (m *MemoryJobs) Create(_ context.Context, job *Job) error {
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt
	m.mu.Lock()
	m.jobs[job.ID] = *job
	m.mu.Unlock()
	return nil
}

func (m *MemoryJobs) Update(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	job.UpdatedAt = time.Now().UTC()
	m.jobs[job.ID] = *job
	return nil
}

func (m *MemoryJobs) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}
