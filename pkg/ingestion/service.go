// Package ingestion imports registry exports (CSV or JSON) into the
// screening engine and tracks each import as a job.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ai4ckd/platform/pkg/common/logger"
	"github.com/ai4ckd/platform/pkg/screening"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Service struct {
	policy    *ExportPolicy
	jobs      JobStore
	engine    *screening.Engine
	jobTTL    time.Duration
}

func NewService(policy *ExportPolicy, jobs JobStore, engine *screening.Engine, ttl time.Duration) *Service {
	if policy == nil {
		policy = NewExportPolicy(nil, nil)
	}
	if jobs == nil {
		jobs = NewMemoryJobs()
	}
	return &Service{
		policy: policy,
		jobs:   jobs,
		engine: engine,
		jobTTL: ttl,
	}
}

// Import parses the export and submits every row. Rows failing validation
// are counted and reported on the job; they do not fail the import. The
// returned error is non-nil only when the export itself is unusable or the
// job cannot be recorded.
func (s *Service) Import(ctx context.Context, req Request) (*Job, error) {
	req, err := s.policy.Admit(req)
	if err != nil {
		return nil, err
	}
	rows, err := Parse(req.Format, req.Body)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:     uuid.New().String(),
		Source: req.Source,
		Format: req.Format,
		Status: StatusAccepted,
		Total:  len(rows.Records),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting import job: %w", err)
	}

	items := s.engine.SubmitBatch(ctx, rows.Records)
	rowErrors := make(datatypes.JSONMap)
	var storageErr error
	for _, item := range items {
		if item.Err == nil {
			job.Accepted++
			continue
		}
		job.Rejected++
		if storageErr == nil && (errors.Is(item.Err, screening.ErrStorageUnavailable) || errors.Is(item.Err, screening.ErrClosed)) {
			storageErr = item.Err
		}
		if len(rowErrors) < maxRowErrors {
			rowErrors[strconv.Itoa(rows.Lines[item.Index])] = item.Err.Error()
		}
	}
	if len(rowErrors) > 0 {
		job.RowErrors = rowErrors
	}

	job.Status = StatusCompleted
	if storageErr != nil {
		job.Status = StatusFailed
		job.Error = storageErr.Error()
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		logger.Log.WithError(err).WithField("job_id", job.ID).Error("failed to update import job")
	}

	logger.Log.WithFields(map[string]interface{}{
		"job_id":   job.ID,
		"source":   job.Source,
		"total":    job.Total,
		"accepted": job.Accepted,
		"rejected": job.Rejected,
		"status":   job.Status,
	}).Info("registry import finished")
	return job, nil
}

func (s *Service) Status(ctx context.Context, id string) (*Job, error) {
	return s.jobs.Get(ctx, id)
}

// Cleanup drops expired jobs when the store supports it.
func (s *Service) Cleanup(ctx context.Context) error {
	if c, ok := s.jobs.(interface {
		CleanupExpired(context.Context, time.Duration) error
	}); ok {
		return c.CleanupExpired(ctx, s.jobTTL)
	}
	return nil
}
