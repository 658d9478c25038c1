package screening

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ai4ckd/platform/pkg/common/models"
	"github.com/ai4ckd/platform/pkg/srirc"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RecordModel is one immutable version of a patient record.
type RecordModel struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	PatientID  string            `gorm:"column:patient_id;not null;uniqueIndex:idx_patient_version"`
	Version    int               `gorm:"column:version;not null;uniqueIndex:idx_patient_version"`
	Region     string            `gorm:"column:region;index"`
	Fields     datatypes.JSONMap `gorm:"column:fields"`
	Removed    bool              `gorm:"column:removed;not null"`
	ReceivedAt time.Time         `gorm:"column:received_at"`
}

// TableName overrides gorm naming.
func (RecordModel) TableName() string {
	return "patient_records"
}

func (m RecordModel) toRecord() models.PatientRecord {
	return models.PatientRecord{
		PatientID:  m.PatientID,
		Region:     m.Region,
		Version:    m.Version,
		Fields:     map[string]interface{}(m.Fields),
		ReceivedAt: m.ReceivedAt,
		Removed:    m.Removed,
	}
}

// RecordRepository is the Postgres Store.
type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&RecordModel{})
}

func (r *RecordRepository) Get(ctx context.Context, patientID string) (models.PatientRecord, error) {
	var row RecordModel
	err := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("version DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PatientRecord{}, ErrNotFound
	}
	if err != nil {
		return models.PatientRecord{}, storageError("get record", err)
	}
	if row.Removed {
		return models.PatientRecord{}, ErrNotFound
	}
	return row.toRecord(), nil
}

// Put assigns the next version inside a transaction. The unique index on
// (patient_id, version) rejects a concurrent writer that read the same max.
func (r *RecordRepository) Put(ctx context.Context, rec models.PatientRecord) (models.PatientRecord, error) {
	row := RecordModel{
		ID:         uuid.New(),
		PatientID:  rec.PatientID,
		Region:     rec.Region,
		Fields:     datatypes.JSONMap(rec.Fields),
		Removed:    rec.Removed,
		ReceivedAt: rec.ReceivedAt,
	}
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = time.Now().UTC()
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int
		if err := tx.Model(&RecordModel{}).
			Select("COALESCE(MAX(version), 0)").
			Where("patient_id = ?", rec.PatientID).
			Scan(&current).Error; err != nil {
			return err
		}
		row.Version = current + 1
		return tx.Create(&row).Error
	})
	if err != nil {
		return models.PatientRecord{}, storageError("put record", err)
	}
	return row.toRecord(), nil
}

func (r *RecordRepository) ListByRegion(ctx context.Context, region string) ([]models.PatientRecord, error) {
	query := r.db.WithContext(ctx).
		Where("version = (SELECT MAX(v.version) FROM patient_records v WHERE v.patient_id = patient_records.patient_id)").
		Where("removed = ?", false)
	if region != "" {
		query = query.Where("region = ?", region)
	}

	var rows []RecordModel
	if err := query.Order("patient_id").Find(&rows).Error; err != nil {
		return nil, storageError("list records", err)
	}
	out := make([]models.PatientRecord, len(rows))
	for i, row := range rows {
		out[i] = row.toRecord()
	}
	return out, nil
}

// Ping checks the underlying connection pool.
func (r *RecordRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return storageError("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return storageError("ping", err)
	}
	return nil
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// ScoreEvent is the audit row written for every scoring.
type ScoreEvent struct {
	ID        uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey;column:id"`
	PatientID string            `json:"patient_id" gorm:"column:patient_id;index"`
	Version   int               `json:"version" gorm:"column:version"`
	Region    string            `json:"region" gorm:"column:region"`
	Stage     string            `json:"stage" gorm:"column:stage"`
	Source    string            `json:"source" gorm:"column:source"`
	Degraded  bool              `json:"degraded" gorm:"column:degraded"`
	Reason    string            `json:"reason,omitempty" gorm:"column:reason"`
	EDFG      float64           `json:"edfg" gorm:"column:edfg"`
	Score     int               `json:"score" gorm:"column:score"`
	Tier      string            `json:"tier" gorm:"column:tier"`
	Factors   datatypes.JSONMap `json:"factors" gorm:"column:factors"`
	CreatedAt time.Time         `json:"created_at" gorm:"column:created_at"`
}

// TableName overrides gorm naming.
func (ScoreEvent) TableName() string {
	return "score_events"
}

// EventLog receives one ScoreEvent per scoring and serves a patient's
// scoring history, newest first.
type EventLog interface {
	Append(ctx context.Context, event ScoreEvent) error
	Recent(ctx context.Context, patientID string, limit int) ([]ScoreEvent, error)
}

// EventRepository stores score events in Postgres.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&ScoreEvent{})
}

func (r *EventRepository) Append(ctx context.Context, event ScoreEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(&event).Error; err != nil {
		return storageError("append score event", err)
	}
	return nil
}

// Recent returns a patient's most recent score events up to limit; an empty
// patient id returns events for everyone.
func (r *EventRepository) Recent(ctx context.Context, patientID string, limit int) ([]ScoreEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx)
	if patientID != "" {
		query = query.Where("patient_id = ?", patientID)
	}
	var events []ScoreEvent
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, storageError("recent score events", err)
	}
	return events, nil
}

func factorMap(factors []srirc.Factor) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(factors))
	for _, f := range factors {
		out[f.Name] = f.Points
	}
	return out
}
