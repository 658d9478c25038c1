package ingestion

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusAccepted  = "accepted"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// maxRowErrors caps how many rejected rows a job keeps.
const maxRowErrors = 100

// Request is one registry export handed to Import.
type Request struct {
	Source string
	Format string
	Body   []byte
}

// Job tracks one import from acceptance to completion. RowErrors is keyed by
// the source line of each rejected CSV row, or its position in a JSON array.
type Job struct {
	ID        string            `json:"id" gorm:"primaryKey;column:id"`
	Source    string            `json:"source" gorm:"column:source"`
	Format    string            `json:"format" gorm:"column:format"`
	Status    string            `json:"status" gorm:"column:status"`
	Total     int               `json:"total" gorm:"column:total"`
	Accepted  int               `json:"accepted" gorm:"column:accepted"`
	Rejected  int               `json:"rejected" gorm:"column:rejected"`
	RowErrors datatypes.JSONMap `json:"row_errors,omitempty" gorm:"column:row_errors"`
	Error     string            `json:"error,omitempty" gorm:"column:error"`
	CreatedAt time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time         `json:"updated_at" gorm:"column:updated_at"`
}

func (Job) TableName() string {
	return "import_jobs"
}
