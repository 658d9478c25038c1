package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ai4ckd/platform/pkg/common/models"
	"github.com/ai4ckd/platform/pkg/screening"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func testSnapshot(t *testing.T) screening.Snapshot {
	t.Helper()
	e, err := screening.New(screening.Options{
		Store: screening.NewMemoryStore(),
		Now:   func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	records := []models.PatientRecord{
		{PatientID: "P-001", Region: "Littoral", Fields: map[string]interface{}{
			"age": 55, "sex": "M", "creatinine": 1.8, "creatinine_unit": "mg/dL",
			"hypertension": true, "diabetes": "oui", "albuminuria": "severe",
		}},
		{PatientID: "P-002", Region: "BJ-BO", Fields: map[string]interface{}{
			"age": 40, "sex": "F", "creatinine": 0.8, "creatinine_unit": "mg/dL",
		}},
	}
	for _, rec := range records {
		_, err := e.Submit(context.Background(), rec)
		require.NoError(t, err)
	}
	return e.Snapshot(10)
}

func TestBuildWorkbook(t *testing.T) {
	data, err := Build(testSnapshot(t))
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{RegionsSheet, QueueSheet}, f.GetSheetList())
	assert.Equal(t, 0, f.GetActiveSheetIndex())

	regions, err := f.GetRows(RegionsSheet)
	require.NoError(t, err)
	require.Len(t, regions, 1+12+1)
	assert.Equal(t, regionHeader, regions[0])

	var littoral []string
	for _, row := range regions[1:] {
		if row[0] == "BJ-LI" {
			littoral = row
		}
	}
	require.NotNil(t, littoral)
	assert.Equal(t, "Littoral", littoral[1])
	assert.Equal(t, "1", littoral[3])
	assert.Equal(t, "1", littoral[7], "G3b column")

	totals := regions[len(regions)-1]
	assert.Equal(t, "Total", totals[0])
	assert.Equal(t, "2", totals[3])

	queue, err := f.GetRows(QueueSheet)
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, queueHeader, queue[0])
	assert.Equal(t, []string{"1", "P-001", "BJ-LI", "G3b", "26", "High"}, queue[1][:6])
	assert.Equal(t, "yes", queue[1][7])
	assert.Equal(t, "2026-03-02 09:00", queue[1][9])
	assert.Equal(t, "P-002", queue[2][1])
}

func TestBuildEmptySnapshot(t *testing.T) {
	data, err := Build(screening.Snapshot{})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	queue, err := f.GetRows(QueueSheet)
	require.NoError(t, err)
	require.Len(t, queue, 1)
}
