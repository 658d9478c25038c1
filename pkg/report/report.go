// Package report renders screening snapshots as XLSX workbooks for the
// regional health directorates.
package report

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ai4ckd/platform/pkg/geo"
	"github.com/ai4ckd/platform/pkg/screening"
	"github.com/ai4ckd/platform/pkg/srirc"
	"github.com/ai4ckd/platform/pkg/staging"
	"github.com/xuri/excelize/v2"
)

const (
	RegionsSheet = "Regions"
	QueueSheet   = "Priority Queue"
)

var regionHeader = []string{
	"Region", "Name", "Zone", "Patients", "G1", "G2", "G3a", "G3b", "G4", "G5",
	"Low", "Moderate", "High", "VeryHigh", "Imminent",
	"Mean SR-IRC", "Fallback staged", "Population", "Prevalence /100k",
}

var queueHeader = []string{
	"Rank", "Patient", "Region", "Stage", "SR-IRC", "Tier", "eDFG", "Fallback", "Version", "Updated",
}

// Build returns the workbook bytes.
func Build(snap screening.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write renders snap into w with one sheet for regional aggregates and one
// for the head of the priority queue.
func Write(w io.Writer, snap screening.Snapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	// The default sheet becomes the regions sheet and stays active.
	if err := f.SetSheetName("Sheet1", RegionsSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(QueueSheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(f, RegionsSheet, 1, toRow(regionHeader)); err != nil {
		return err
	}
	if err := writeRow(f, QueueSheet, 1, toRow(queueHeader)); err != nil {
		return err
	}
	for sheet, n := range map[string]int{RegionsSheet: len(regionHeader), QueueSheet: len(queueHeader)} {
		last, _ := excelize.CoordinatesToCellName(n, 1)
		if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
			return fmt.Errorf("failed to freeze header: %w", err)
		}
	}

	row := 2
	for _, agg := range snap.Regions {
		if err := writeRow(f, RegionsSheet, row, regionRow(agg)); err != nil {
			return err
		}
		row++
	}
	if err := writeRow(f, RegionsSheet, row, totalsRow(snap.Totals)); err != nil {
		return err
	}

	for i, ranked := range snap.Top {
		if err := writeRow(f, QueueSheet, i+2, queueRow(ranked.Rank, ranked.PatientID, ranked.Region,
			ranked.Stage, ranked.Score, ranked.Tier, ranked.EDFG, ranked.Degraded, ranked.Version,
			ranked.UpdatedAt.Format("2006-01-02 15:04"))); err != nil {
			return err
		}
	}

	_ = f.SetColWidth(RegionsSheet, "A", "C", 14)
	_ = f.SetColWidth(QueueSheet, "B", "B", 18)
	_ = f.SetColWidth(QueueSheet, "J", "J", 18)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func regionRow(agg geo.Aggregate) []interface{} {
	row := []interface{}{agg.RegionID, agg.Name, agg.Zone, agg.Total}
	for _, s := range staging.Stages {
		row = append(row, agg.ByStage[s.String()])
	}
	for _, t := range srirc.Tiers {
		row = append(row, agg.ByTier[t.String()])
	}
	return append(row, agg.MeanScore, agg.Degraded, agg.Population, agg.PrevalencePer100k)
}

func totalsRow(t geo.Totals) []interface{} {
	row := []interface{}{"Total", "", "", t.Patients}
	for _, s := range staging.Stages {
		row = append(row, t.ByStage[s.String()])
	}
	for _, tier := range srirc.Tiers {
		row = append(row, t.ByTier[tier.String()])
	}
	return append(row, t.MeanScore, t.Degraded)
}

func queueRow(rank int, pid, region string, stage staging.Stage, score int, tier srirc.Tier, gfr float64, degraded bool, version int, updated string) []interface{} {
	fallback := "no"
	if degraded {
		fallback = "yes"
	}
	return []interface{}{rank, pid, region, stage.String(), score, tier.String(), gfr, fallback, version, updated}
}

func toRow(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}
