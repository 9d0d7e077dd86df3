package dataset

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/brownsville-complaints/internal/merge"
)

// ExportXLSX writes an operator-facing summary workbook: the full merged
// table on one sheet, per-category totals on another.
func ExportXLSX(outputPath string, complaints []merge.MergedComplaint, stats []SourceStat) error {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	_ = f.SetSheetName(sheet, "Complaints")
	sheet = "Complaints"

	headers := []string{
		"building_id", "major_category", "minor_category",
		"first_reported", "last_reported", "report_count", "sources",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, c := range complaints {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}
		set(1, c.BuildingID)
		set(2, c.MajorCategory)
		set(3, c.MinorCategory)
		set(4, c.FirstReportedDate.Format(dateLayout))
		set(5, c.LastReportedDate.Format(dateLayout))
		set(6, c.ReportCount)
		set(7, joinSources(c.Sources))
	}

	if err := writeCategorySheet(f, complaints); err != nil {
		return err
	}
	if err := writeRunSheet(f, stats); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func writeCategorySheet(f *excelize.File, complaints []merge.MergedComplaint) error {
	const sheet = "Categories"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	totals := make(map[string]int)
	for _, c := range complaints {
		totals[c.MajorCategory] += c.ReportCount
	}
	categories := make([]string, 0, len(totals))
	for cat := range totals {
		categories = append(categories, cat)
	}
	sort.Slice(categories, func(i, j int) bool {
		if totals[categories[i]] != totals[categories[j]] {
			return totals[categories[i]] > totals[categories[j]]
		}
		return categories[i] < categories[j]
	})

	_ = f.SetCellValue(sheet, "A1", "major_category")
	_ = f.SetCellValue(sheet, "B1", "reports")
	for i, cat := range categories {
		cellA, _ := excelize.CoordinatesToCellName(1, i+2)
		cellB, _ := excelize.CoordinatesToCellName(2, i+2)
		_ = f.SetCellValue(sheet, cellA, cat)
		_ = f.SetCellValue(sheet, cellB, totals[cat])
	}
	return nil
}

func writeRunSheet(f *excelize.File, stats []SourceStat) error {
	const sheet = "Run"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	_ = f.SetCellValue(sheet, "A1", "source")
	_ = f.SetCellValue(sheet, "B1", "processed")
	_ = f.SetCellValue(sheet, "C1", "merged")
	_ = f.SetCellValue(sheet, "D1", "rejected")
	for i, st := range stats {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}
		set(1, string(st.Source))
		set(2, st.Processed)
		set(3, st.Merged)
		set(4, st.Rejected)
	}
	return nil
}
