package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/brownsville-complaints/internal/merge"
)

const dateLayout = "2006-01-02"

var csvHeader = []string{
	"building_id", "major_category", "minor_category",
	"first_reported", "last_reported", "report_count", "sources",
}

// WriteCSV serializes the merged table to path. The write is atomic:
// rows go to a temp file in the same directory which is renamed over
// the previous dataset only after a successful flush, so a failed run
// leaves the prior dataset untouched.
func WriteCSV(path string, complaints []merge.MergedComplaint) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpName) // no-op after successful rename
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		return err
	}

	for _, c := range complaints {
		sources := make([]string, len(c.Sources))
		for i, s := range c.Sources {
			sources[i] = string(s)
		}
		row := []string{
			c.BuildingID,
			c.MajorCategory,
			c.MinorCategory,
			c.FirstReportedDate.Format(dateLayout),
			c.LastReportedDate.Format(dateLayout),
			strconv.Itoa(c.ReportCount),
			strings.Join(sources, ";"),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
