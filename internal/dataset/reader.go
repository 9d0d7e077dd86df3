package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brownsville-complaints/internal/merge"
	"github.com/brownsville-complaints/internal/source"
)

// ReadCSV loads a previously written dataset back, so exports can run
// without re-running the pipeline.
func ReadCSV(path string) ([]merge.MergedComplaint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read dataset header: %w", err)
	}
	if len(header) != len(csvHeader) || header[0] != csvHeader[0] {
		return nil, fmt.Errorf("%s is not a merged dataset", path)
	}

	var out []merge.MergedComplaint
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read dataset row %d: %w", line, err)
		}

		c := merge.MergedComplaint{
			BuildingID:    row[0],
			MajorCategory: row[1],
			MinorCategory: row[2],
		}
		if c.FirstReportedDate, err = time.Parse(dateLayout, row[3]); err != nil {
			return nil, fmt.Errorf("dataset row %d: %w", line, err)
		}
		if c.LastReportedDate, err = time.Parse(dateLayout, row[4]); err != nil {
			return nil, fmt.Errorf("dataset row %d: %w", line, err)
		}
		if c.ReportCount, err = strconv.Atoi(row[5]); err != nil {
			return nil, fmt.Errorf("dataset row %d: %w", line, err)
		}
		for _, name := range strings.Split(row[6], ";") {
			if name == "" {
				continue
			}
			id, err := source.ParseID(name)
			if err != nil {
				return nil, fmt.Errorf("dataset row %d: %w", line, err)
			}
			c.Sources = append(c.Sources, id)
		}
		out = append(out, c)
	}
	return out, nil
}
