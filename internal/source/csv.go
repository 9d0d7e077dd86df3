package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadCSV loads a raw per-source extract (the cached form the retrieval
// side writes) into RawRecords. The first row is the header; header
// names are lowercased so mappers can rely on the feeds' documented
// column names regardless of export casing.
func ReadCSV(path string, src ID) ([]RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s extract: %w", src, err)
	}
	defer f.Close()

	return readCSV(f, src)
}

func readCSV(r io.Reader, src ID) ([]RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // ragged exports happen; mappers reject what matters

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", src, err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var records []RawRecord
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read %s row %d: %w", src, line, err)
		}

		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(row) && name != "" {
				fields[name] = row[i]
			}
		}
		records = append(records, RawRecord{Source: src, Fields: fields})
	}
	return records, nil
}
