package dataset

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/brownsville-complaints/internal/merge"
)

// ExportPostgres pushes the merged dataset into the analysis warehouse.
// The target table is rebuilt inside one transaction so readers never
// see a half-replaced dataset.
func ExportPostgres(dsn string, complaints []merge.MergedComplaint) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open warehouse: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping warehouse: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS merged_complaint (
		  building_id TEXT NOT NULL,
		  major_category TEXT NOT NULL,
		  minor_category TEXT NOT NULL DEFAULT '',
		  first_reported DATE NOT NULL,
		  last_reported DATE NOT NULL,
		  report_count INTEGER NOT NULL,
		  sources TEXT NOT NULL,
		  PRIMARY KEY (building_id, major_category, minor_category)
		)`); err != nil {
		return fmt.Errorf("create warehouse table: %w", err)
	}

	if _, err := tx.Exec(`TRUNCATE merged_complaint`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO merged_complaint
		  (building_id, major_category, minor_category, first_reported, last_reported, report_count, sources)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range complaints {
		if _, err := stmt.Exec(
			c.BuildingID, c.MajorCategory, c.MinorCategory,
			c.FirstReportedDate.Format(dateLayout),
			c.LastReportedDate.Format(dateLayout),
			c.ReportCount, joinSources(c.Sources),
		); err != nil {
			return fmt.Errorf("insert %s/%s: %w", c.BuildingID, c.MajorCategory, err)
		}
	}

	return tx.Commit()
}
