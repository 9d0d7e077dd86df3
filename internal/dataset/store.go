package dataset

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/brownsville-complaints/internal/merge"
	"github.com/brownsville-complaints/internal/source"
)

// Rejection is one record the pipeline could not confidently process.
type Rejection struct {
	Source source.ID `json:"source"`
	RawKey string    `json:"raw_key"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Store keeps a queryable copy of the latest merged dataset and the
// rejected records in sqlite, for the review API. It shares the
// identity store's database file.
type Store struct {
	conn *sql.DB
}

// NewStore prepares the dataset tables on an open connection.
func NewStore(conn *sql.DB) (*Store, error) {
	schema := `
CREATE TABLE IF NOT EXISTS merged_complaint (
  building_id TEXT NOT NULL,
  major_category TEXT NOT NULL,
  minor_category TEXT NOT NULL DEFAULT '',
  first_reported TEXT NOT NULL,
  last_reported TEXT NOT NULL,
  report_count INTEGER NOT NULL,
  sources TEXT NOT NULL,
  PRIMARY KEY (building_id, major_category, minor_category)
);
CREATE INDEX IF NOT EXISTS idx_merged_building ON merged_complaint(building_id);

CREATE TABLE IF NOT EXISTS rejected_record (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_at TEXT NOT NULL,
  src TEXT NOT NULL,
  raw_key TEXT NOT NULL,
  reason TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_summary (
  run_at TEXT NOT NULL,
  src TEXT NOT NULL,
  processed INTEGER NOT NULL,
  merged INTEGER NOT NULL DEFAULT 0,
  rejected INTEGER NOT NULL,
  PRIMARY KEY (run_at, src)
);
`
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("init dataset schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// SourceStat is one source's per-run record accounting. Merged counts
// the output rows this source contributed reports to.
type SourceStat struct {
	Source    source.ID `json:"source"`
	Processed int       `json:"processed"`
	Merged    int       `json:"merged"`
	Rejected  int       `json:"rejected"`
}

// ReplaceAll swaps the stored dataset for the new run's output in one
// transaction; the previous copy stays queryable until commit.
func (s *Store) ReplaceAll(runAt time.Time, complaints []merge.MergedComplaint, rejected []Rejection, stats []SourceStat) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"merged_complaint", "rejected_record", "run_summary"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return err
		}
	}

	insComplaint, err := tx.Prepare(`
		INSERT INTO merged_complaint
		  (building_id, major_category, minor_category, first_reported, last_reported, report_count, sources)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insComplaint.Close()

	for _, c := range complaints {
		if _, err := insComplaint.Exec(
			c.BuildingID, c.MajorCategory, c.MinorCategory,
			c.FirstReportedDate.Format(dateLayout),
			c.LastReportedDate.Format(dateLayout),
			c.ReportCount, joinSources(c.Sources),
		); err != nil {
			return fmt.Errorf("store complaint %s/%s: %w", c.BuildingID, c.MajorCategory, err)
		}
	}

	runStamp := runAt.UTC().Format(time.RFC3339)
	for _, r := range rejected {
		if _, err := tx.Exec(`
			INSERT INTO rejected_record (run_at, src, raw_key, reason) VALUES (?, ?, ?, ?)`,
			runStamp, string(r.Source), r.RawKey, r.Reason); err != nil {
			return err
		}
	}

	for _, st := range stats {
		if _, err := tx.Exec(`
			INSERT INTO run_summary (run_at, src, processed, merged, rejected) VALUES (?, ?, ?, ?, ?)`,
			runStamp, string(st.Source), st.Processed, st.Merged, st.Rejected); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ComplaintRow is a stored merged complaint as the review API serves it.
type ComplaintRow struct {
	BuildingID    string `json:"building_id"`
	MajorCategory string `json:"major_category"`
	MinorCategory string `json:"minor_category"`
	FirstReported string `json:"first_reported"`
	LastReported  string `json:"last_reported"`
	ReportCount   int    `json:"report_count"`
	Sources       string `json:"sources"`
}

// BuildingRow aggregates one building's stored complaint history.
type BuildingRow struct {
	BuildingID string `json:"building_id"`
	Complaints int    `json:"complaints"`
	Reports    int    `json:"reports"`
}

// ListBuildings returns building ids with their total report counts,
// busiest first.
func (s *Store) ListBuildings(limit int) ([]BuildingRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.Query(`
		SELECT building_id, COUNT(*), SUM(report_count)
		FROM merged_complaint
		GROUP BY building_id
		ORDER BY SUM(report_count) DESC, building_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BuildingRow
	for rows.Next() {
		var row BuildingRow
		if err := rows.Scan(&row.BuildingID, &row.Complaints, &row.Reports); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListComplaints returns the merged complaints for one building in the
// dataset's canonical order.
func (s *Store) ListComplaints(buildingID string) ([]ComplaintRow, error) {
	rows, err := s.conn.Query(`
		SELECT building_id, major_category, minor_category,
		       first_reported, last_reported, report_count, sources
		FROM merged_complaint
		WHERE building_id = ?
		ORDER BY major_category, minor_category`, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ComplaintRow
	for rows.Next() {
		var c ComplaintRow
		if err := rows.Scan(&c.BuildingID, &c.MajorCategory, &c.MinorCategory,
			&c.FirstReported, &c.LastReported, &c.ReportCount, &c.Sources); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListRejected returns the run's rejected records for manual review.
func (s *Store) ListRejected(limit int) ([]Rejection, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.conn.Query(`
		SELECT run_at, src, raw_key, reason FROM rejected_record ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rejection
	for rows.Next() {
		var r Rejection
		var stamp string
		if err := rows.Scan(&stamp, &r.Source, &r.RawKey, &r.Reason); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, stamp); err == nil {
			r.At = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary returns the latest run's per-source accounting.
func (s *Store) Summary() ([]SourceStat, error) {
	rows, err := s.conn.Query(`SELECT src, processed, merged, rejected FROM run_summary ORDER BY src`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceStat
	for rows.Next() {
		var st SourceStat
		if err := rows.Scan(&st.Source, &st.Processed, &st.Merged, &st.Rejected); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func joinSources(ids []source.ID) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ";"
		}
		out += string(id)
	}
	return out
}
