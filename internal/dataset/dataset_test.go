package dataset

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/brownsville-complaints/internal/merge"
	"github.com/brownsville-complaints/internal/source"
)

func sampleComplaints() []merge.MergedComplaint {
	return []merge.MergedComplaint{
		{
			BuildingID:        "3037156",
			MajorCategory:     "HEATING",
			MinorCategory:     "ENTIRE BUILDING",
			FirstReportedDate: time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC),
			LastReportedDate:  time.Date(2021, 3, 14, 0, 0, 0, 0, time.UTC),
			ReportCount:       4,
			Sources:           []source.ID{source.Source311, source.SourceComplaintProblems},
		},
		{
			BuildingID:        "ADDR-9f2c1a0b44d1e2aa",
			MajorCategory:     "05",
			FirstReportedDate: time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
			LastReportedDate:  time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
			ReportCount:       1,
			Sources:           []source.ID{source.SourceDOB},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "brownsville.csv")

	if err := WriteCSV(path, sampleComplaints()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header + 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "building_id,") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "3037156,HEATING,ENTIRE BUILDING,2021-01-02,2021-03-14,4,311;complaint-problems") {
		t.Errorf("row = %q", lines[1])
	}

	// No temp file left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the dataset", len(entries))
	}
}

func TestWriteCSVReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brownsville.csv")
	if err := os.WriteFile(path, []byte("previous dataset\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := WriteCSV(path, sampleComplaints()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "previous dataset") {
		t.Error("previous dataset not replaced")
	}
}

func TestWriteCSVIdempotent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")

	if err := WriteCSV(a, sampleComplaints()); err != nil {
		t.Fatal(err)
	}
	if err := WriteCSV(b, sampleComplaints()); err != nil {
		t.Fatal(err)
	}

	da, _ := os.ReadFile(a)
	db, _ := os.ReadFile(b)
	if string(da) != string(db) {
		t.Error("identical input produced different bytes")
	}
}

func TestReadCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brownsville.csv")
	want := sampleComplaints()

	if err := WriteCSV(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("rows = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].BuildingID != want[i].BuildingID ||
			got[i].MajorCategory != want[i].MajorCategory ||
			got[i].ReportCount != want[i].ReportCount ||
			!got[i].FirstReportedDate.Equal(want[i].FirstReportedDate) ||
			len(got[i].Sources) != len(want[i].Sources) {
			t.Errorf("row %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReadCSVRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.csv")
	if err := os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadCSV(path); err == nil {
		t.Error("foreign CSV accepted as dataset")
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "dataset.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	store, err := NewStore(conn)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestStoreReplaceAndQuery(t *testing.T) {
	store := openTestStore(t)
	runAt := time.Date(2021, 4, 1, 12, 0, 0, 0, time.UTC)

	rejected := []Rejection{
		{Source: source.Source311, RawKey: "999", Reason: `missing required field "complaint_type"`, At: runAt},
	}
	stats := []SourceStat{
		{Source: source.Source311, Processed: 1, Merged: 1, Rejected: 1},
		{Source: source.SourceDOB, Processed: 1, Merged: 1, Rejected: 0},
	}

	if err := store.ReplaceAll(runAt, sampleComplaints(), rejected, stats); err != nil {
		t.Fatal(err)
	}

	buildings, err := store.ListBuildings(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(buildings) != 2 {
		t.Fatalf("buildings = %d, want 2", len(buildings))
	}
	if buildings[0].BuildingID != "3037156" || buildings[0].Reports != 4 {
		t.Errorf("busiest building = %+v", buildings[0])
	}

	complaints, err := store.ListComplaints("3037156")
	if err != nil {
		t.Fatal(err)
	}
	if len(complaints) != 1 || complaints[0].MajorCategory != "HEATING" {
		t.Errorf("complaints = %+v", complaints)
	}

	gotRejected, err := store.ListRejected(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(gotRejected) != 1 || gotRejected[0].RawKey != "999" {
		t.Errorf("rejected = %+v", gotRejected)
	}

	summary, err := store.Summary()
	if err != nil {
		t.Fatal(err)
	}
	if len(summary) != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary[0].Source != source.Source311 || summary[0].Merged != 1 || summary[0].Rejected != 1 {
		t.Errorf("311 summary = %+v", summary[0])
	}

	// A second run fully replaces the first.
	if err := store.ReplaceAll(runAt.Add(time.Hour), sampleComplaints()[:1], nil, stats[:1]); err != nil {
		t.Fatal(err)
	}
	buildings, err = store.ListBuildings(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(buildings) != 1 {
		t.Errorf("after replace: buildings = %d, want 1", len(buildings))
	}
	gotRejected, err = store.ListRejected(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(gotRejected) != 0 {
		t.Errorf("after replace: rejected = %d, want 0", len(gotRejected))
	}
}
