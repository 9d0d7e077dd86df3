package web

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/brownsville-complaints/internal/dataset"
	"github.com/brownsville-complaints/internal/merge"
	"github.com/brownsville-complaints/internal/source"
)

func seededServer(t *testing.T) *Server {
	t.Helper()
	conn, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "dataset.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	store, err := dataset.NewStore(conn)
	if err != nil {
		t.Fatal(err)
	}

	runAt := time.Date(2021, 4, 1, 12, 0, 0, 0, time.UTC)
	complaints := []merge.MergedComplaint{
		{
			BuildingID:        "3037156",
			MajorCategory:     "HEATING",
			MinorCategory:     "ENTIRE BUILDING",
			FirstReportedDate: time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC),
			LastReportedDate:  time.Date(2021, 3, 14, 0, 0, 0, 0, time.UTC),
			ReportCount:       4,
			Sources:           []source.ID{source.Source311},
		},
	}
	rejected := []dataset.Rejection{
		{Source: source.SourceDOB, RawKey: "42", Reason: "unresolvable address", At: runAt},
	}
	stats := []dataset.SourceStat{
		{Source: source.Source311, Processed: 4, Merged: 1, Rejected: 0},
		{Source: source.SourceDOB, Processed: 0, Merged: 0, Rejected: 1},
	}
	if err := store.ReplaceAll(runAt, complaints, rejected, stats); err != nil {
		t.Fatal(err)
	}

	return NewServer("127.0.0.1:0", store)
}

func get(t *testing.T, srv *Server, path string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body map[string]json.RawMessage
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: invalid JSON: %v", path, err)
		}
	}
	return rec, body
}

func TestListBuildings(t *testing.T) {
	srv := seededServer(t)

	rec, body := get(t, srv, "/api/buildings")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var buildings []dataset.BuildingRow
	if err := json.Unmarshal(body["buildings"], &buildings); err != nil {
		t.Fatal(err)
	}
	if len(buildings) != 1 || buildings[0].BuildingID != "3037156" || buildings[0].Reports != 4 {
		t.Errorf("buildings = %+v", buildings)
	}
}

func TestListComplaints(t *testing.T) {
	srv := seededServer(t)

	rec, body := get(t, srv, "/api/buildings/3037156/complaints")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var complaints []dataset.ComplaintRow
	if err := json.Unmarshal(body["complaints"], &complaints); err != nil {
		t.Fatal(err)
	}
	if len(complaints) != 1 || complaints[0].MajorCategory != "HEATING" {
		t.Errorf("complaints = %+v", complaints)
	}
}

func TestListComplaintsUnknownBuilding(t *testing.T) {
	srv := seededServer(t)

	rec, _ := get(t, srv, "/api/buildings/nope/complaints")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListRejected(t *testing.T) {
	srv := seededServer(t)

	rec, body := get(t, srv, "/api/rejected")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var rejected []dataset.Rejection
	if err := json.Unmarshal(body["rejected"], &rejected); err != nil {
		t.Fatal(err)
	}
	if len(rejected) != 1 || rejected[0].RawKey != "42" {
		t.Errorf("rejected = %+v", rejected)
	}
}

func TestGetSummary(t *testing.T) {
	srv := seededServer(t)

	rec, body := get(t, srv, "/api/summary")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats []dataset.SourceStat
	if err := json.Unmarshal(body["sources"], &stats); err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Fatalf("summary = %+v", stats)
	}
	if stats[0].Source != source.Source311 || stats[0].Merged != 1 {
		t.Errorf("311 summary = %+v", stats[0])
	}
}

func TestHealth(t *testing.T) {
	srv := seededServer(t)

	rec, _ := get(t, srv, "/api/health")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
