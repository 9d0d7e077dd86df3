package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/brownsville-complaints/internal/dataset"
)

// Handler serves the review API endpoints.
type Handler struct {
	Store *dataset.Store
}

// ListBuildings returns buildings ordered by total report count.
func (h *Handler) ListBuildings(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	buildings, err := h.Store.ListBuildings(limit)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"count":     len(buildings),
		"buildings": buildings,
	})
}

// ListComplaints returns the merged complaint history for one building.
func (h *Handler) ListComplaints(w http.ResponseWriter, r *http.Request) {
	buildingID := mux.Vars(r)["id"]
	complaints, err := h.Store.ListComplaints(buildingID)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if len(complaints) == 0 {
		http.Error(w, "Building not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]interface{}{
		"building_id": buildingID,
		"complaints":  complaints,
	})
}

// ListRejected returns the latest run's rejected records for review.
func (h *Handler) ListRejected(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 500)
	rejected, err := h.Store.ListRejected(limit)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"count":    len(rejected),
		"rejected": rejected,
	})
}

// GetSummary returns the latest run's per-source accounting.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Store.Summary()
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"sources": summary})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Encoding error", http.StatusInternalServerError)
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
