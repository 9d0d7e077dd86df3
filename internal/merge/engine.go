package merge

import (
	"sort"
	"time"

	"github.com/brownsville-complaints/internal/source"
)

// Options control dedup policy. The defaults mirror the documented
// pipeline behavior; both knobs are configurable because the right
// tolerance is a policy choice, not a fact.
type Options struct {
	// Tolerance is the cross-source window: records from different
	// sources whose created dates fall within it are treated as the
	// same real-world incident.
	Tolerance time.Duration
	// MajorOnly collapses the complaint signature to the major
	// category alone.
	MajorOnly bool
}

// DefaultTolerance is three days.
const DefaultTolerance = 72 * time.Hour

// MergedComplaint is one output row: a building's complaint history for
// one complaint signature.
type MergedComplaint struct {
	BuildingID        string
	MajorCategory     string
	MinorCategory     string
	FirstReportedDate time.Time
	LastReportedDate  time.Time
	ReportCount       int
	Sources           []source.ID // sorted, unique
}

type groupKey struct {
	buildingID string
	major      string
	minor      string
}

// Merge groups intermediate records by canonical building identity and
// complaint signature, collapses cross-source duplicates inside the
// tolerance window, and emits one aggregated row per group, sorted by
// building id, major, minor. The second return value counts records
// that arrived without a resolved building; the mapping stage never
// produces such records, so the caller must treat a nonzero count as a
// programming error rather than data loss.
func Merge(records []source.IntermediateRecord, opts Options) ([]MergedComplaint, int) {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}

	unkeyed := 0
	groups := make(map[groupKey][]source.IntermediateRecord)
	for _, rec := range records {
		if rec.Building == nil {
			unkeyed++
			continue
		}
		key := groupKey{
			buildingID: rec.Building.CanonicalID,
			major:      rec.MajorCategory,
		}
		if !opts.MajorOnly {
			key.minor = rec.MinorCategory
		}
		groups[key] = append(groups[key], rec)
	}

	out := make([]MergedComplaint, 0, len(groups))
	for key, group := range groups {
		merged := mergeGroup(key, group, opts.Tolerance)
		if opts.MajorOnly {
			merged.MinorCategory = ""
		}
		out = append(out, merged)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].BuildingID != out[j].BuildingID {
			return out[i].BuildingID < out[j].BuildingID
		}
		if out[i].MajorCategory != out[j].MajorCategory {
			return out[i].MajorCategory < out[j].MajorCategory
		}
		return out[i].MinorCategory < out[j].MinorCategory
	})
	return out, unkeyed
}

// incident is one retained report and the cross-source records folded
// into it.
type incident struct {
	canonical source.IntermediateRecord
	sources   map[source.ID]bool
}

// mergeGroup dedups one (building, signature) group.
//
// Records are walked in deterministic order (created date, then source,
// then raw key). A record folds into an existing incident iff it comes
// from a different source than the incident's canonical record and its
// created date is within tolerance of the canonical date; the earliest
// record stays canonical. Same-source records always open their own
// incident.
func mergeGroup(key groupKey, group []source.IntermediateRecord, tolerance time.Duration) MergedComplaint {
	sort.Slice(group, func(i, j int) bool {
		if !group[i].CreatedDate.Equal(group[j].CreatedDate) {
			return group[i].CreatedDate.Before(group[j].CreatedDate)
		}
		if group[i].Source != group[j].Source {
			return group[i].Source < group[j].Source
		}
		return group[i].RawKey < group[j].RawKey
	})

	var incidents []*incident
	for _, rec := range group {
		folded := false
		for _, inc := range incidents {
			if inc.sources[rec.Source] {
				continue // never dedup within one source
			}
			gap := rec.CreatedDate.Sub(inc.canonical.CreatedDate)
			if gap < 0 {
				gap = -gap
			}
			if gap <= tolerance {
				inc.sources[rec.Source] = true
				folded = true
				break
			}
		}
		if !folded {
			incidents = append(incidents, &incident{
				canonical: rec,
				sources:   map[source.ID]bool{rec.Source: true},
			})
		}
	}

	merged := MergedComplaint{
		BuildingID:    key.buildingID,
		MajorCategory: key.major,
		MinorCategory: key.minor,
		ReportCount:   len(incidents),
	}

	seen := make(map[source.ID]bool)
	for i, inc := range incidents {
		created := inc.canonical.CreatedDate
		if i == 0 || created.Before(merged.FirstReportedDate) {
			merged.FirstReportedDate = created
		}
		if i == 0 || created.After(merged.LastReportedDate) {
			merged.LastReportedDate = created
		}
		for src := range inc.sources {
			seen[src] = true
		}
	}

	for src := range seen {
		merged.Sources = append(merged.Sources, src)
	}
	sort.Slice(merged.Sources, func(i, j int) bool {
		return merged.Sources[i] < merged.Sources[j]
	})

	return merged
}
