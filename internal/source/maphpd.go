package source

import (
	"context"

	"github.com/brownsville-complaints/internal/identity"
)

// MapperComplaintProblems adapts rows from the housing-agency complaint
// problems feed (HPD maintenance complaints joined with their problem
// detail rows, as the upstream extract delivers them).
//
// Relevant columns: complaintid, buildingid, housenumber, streetname,
// zip, borough, apartment, majorcategory, minorcategory, status,
// receiveddate, statusdate.
type MapperComplaintProblems struct {
	resolver Resolver
}

func (m *MapperComplaintProblems) Source() ID { return SourceComplaintProblems }

var closedStatuses = map[string]bool{
	"CLOSE":  true,
	"CLOSED": true,
}

func (m *MapperComplaintProblems) Map(ctx context.Context, raw RawRecord) (*IntermediateRecord, error) {
	major, err := requireField(raw, "majorcategory")
	if err != nil {
		return nil, err
	}
	status, err := requireField(raw, "status")
	if err != nil {
		return nil, err
	}
	created, err := parseDate("receiveddate", raw.Field("receiveddate"))
	if err != nil {
		return nil, err
	}
	statusDate, err := parseOptionalDate("statusdate", raw.Field("statusdate"))
	if err != nil {
		return nil, err
	}

	building, err := m.resolver.Resolve(ctx, identity.AddressFields{
		HouseNumber: raw.Field("housenumber"),
		Street:      raw.Field("streetname"),
		Zip:         raw.Field("zip"),
		Borough:     raw.Field("borough"),
	}, taggedParcel("HPD", raw.Field("buildingid")))
	if err != nil {
		return nil, err
	}

	rec := &IntermediateRecord{
		Source:        SourceComplaintProblems,
		Building:      building,
		MajorCategory: canonicalCategory(major),
		MinorCategory: canonicalCategory(raw.Field("minorcategory")),
		Status:        canonicalCategory(status),
		CreatedDate:   created,
		RawKey:        raw.Field("complaintid"),
	}
	// statusdate only closes the complaint when the status says so; an
	// OPEN status update date is not a closure.
	if closedStatuses[rec.Status] {
		rec.ClosedDate = statusDate
	}
	return rec, nil
}
