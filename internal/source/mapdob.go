package source

import (
	"context"

	"github.com/brownsville-complaints/internal/identity"
)

// MapperDOB adapts rows from the buildings-department complaint feed.
//
// Relevant columns: complaint_number, complaint_category, status,
// date_entered, disposition_date, house_number, house_street, zip_code,
// bin. DOB complaints carry a category code but no sub-category, so
// MinorCategory is always empty for this source.
type MapperDOB struct {
	resolver Resolver
}

func (m *MapperDOB) Source() ID { return SourceDOB }

func (m *MapperDOB) Map(ctx context.Context, raw RawRecord) (*IntermediateRecord, error) {
	major, err := requireField(raw, "complaint_category")
	if err != nil {
		return nil, err
	}
	status, err := requireField(raw, "status")
	if err != nil {
		return nil, err
	}
	created, err := parseDate("date_entered", raw.Field("date_entered"))
	if err != nil {
		return nil, err
	}
	closed, err := parseOptionalDate("disposition_date", raw.Field("disposition_date"))
	if err != nil {
		return nil, err
	}

	building, err := m.resolver.Resolve(ctx, identity.AddressFields{
		HouseNumber: raw.Field("house_number"),
		Street:      raw.Field("house_street"),
		Zip:         raw.Field("zip_code"),
		Borough:     raw.Field("borough"),
	}, taggedParcel("BIN", raw.Field("bin")))
	if err != nil {
		return nil, err
	}

	return &IntermediateRecord{
		Source:        SourceDOB,
		Building:      building,
		MajorCategory: canonicalCategory(major),
		Status:        canonicalCategory(status),
		CreatedDate:   created,
		ClosedDate:    closed,
		RawKey:        raw.Field("complaint_number"),
	}, nil
}
