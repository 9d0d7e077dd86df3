package source

import (
	"context"
	"strings"

	"github.com/brownsville-complaints/internal/identity"
)

// Mapper311 adapts rows from the citywide 311 service-request feed.
//
// Relevant columns: unique_key, created_date, closed_date,
// complaint_type, descriptor, status, incident_address, street_name,
// incident_zip, borough, bbl.
type Mapper311 struct {
	resolver Resolver
}

func (m *Mapper311) Source() ID { return Source311 }

func (m *Mapper311) Map(ctx context.Context, raw RawRecord) (*IntermediateRecord, error) {
	major, err := requireField(raw, "complaint_type")
	if err != nil {
		return nil, err
	}
	status, err := requireField(raw, "status")
	if err != nil {
		return nil, err
	}
	created, err := parseDate("created_date", raw.Field("created_date"))
	if err != nil {
		return nil, err
	}
	closed, err := parseOptionalDate("closed_date", raw.Field("closed_date"))
	if err != nil {
		return nil, err
	}

	house, street := split311Address(raw.Field("incident_address"), raw.Field("street_name"))
	building, err := m.resolver.Resolve(ctx, identity.AddressFields{
		HouseNumber: house,
		Street:      street,
		Zip:         raw.Field("incident_zip"),
		Borough:     raw.Field("borough"),
	}, taggedParcel("BBL", raw.Field("bbl")))
	if err != nil {
		return nil, err
	}

	return &IntermediateRecord{
		Source:        Source311,
		Building:      building,
		MajorCategory: canonicalCategory(major),
		MinorCategory: canonicalCategory(raw.Field("descriptor")),
		Status:        canonicalCategory(status),
		CreatedDate:   created,
		ClosedDate:    closed,
		RawKey:        raw.Field("unique_key"),
	}, nil
}

// split311Address takes 311's combined incident_address ("89-14 RUTLAND
// ROAD") apart. When the feed also carries street_name, the house
// number is whatever precedes it; otherwise the first token is taken as
// the house number.
func split311Address(incidentAddress, streetName string) (house, street string) {
	incidentAddress = strings.TrimSpace(incidentAddress)
	streetName = strings.TrimSpace(streetName)

	if streetName != "" {
		upper := strings.ToUpper(incidentAddress)
		if idx := strings.Index(upper, strings.ToUpper(streetName)); idx >= 0 {
			return strings.TrimSpace(incidentAddress[:idx]), streetName
		}
		// Street name not embedded in the combined field; fall back to
		// the leading token.
		parts := strings.SplitN(incidentAddress, " ", 2)
		return parts[0], streetName
	}

	parts := strings.SplitN(incidentAddress, " ", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return incidentAddress, ""
}
