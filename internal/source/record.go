package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brownsville-complaints/internal/identity"
)

// ID names one of the three upstream complaint feeds.
type ID string

const (
	Source311               ID = "311"
	SourceComplaintProblems ID = "complaint-problems"
	SourceDOB               ID = "dob"
)

// ParseID validates a source name from config or CLI flags.
func ParseID(name string) (ID, error) {
	switch ID(strings.ToLower(strings.TrimSpace(name))) {
	case Source311:
		return Source311, nil
	case SourceComplaintProblems:
		return SourceComplaintProblems, nil
	case SourceDOB:
		return SourceDOB, nil
	}
	return "", fmt.Errorf("unknown source %q", name)
}

// RawRecord is one row from a feed: source identity plus the feed's own
// column names and values. Read once, then discarded.
type RawRecord struct {
	Source ID
	Fields map[string]string
}

// Field returns a trimmed field value, "" when absent.
func (r RawRecord) Field(name string) string {
	return strings.TrimSpace(r.Fields[name])
}

// NaturalKey returns the feed's own row identifier, used to reference
// the row in the rejected-records log even when mapping fails.
func (r RawRecord) NaturalKey() string {
	switch r.Source {
	case Source311:
		return r.Field("unique_key")
	case SourceComplaintProblems:
		return r.Field("complaintid")
	case SourceDOB:
		return r.Field("complaint_number")
	}
	return ""
}

// IntermediateRecord is the common record shape every mapper produces.
type IntermediateRecord struct {
	Source        ID
	Building      *identity.Building
	MajorCategory string
	MinorCategory string
	Status        string
	CreatedDate   time.Time
	ClosedDate    time.Time // zero when the complaint is still open
	RawKey        string    // source natural key, used for dedup tie-breaks
}

// MappingError reports a raw record that cannot be mapped because a
// field required by the common schema is absent. Such records are
// rejected, never defaulted: silent defaults would corrupt counts.
type MappingError struct {
	Field string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// Resolver is the slice of the identity resolver the mappers need.
type Resolver interface {
	Resolve(ctx context.Context, fields identity.AddressFields, parcelHint string) (*identity.Building, error)
}

// Mapper translates one feed's rows into IntermediateRecords.
type Mapper interface {
	Source() ID
	Map(ctx context.Context, raw RawRecord) (*IntermediateRecord, error)
}

// NewMapper returns the adapter for the given feed.
func NewMapper(src ID, resolver Resolver) (Mapper, error) {
	switch src {
	case Source311:
		return &Mapper311{resolver: resolver}, nil
	case SourceComplaintProblems:
		return &MapperComplaintProblems{resolver: resolver}, nil
	case SourceDOB:
		return &MapperDOB{resolver: resolver}, nil
	}
	return nil, fmt.Errorf("no mapper for source %q", src)
}

// Feeds carry dates in a handful of shapes: Socrata floating timestamps,
// plain dates, and US-style exports.
var dateLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006",
	"01/02/2006 03:04:05 PM",
}

func parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, &MappingError{Field: field}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("field %q: unparseable date %q", field, value)
}

// parseOptionalDate tolerates empty values; malformed non-empty values
// are still errors.
func parseOptionalDate(field, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	return parseDate(field, value)
}

// canonicalCategory uppercases and collapses whitespace in free-text
// category and status values.
func canonicalCategory(value string) string {
	return strings.Join(strings.Fields(strings.ToUpper(value)), " ")
}

// taggedParcel namespaces a parcel hint with its id system (BBL, BIN,
// HPD building id), since the feeds' identifiers are unrelated and must
// never be compared across namespaces.
func taggedParcel(namespace, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return namespace + ":" + value
}

// requireField fetches a field that the common schema cannot do without.
func requireField(raw RawRecord, name string) (string, error) {
	v := raw.Field(name)
	if v == "" {
		return "", &MappingError{Field: name}
	}
	return v, nil
}
