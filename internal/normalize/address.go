package normalize

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// ErrIncompleteAddress is returned when the house number or street name
// is empty after cleaning. Records carrying such addresses cannot be
// keyed and must be rejected by the caller.
var ErrIncompleteAddress = errors.New("incomplete address: missing house number or street name")

// Address is the canonical, comparable form of a free-text NYC address.
// Two addresses refer to the same key iff all four fields are equal.
type Address struct {
	HouseNumber string
	Street      string
	Zip         string
	Borough     string
}

// AbbrevRules handles street abbreviation expansion
type AbbrevRules struct {
	rules []abbrevRule
}

type abbrevRule struct {
	re          *regexp.Regexp
	replacement string
}

// NewAbbrevRules creates the fixed NYC abbreviation rule set.
// Directionals first, then street-type suffixes.
func NewAbbrevRules() *AbbrevRules {
	pairs := []struct{ pattern, replacement string }{
		// Directionals
		{`\bN\b`, "NORTH"},
		{`\bS\b`, "SOUTH"},
		{`\bE\b`, "EAST"},
		{`\bW\b`, "WEST"},
		{`\bNO\b`, "NORTH"},
		{`\bSO\b`, "SOUTH"},
		// Street-type suffixes
		{`\bST\b`, "STREET"},
		{`\bSTR\b`, "STREET"},
		{`\bAVE\b`, "AVENUE"},
		{`\bAV\b`, "AVENUE"},
		{`\bBLVD\b`, "BOULEVARD"},
		{`\bBLV\b`, "BOULEVARD"},
		{`\bRD\b`, "ROAD"},
		{`\bDR\b`, "DRIVE"},
		{`\bLN\b`, "LANE"},
		{`\bPL\b`, "PLACE"},
		{`\bPLZ\b`, "PLAZA"},
		{`\bCT\b`, "COURT"},
		{`\bTER\b`, "TERRACE"},
		{`\bTERR\b`, "TERRACE"},
		{`\bPKWY\b`, "PARKWAY"},
		{`\bPKY\b`, "PARKWAY"},
		{`\bEXPY\b`, "EXPRESSWAY"},
		{`\bEXPWY\b`, "EXPRESSWAY"},
		{`\bHWY\b`, "HIGHWAY"},
		{`\bSQ\b`, "SQUARE"},
		{`\bCIR\b`, "CIRCLE"},
		{`\bCRES\b`, "CRESCENT"},
		{`\bHTS\b`, "HEIGHTS"},
		{`\bGDNS\b`, "GARDENS"},
		{`\bBCH\b`, "BEACH"},
		{`\bBRG\b`, "BRIDGE"},
		{`\bWLK\b`, "WALK"},
	}

	rules := make([]abbrevRule, 0, len(pairs))
	for _, p := range pairs {
		rules = append(rules, abbrevRule{
			re:          regexp.MustCompile(p.pattern),
			replacement: p.replacement,
		})
	}
	return &AbbrevRules{rules: rules}
}

// Expand applies abbreviation rules to text
func (ar *AbbrevRules) Expand(text string) string {
	result := text
	for _, rule := range ar.rules {
		result = rule.re.ReplaceAllString(result, rule.replacement)
	}
	return result
}

var defaultRules = NewAbbrevRules()

// Ordinal suffixes on numeric street tokens: 98TH, 3RD, 2ND, 1ST.
var reOrdinal = regexp.MustCompile(`\b(\d+)(?:ST|ND|RD|TH)\b`)

// Zip codes are five digits, optionally ZIP+4.
var reZip = regexp.MustCompile(`^(\d{5})(?:-\d{4})?$`)

// Borough names keyed by canonical spelling, with common variants.
var boroughAliases = map[string]string{
	"BROOKLYN":      "BROOKLYN",
	"BK":            "BROOKLYN",
	"BKLYN":         "BROOKLYN",
	"KINGS":         "BROOKLYN",
	"MANHATTAN":     "MANHATTAN",
	"MN":            "MANHATTAN",
	"NEW YORK":      "MANHATTAN",
	"BRONX":         "BRONX",
	"THE BRONX":     "BRONX",
	"BX":            "BRONX",
	"QUEENS":        "QUEENS",
	"QN":            "QUEENS",
	"QNS":           "QUEENS",
	"STATEN ISLAND": "STATEN ISLAND",
	"SI":            "STATEN ISLAND",
	"RICHMOND":      "STATEN ISLAND",
}

// Normalize canonicalizes raw address fields into a comparable Address.
// Pure and deterministic: identical inputs always produce identical keys.
func Normalize(houseNumber, street, zip, borough string) (Address, error) {
	house := cleanToken(houseNumber)
	streetCan := canonicalStreet(street)

	if house == "" || streetCan == "" {
		return Address{}, ErrIncompleteAddress
	}

	zipCan := ""
	if m := reZip.FindStringSubmatch(strings.TrimSpace(zip)); m != nil {
		zipCan = m[1]
	}

	boroughCan := canonicalBorough(borough)
	if boroughCan == "" && zipCan != "" {
		boroughCan = BoroughFromZip(zipCan)
	}

	return Address{
		HouseNumber: house,
		Street:      streetCan,
		Zip:         zipCan,
		Borough:     boroughCan,
	}, nil
}

// A leading ST before a name word is SAINT (ST MARKS AVENUE), not STREET.
var reLeadingSaint = regexp.MustCompile(`^ST ([A-Z])`)

// canonicalStreet uppercases, strips punctuation, expands abbreviations
// and drops ordinal suffixes from numeric tokens.
func canonicalStreet(raw string) string {
	s := cleanToken(raw)
	if s == "" {
		return ""
	}
	s = reLeadingSaint.ReplaceAllString(s, "SAINT $1")
	s = defaultRules.Expand(s)
	s = reOrdinal.ReplaceAllString(s, "$1")
	return strings.Join(strings.Fields(s), " ")
}

// cleanToken uppercases, trims and replaces punctuation with spaces.
func cleanToken(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	b := strings.Builder{}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func canonicalBorough(raw string) string {
	s := cleanToken(raw)
	if s == "" {
		return ""
	}
	if canonical, ok := boroughAliases[s]; ok {
		return canonical
	}
	return s
}

// BoroughFromZip infers the borough from the NYC zip code ranges.
// Returns "" for zips outside the city.
func BoroughFromZip(zip string) string {
	if len(zip) != 5 {
		return ""
	}
	prefix := zip[:3]
	switch prefix {
	case "100", "101", "102":
		return "MANHATTAN"
	case "103":
		return "STATEN ISLAND"
	case "104":
		return "BRONX"
	case "110", "111", "113", "114", "116":
		return "QUEENS"
	case "112":
		return "BROOKLYN"
	}
	return ""
}

// Key returns the canonical lookup key for the address. The key format
// is stable across runs; the identity cache is keyed on it.
func (a Address) Key() string {
	return strings.Join([]string{a.HouseNumber, a.Street, a.Borough, a.Zip}, "|")
}

// Hash returns a short stable digest of the address key, used as the
// canonical building id when no parcel identifier is known.
func (a Address) Hash() string {
	sum := sha1.Sum([]byte(a.Key()))
	return hex.EncodeToString(sum[:8])
}

// Display renders the address in a single human-readable line.
func (a Address) Display() string {
	parts := []string{a.HouseNumber + " " + a.Street}
	if a.Borough != "" {
		parts = append(parts, a.Borough)
	}
	if a.Zip != "" {
		parts = append(parts, a.Zip)
	}
	return strings.Join(parts, ", ")
}
