package ppb

import (
	"regexp"
	"strings"
)

// Kind identifies a license register on the portal. The same two-step
// workflow is replicated per register with different payloads, formats
// and mandatory fields.
type Kind string

const (
	KindFacilities  Kind = "facilities"
	KindPharmacists Kind = "pharmacists"
	KindPharmtechs  Kind = "pharmtechs"
)

// Register describes how one license category talks to the portal.
type Register struct {
	Kind Kind

	// value of the ?register= query on the portal's status page, used
	// in the Referer header of both steps
	PortalTag string

	// identifier format, nil accepts any non-empty identifier
	// (facility numbers are free-form, e.g. PPB/C/9222)
	Format *regexp.Regexp
	// shown to callers on format errors
	FormatHint string

	// cadre selector of the POST search, empty for registers searched
	// via the DataTables GET endpoint
	CadreID string

	// value of the search_details query in Step 2
	DetailsQuery string

	// individual registers return a single HTML row from Step 1 and
	// carry person-shaped records
	Individual bool

	// record fields extraction must recover for the result to count
	Mandatory []string
}

var (
	Facilities = Register{
		Kind:         KindFacilities,
		PortalTag:    "facilities",
		DetailsQuery: "facility",
		Mandatory:    []string{"facility_name", "license_number", "license_status"},
	}

	Pharmacists = Register{
		Kind:         KindPharmacists,
		PortalTag:    "pharmacist",
		Format:       regexp.MustCompile(`(?i)^P202[3-9][A-Z]\d{5}$`),
		FormatHint:   "PYYYYXNNNNN (e.g. P2025D00463)",
		CadreID:      "2",
		DetailsQuery: "get",
		Individual:   true,
		Mandatory:    []string{"full_name", "status"},
	}

	Pharmtechs = Register{
		Kind:         KindPharmtechs,
		PortalTag:    "pharmtech",
		Format:       regexp.MustCompile(`(?i)^PT202[3-9][A-Z]\d{5}$`),
		FormatHint:   "PTYYYYXNNNNN (e.g. PT2025D05614)",
		CadreID:      "4",
		DetailsQuery: "get",
		Individual:   true,
		Mandatory:    []string{"full_name", "status"},
	}
)

// ByName resolves a register from its kind name.
func ByName(name string) (Register, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(name))) {
	case KindFacilities:
		return Facilities, true
	case KindPharmacists:
		return Pharmacists, true
	case KindPharmtechs:
		return Pharmtechs, true
	}
	return Register{}, false
}

// NormalizeIdentifier trims and upcases an identifier so equivalent
// spellings collapse to one cache key.
func (r Register) NormalizeIdentifier(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ValidateIdentifier checks the register's format before any network
// or cache access.
func (r Register) ValidateIdentifier(id string) error {
	if id == "" {
		return &InvalidFormatError{Identifier: id, Register: r.Kind}
	}
	if r.Format != nil && !r.Format.MatchString(id) {
		return &InvalidFormatError{
			Identifier: id,
			Register:   r.Kind,
			Expected:   r.FormatHint,
		}
	}
	return nil
}
