package ppb

import (
	"time"

	"ppbverify-backend/lib/timezone"
)

// Superintendent is the supervising professional attached to a facility
// license. The portal hides it inside an HTML comment.
type Superintendent struct {
	Name             string `json:"name"`
	Cadre            string `json:"cadre"`
	EnrollmentNumber string `json:"enrollment_number"`
}

// Record is the structured result of a successful verification.
// Immutable once built, safe to share between cache readers.
// Facility and individual registers populate different subsets.
type Record struct {
	// facility registers
	FacilityName       string          `json:"facility_name,omitempty"`
	RegistrationNumber string          `json:"registration_number,omitempty"`
	Ownership          string          `json:"ownership,omitempty"`
	LicenseType        string          `json:"license_type,omitempty"`
	EstablishmentYear  string          `json:"establishment_year,omitempty"`
	Street             string          `json:"street,omitempty"`
	County             string          `json:"county,omitempty"`
	Superintendent     *Superintendent `json:"superintendent,omitempty"`

	// individual registers
	FullName string `json:"full_name,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`

	// shared
	LicenseNumber string `json:"license_number,omitempty"`
	Status        string `json:"status,omitempty"`
	ValidTill     string `json:"valid_till,omitempty"`
	// set when ValidTill could not be normalized to ISO and is kept
	// verbatim instead
	ValidTillRaw bool   `json:"valid_till_raw,omitempty"`
	VerifiedAt   string `json:"verified_at,omitempty"`
}

var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"2006/01/02",
	"2 January 2006",
	"Jan 2, 2006",
}

// NormalizeDate canonicalizes a portal date to ISO 2006-01-02. When the
// value doesn't parse it is returned verbatim with ok=false so callers
// can flag instead of drop it.
func NormalizeDate(raw string) (string, bool) {
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, raw, timezone.Location)
		if err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return raw, false
}
