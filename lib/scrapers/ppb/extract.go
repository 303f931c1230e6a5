package ppb

import (
	"regexp"
	"sort"
	"strings"

	"ppbverify-backend/lib/htmlutil"
)

// The portal renders the same record in structurally different shapes
// depending on its own state, so extraction runs an ordered list of
// tiers over the raw body. Earlier tiers are more trustworthy: a field
// an earlier tier recovered is never overwritten by a later one, later
// tiers only fill gaps. The first tier that completes the register's
// mandatory set short-circuits the chain.
type extractTier struct {
	name     string
	patterns map[string]*regexp.Regexp
	// narrows the body before field matching, nil scans the whole body
	section *regexp.Regexp
}

func (t extractTier) run(body string) map[string]string {
	if t.section != nil {
		m := t.section.FindString(body)
		if m == "" {
			return nil
		}
		body = m
	}
	fields := map[string]string{}
	for name, re := range t.patterns {
		groups := re.FindStringSubmatch(body)
		if groups == nil {
			continue
		}
		value := cleanValue(groups[1])
		if value != "" {
			fields[name] = value
		}
	}
	return fields
}

func cleanValue(s string) string {
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	return htmlutil.CollapseWhitespace(s)
}

var facilityTiers = []extractTier{
	{
		name: "exact-markup",
		patterns: map[string]*regexp.Regexp{
			"facility_name":       regexp.MustCompile(`(?i)<b style="font-size:20px;">\s*([^<]+)\s*</b>`),
			"registration_number": regexp.MustCompile(`(?i)Facility Registration Number:\s*([^<]+)`),
			"license_number":      regexp.MustCompile(`(?i)License Number:\s*([^<]+)`),
			"ownership":           regexp.MustCompile(`(?i)Ownership\s*:\s*([^<]+)`),
			"license_type":        regexp.MustCompile(`(?i)License Type:\s*([^<]+)`),
			"establishment_year":  regexp.MustCompile(`(?i)Establishment Year\s*:\s*([^<]+)`),
			"street":              regexp.MustCompile(`(?i)Street:\s*([^<]+)`),
			"county":              regexp.MustCompile(`(?i)County\s*:\s*([^<]+)`),
			"license_status":      regexp.MustCompile(`(?i)Licence Status:\s*([A-Z]+)`),
			"valid_till":          regexp.MustCompile(`(?i)Valid Till:\s*([\d-]+)`),
		},
	},
	{
		name: "labels-anywhere",
		patterns: map[string]*regexp.Regexp{
			"facility_name":       regexp.MustCompile(`(?i)<b[^>]*>\s*([^<]{3,}?)\s*</b>`),
			"registration_number": regexp.MustCompile(`(?i)Facility Registration Number\s*:?\s*([^\n<]+)`),
			"license_number":      regexp.MustCompile(`(?i)License Number\s*:?\s*([^\n<]+)`),
			"ownership":           regexp.MustCompile(`(?i)Ownership\s*:?\s*([^\n<]+)`),
			"license_type":        regexp.MustCompile(`(?i)License Type\s*:?\s*([^\n<]+)`),
			"establishment_year":  regexp.MustCompile(`(?i)Establishment Year\s*:?\s*([^\n<]+)`),
			"street":              regexp.MustCompile(`(?i)Street\s*:?\s*([^\n<]+)`),
			"county":              regexp.MustCompile(`(?i)County\s*:?\s*([^\n<]+)`),
			"license_status":      regexp.MustCompile(`(?i)Licen[cs]e Status\s*:?\s*([A-Za-z]+)`),
			"valid_till":          regexp.MustCompile(`(?i)Valid Till\s*:?\s*([\d/-]+)`),
		},
	},
	{
		name:    "sectional",
		section: regexp.MustCompile(`(?is)Facility[\s\S]*`),
		patterns: map[string]*regexp.Regexp{
			"facility_name":       regexp.MustCompile(`(?i)Facility Name\s*:?\s*([^\n<]+)`),
			"registration_number": regexp.MustCompile(`(?i)Registration Number\s*:?\s*([^\n<]+)`),
			"license_number":      regexp.MustCompile(`(?i)License Number\s*:?\s*([^\n<]+)`),
			"license_status":      regexp.MustCompile(`(?i)Status\s*:?\s*([A-Za-z]+)`),
			"valid_till":          regexp.MustCompile(`(?i)Valid Till\s*:?\s*([\d/-]+)`),
		},
	},
}

var individualTiers = []extractTier{
	{
		name: "exact-markup",
		patterns: map[string]*regexp.Regexp{
			"full_name":      regexp.MustCompile(`(?i)<b style="font-size:30px;">\s*([^<]+)\s*</b>`),
			"license_number": regexp.MustCompile(`(?i)Practice License Number:\s*([^<]+)`),
			"status":         regexp.MustCompile(`(?i)Status:\s*([^<]+)</span>`),
			"valid_till":     regexp.MustCompile(`(?i)Valid Till:\s*([\d-]+)`),
			"photo_url":      regexp.MustCompile(`(?i)<img src="([^"]+)"\s+width="200"`),
		},
	},
	{
		name: "labels-anywhere",
		patterns: map[string]*regexp.Regexp{
			"full_name":      regexp.MustCompile(`(?i)<b[^>]*>\s*([^<]{3,}?)\s*</b>`),
			"license_number": regexp.MustCompile(`(?i)Practice License Number\s*:?\s*([^\n<]+)`),
			"status":         regexp.MustCompile(`(?i)\bStatus\s*:\s*([A-Za-z][A-Za-z ]*)`),
			"valid_till":     regexp.MustCompile(`(?i)Valid Till\s*:?\s*([\d/-]+)`),
			"photo_url":      regexp.MustCompile(`(?i)<img src="([^"]+)"`),
		},
	},
	{
		name:    "sectional",
		section: regexp.MustCompile(`(?is)(?:Practice License Number|Status\s*:)[\s\S]*`),
		patterns: map[string]*regexp.Regexp{
			"full_name":      regexp.MustCompile(`(?i)Name\s*:\s*([^\n<]+)`),
			"license_number": regexp.MustCompile(`(?i)License Number\s*:?\s*([^\n<]+)`),
			"status":         regexp.MustCompile(`(?i)\bStatus\s*:\s*([A-Za-z][A-Za-z ]*)`),
			"valid_till":     regexp.MustCompile(`(?i)Valid Till\s*:?\s*([\d/-]+)`),
		},
	},
}

// superintendent sub-record, hidden in an HTML comment of the facility
// modal, with its own three-tier matcher. Its absence never fails the
// facility extraction.
var (
	superintendentExact = regexp.MustCompile(
		`(?is)<!--\s*<a class="list-group-item text-boldest"\s*>\s*Superintendent\s*:\s*([^<]+?)\s*<br\s*/?>\s*Cadre:\s*([^<]+?)\s*<br\s*/?>\s*(?:Enrollment Number|Registration Number):\s*([^<]+?)\s*</a>\s*-->`)
	superintendentLoose = regexp.MustCompile(
		`(?i)Superintendent\s*:\s*([^\n<]+)[\s\S]{0,200}?Cadre:\s*([^\n<]+)[\s\S]{0,200}?(?:Enrollment Number|Registration Number):\s*([^\n<]+)`)
	superintendentName       = regexp.MustCompile(`(?i)Superintendent\s*:\s*([^\n<]+)`)
	superintendentCadre      = regexp.MustCompile(`(?i)Cadre:\s*([^\n<]+)`)
	superintendentEnrollment = regexp.MustCompile(`(?i)(?:Enrollment Number|Registration Number):\s*([^\n<]+)`)
)

func extractSuperintendent(body string) *Superintendent {
	if m := superintendentExact.FindStringSubmatch(body); m != nil {
		return &Superintendent{
			Name:             cleanValue(m[1]),
			Cadre:            cleanValue(m[2]),
			EnrollmentNumber: cleanValue(m[3]),
		}
	}

	if m := superintendentLoose.FindStringSubmatch(body); m != nil {
		return &Superintendent{
			Name:             cleanValue(m[1]),
			Cadre:            cleanValue(m[2]),
			EnrollmentNumber: cleanValue(m[3]),
		}
	}

	// last resort: inspect each markup comment on its own, field order
	// inside the comment no longer matters
	for _, comment := range htmlutil.Comments(body) {
		name := superintendentName.FindStringSubmatch(comment)
		if name == nil {
			continue
		}
		sup := &Superintendent{Name: cleanValue(name[1])}
		if m := superintendentCadre.FindStringSubmatch(comment); m != nil {
			sup.Cadre = cleanValue(m[1])
		}
		if m := superintendentEnrollment.FindStringSubmatch(comment); m != nil {
			sup.EnrollmentNumber = cleanValue(m[1])
		}
		return sup
	}
	return nil
}

// Extract converts a Step-2 body into a Record through the register's
// tier chain. No tier matching anything is an UpstreamFormatError, a
// partial mandatory set is an IncompleteDataError.
func Extract(register Register, identifier, body string) (Record, error) {
	tiers := facilityTiers
	if register.Individual {
		tiers = individualTiers
	}

	acc := map[string]string{}
	for _, tier := range tiers {
		for name, value := range tier.run(body) {
			if _, ok := acc[name]; !ok {
				acc[name] = value
			}
		}
		if hasAll(acc, register.Mandatory) {
			break
		}
	}

	if len(acc) == 0 {
		return Record{}, &UpstreamFormatError{
			Identifier: identifier,
			Step:       StepExtract,
			Reason:     "no extraction tier matched the details body",
		}
	}
	if !hasAll(acc, register.Mandatory) {
		return Record{}, &IncompleteDataError{
			Identifier: identifier,
			Recovered:  sortedKeys(acc),
			Missing:    missingFrom(acc, register.Mandatory),
		}
	}

	record := buildRecord(acc)
	if !register.Individual {
		record.Superintendent = extractSuperintendent(body)
	}
	return record, nil
}

func buildRecord(fields map[string]string) Record {
	record := Record{
		FacilityName:       fields["facility_name"],
		RegistrationNumber: fields["registration_number"],
		Ownership:          fields["ownership"],
		LicenseType:        fields["license_type"],
		EstablishmentYear:  fields["establishment_year"],
		Street:             fields["street"],
		County:             fields["county"],
		FullName:           fields["full_name"],
		PhotoURL:           fields["photo_url"],
		LicenseNumber:      fields["license_number"],
	}
	if status, ok := fields["license_status"]; ok {
		record.Status = status
	} else {
		record.Status = fields["status"]
	}
	if raw, ok := fields["valid_till"]; ok {
		normalized, ok := NormalizeDate(raw)
		record.ValidTill = normalized
		record.ValidTillRaw = !ok
	}
	return record
}

func hasAll(fields map[string]string, names []string) bool {
	for _, name := range names {
		if _, ok := fields[name]; !ok {
			return false
		}
	}
	return true
}

func missingFrom(fields map[string]string, names []string) []string {
	var missing []string
	for _, name := range names {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func sortedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for name := range fields {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}
