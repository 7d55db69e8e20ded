package progress

import (
	"regexp"
	"strings"

	"assessment-sync/internal/models"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

type institutionField struct {
	name  string
	value func(models.InstitutionData) string
}

var requiredInstitutionFields = []institutionField{
	{name: "name", value: func(d models.InstitutionData) string { return d.Name }},
	{name: "industry", value: func(d models.InstitutionData) string { return d.Industry }},
	{name: "organizationSize", value: func(d models.InstitutionData) string { return d.OrganizationSize }},
	{name: "country", value: func(d models.InstitutionData) string { return d.Country }},
	{name: "contactEmail", value: func(d models.InstitutionData) string { return d.ContactEmail }},
}

// ValidEmail checks the address shape only.
func ValidEmail(email string) bool {
	return emailRegex.MatchString(strings.TrimSpace(email))
}

// InstitutionMissing lists required institution fields that are empty or, for
// the contact email, malformed.
func InstitutionMissing(d models.InstitutionData) []string {
	var missing []string
	for _, f := range requiredInstitutionFields {
		v := strings.TrimSpace(f.value(d))
		if v == "" {
			missing = append(missing, "institution."+f.name)
			continue
		}
		if f.name == "contactEmail" && !ValidEmail(v) {
			missing = append(missing, "institution.contactEmail (invalid)")
		}
	}
	return missing
}

func InstitutionComplete(d models.InstitutionData) bool {
	return len(InstitutionMissing(d)) == 0
}

// InstitutionCompletion is the share of required fields that are valid.
func InstitutionCompletion(d models.InstitutionData) float64 {
	total := len(requiredInstitutionFields)
	done := total - len(InstitutionMissing(d))
	return float64(done) / float64(total) * 100
}
