// Package contact classifies free-text contact names.
package contact

import (
	"regexp"
	"strings"

	"github.com/amishk599/listingwatch/internal/model"
)

// Honorifics are matched case-insensitively; name tokens keep their case.
var salutationRegex = regexp.MustCompile(
	`^(?:((?i:Mr\.|Herr))|((?i:Ms\.|Mrs\.|Frau)))\s+(\S+)(?:\s+(\S+))?$`,
)

// ParseSalutation classifies name as a natural person with a gender and last
// name. It returns nil when name does not look like "<honorific> [first] last",
// e.g. for agency or company contacts.
func ParseSalutation(name string) *model.Salutation {
	m := salutationRegex.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return nil
	}

	gender := model.GenderFemale
	if m[1] != "" {
		gender = model.GenderMale
	}

	lastName := m[3]
	if m[4] != "" {
		lastName = m[4]
	}

	return &model.Salutation{Gender: gender, LastName: lastName}
}
