package filter

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/amishk599/listingwatch/internal/model"
)

// Blacklist rejects listings whose title contains any of its terms.
// Matching is a case-folded substring test, so "WG" also rejects "wg-zimmer"
// and "STRASSE" matches "Straße". Empty terms are ignored.
type Blacklist struct {
	terms []string // folded
}

// NewBlacklist folds terms once up front.
func NewBlacklist(terms []string) *Blacklist {
	folded := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		folded = append(folded, fold(t))
	}
	return &Blacklist{terms: folded}
}

// Match returns true if the listing should be kept.
func (b *Blacklist) Match(l model.Listing) bool {
	return b.Allows(l.Title)
}

// Allows returns false if title contains any blacklisted term.
func (b *Blacklist) Allows(title string) bool {
	if len(b.terms) == 0 {
		return true
	}
	t := fold(title)
	for _, term := range b.terms {
		if strings.Contains(t, term) {
			return false
		}
	}
	return true
}

// The folding Caser is stateless and safe for concurrent use.
var folder = cases.Fold()

func fold(s string) string {
	return folder.String(s)
}
