package notifier

import (
	"fmt"
	"strings"

	"github.com/amishk599/listingwatch/internal/model"
)

func salutationText(s *model.Salutation) string {
	switch s.Gender {
	case model.GenderMale:
		return "Herr " + s.LastName
	case model.GenderFemale:
		return "Frau " + s.LastName
	default:
		return s.LastName
	}
}

// detailLines renders the enrichment of l as short "Label: value" lines.
// It returns nil for unenriched listings.
func detailLines(l model.Listing) []string {
	e := l.Enrichment
	if e == nil {
		return nil
	}
	var lines []string
	if e.RoomCount != nil {
		lines = append(lines, fmt.Sprintf("Rooms: %d", *e.RoomCount))
	}
	if e.Suburb != nil {
		lines = append(lines, "Suburb: "+*e.Suburb)
	}
	if e.Salutation != nil {
		lines = append(lines, "Contact: "+salutationText(e.Salutation))
	}
	return lines
}

// summary is the one-line plain text form of a listing.
func summary(l model.Listing) string {
	parts := []string{l.Price, l.Size, l.Address}
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " · ")
}
