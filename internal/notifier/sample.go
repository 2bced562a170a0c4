package notifier

import (
	"context"

	"github.com/amishk599/listingwatch/internal/model"
)

// SampleListing is a fixed listing used to verify channel integrations.
func SampleListing() model.Listing {
	rooms := 3
	suburb := "Kreuzberg"
	return model.Listing{
		ID:       "test-001",
		SourceID: "test-001",
		Provider: "test",
		Title:    "Test Notification: Integration Verified",
		Price:    "1.234 €",
		Size:     "78 m²",
		Address:  "Oranienstraße 1, 10997 Berlin",
		Link:     "https://www.immobilienscout24.de",
		Enrichment: &model.Enrichment{
			RoomCount:  &rooms,
			Suburb:     &suburb,
			Geohash:    "u33dc0c",
			Salutation: &model.Salutation{Gender: model.GenderFemale, LastName: "Musterfrau"},
		},
	}
}

// SendTestMessage dispatches SampleListing through the job's channels.
func SendTestMessage(ctx context.Context, r *Registry, service string, job model.JobConfig) error {
	return r.Dispatch(ctx, Payload{
		ServiceName: service,
		JobKey:      job.Key,
		Listings:    []model.Listing{SampleListing()},
		Channels:    job.Channels,
	})
}
