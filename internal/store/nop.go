package store

import (
	"time"

	"github.com/amishk599/listingwatch/internal/model"
)

// Ensure NopStore implements model.SeenStore.
var _ model.SeenStore = (*NopStore)(nil)

// NopStore backs one-shot checks. Every job counts as seeded and nothing is
// ever remembered, so each run reports all current listings.
type NopStore struct{}

func NewNopStore() *NopStore { return &NopStore{} }

func (s *NopStore) HasSeen(jobKey, listingID string) (bool, error) { return false, nil }
func (s *NopStore) MarkSeen(jobKey, listingID string) error        { return nil }
func (s *NopStore) Cleanup(olderThan time.Duration) error          { return nil }
func (s *NopStore) IsSeeded(jobKey string) (bool, error)           { return true, nil }
func (s *NopStore) MarkSeeded(jobKey string) error                 { return nil }
func (s *NopStore) Close() error                                   { return nil }
