package notifier

import (
	"context"
	"log/slog"
)

// LogChannelID is the channel id of LogChannel.
const LogChannelID = "log"

// Ensure LogChannel implements Channel.
var _ Channel = (*LogChannel)(nil)

// LogChannel writes new listings to the given logger as structured messages.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel returns a channel that logs each listing via slog.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) ID() string { return LogChannelID }

// Send logs each listing with title, price, size, address and link, plus any
// enrichment. Returns nil (stdout logging does not fail).
func (c *LogChannel) Send(_ context.Context, p Payload) error {
	for _, l := range p.Listings {
		args := []any{
			"job", p.JobKey,
			"provider", l.Provider,
			"title", l.Title,
			"price", l.Price,
			"size", l.Size,
			"address", l.Address,
			"link", l.Link,
		}
		if e := l.Enrichment; e != nil {
			if e.RoomCount != nil {
				args = append(args, "rooms", *e.RoomCount)
			}
			if e.Suburb != nil {
				args = append(args, "suburb", *e.Suburb)
			}
			if e.Geohash != "" {
				args = append(args, "geohash", e.Geohash)
			}
			if e.Salutation != nil {
				args = append(args, "contact", salutationText(e.Salutation))
			}
		}
		c.logger.Info("new listing", args...)
	}
	return nil
}
