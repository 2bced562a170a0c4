package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/amishk599/listingwatch/internal/model"
)

const (
	AMQPChannelID = "amqp"

	AMQPRoutingKeySetting = "routing_key"
	amqpPublishTimeout    = 10 * time.Second
	amqpEventType         = "NewListingsEvent"
)

// Ensure AMQPChannel implements Channel.
var _ Channel = (*AMQPChannel)(nil)

// Publisher is the subset of *amqp.Channel the AMQP channel needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPChannel publishes each batch of new listings as one JSON message to a
// RabbitMQ exchange. The routing key is the job's routing_key setting, or
// "listings.<job key>".
type AMQPChannel struct {
	publisher Publisher
	exchange  string
	logger    *slog.Logger
	closeFn   func() error
}

// NewAMQPChannel wraps an already-open publisher.
func NewAMQPChannel(publisher Publisher, exchange string, logger *slog.Logger) *AMQPChannel {
	return &AMQPChannel{publisher: publisher, exchange: exchange, logger: logger}
}

// DialAMQP connects to url, declares exchange as a durable topic exchange and
// returns a channel publishing to it. Close releases the connection.
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPChannel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare exchange %q: %w", exchange, err)
	}
	logger.Debug("amqp exchange declared", "exchange", exchange)

	c := NewAMQPChannel(ch, exchange, logger)
	c.closeFn = func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return c, nil
}

func (c *AMQPChannel) ID() string { return AMQPChannelID }

// Close releases the underlying connection if DialAMQP opened it.
func (c *AMQPChannel) Close() error {
	if c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}

type amqpListingsEvent struct {
	Service   string        `json:"service"`
	JobKey    string        `json:"job_key"`
	Published time.Time     `json:"published_at"`
	Listings  []amqpListing `json:"listings"`
}

type amqpListing struct {
	ID       string  `json:"id"`
	SourceID string  `json:"source_id"`
	Provider string  `json:"provider"`
	Title    string  `json:"title"`
	Price    string  `json:"price"`
	Size     string  `json:"size"`
	Address  string  `json:"address"`
	Link     string  `json:"link"`
	Image    string  `json:"image,omitempty"`
	Rooms    *int    `json:"rooms,omitempty"`
	Suburb   *string `json:"suburb,omitempty"`
	Geohash  string  `json:"geohash,omitempty"`
	Contact  string  `json:"contact,omitempty"`
}

func toAMQPListing(l model.Listing) amqpListing {
	out := amqpListing{
		ID:       l.ID,
		SourceID: l.SourceID,
		Provider: l.Provider,
		Title:    l.Title,
		Price:    l.Price,
		Size:     l.Size,
		Address:  l.Address,
		Link:     l.Link,
		Image:    l.Image,
	}
	if e := l.Enrichment; e != nil {
		out.Rooms = e.RoomCount
		out.Suburb = e.Suburb
		out.Geohash = e.Geohash
		if e.Salutation != nil {
			out.Contact = salutationText(e.Salutation)
		}
	}
	return out
}

// Send publishes the whole batch as a single persistent message.
func (c *AMQPChannel) Send(ctx context.Context, p Payload) error {
	if len(p.Listings) == 0 {
		return nil
	}

	routingKey := p.Settings(AMQPChannelID)[AMQPRoutingKeySetting]
	if routingKey == "" {
		routingKey = "listings." + p.JobKey
	}

	event := amqpListingsEvent{
		Service:   p.ServiceName,
		JobKey:    p.JobKey,
		Published: time.Now().UTC(),
		Listings:  make([]amqpListing, 0, len(p.Listings)),
	}
	for _, l := range p.Listings {
		event.Listings = append(event.Listings, toAMQPListing(l))
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal amqp event for job %s: %w", p.JobKey, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.Published,
		Headers: amqp.Table{
			"event-type": amqpEventType,
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, amqpPublishTimeout)
	defer cancel()

	if err := c.publisher.PublishWithContext(publishCtx, c.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("amqp publish to %s/%s: %w", c.exchange, routingKey, err)
	}
	c.logger.Info("amqp listings published", "job", p.JobKey, "routing_key", routingKey, "count", len(p.Listings))
	return nil
}
