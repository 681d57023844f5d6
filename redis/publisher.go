package redis

import (
	"context"
	"fmt"

	"github.com/fortressi/routingslip"
	backend "github.com/redis/go-redis/v9"
)

const defaultChannel = "routingslip:events"

// Publisher implements routingslip.EventPublisher with Redis PUBLISH. Each
// message is the JSON envelope written by routingslip.EncodeEvent.
type Publisher struct {
	client  *backend.Client
	channel string
}

// NewPublisher creates a publisher sending to channel. An empty channel
// selects "routingslip:events".
func NewPublisher(client *backend.Client, channel string) *Publisher {
	if channel == "" {
		channel = defaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

// Channel returns the channel events are published on.
func (p *Publisher) Channel() string {
	return p.channel
}

func (p *Publisher) Publish(ctx context.Context, ev routingslip.Event) error {
	data, err := routingslip.EncodeEvent(ev)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("redis error publishing %s: %w", ev.EventType(), err)
	}
	return nil
}

// Subscriber receives events published by a Publisher.
type Subscriber struct {
	pubsub *backend.PubSub
}

// Subscribe listens on channel. The subscription is confirmed before
// Subscribe returns, so no event published afterwards is missed.
func Subscribe(ctx context.Context, client *backend.Client, channel string) (*Subscriber, error) {
	if channel == "" {
		channel = defaultChannel
	}
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis error subscribing to %s: %w", channel, err)
	}
	return &Subscriber{pubsub: pubsub}, nil
}

// Next blocks until the next event arrives or ctx is done.
func (s *Subscriber) Next(ctx context.Context) (routingslip.Event, error) {
	msg, err := s.pubsub.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return routingslip.DecodeEvent([]byte(msg.Payload))
}

// Close ends the subscription.
func (s *Subscriber) Close() error {
	return s.pubsub.Close()
}
