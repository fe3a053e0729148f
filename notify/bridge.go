package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/castleridge-io/clawdeck-sub003/domain"
)

// envelope wraps a change event for the cross-instance channel. Origin lets
// an instance skip its own messages, which it already delivered locally.
type envelope struct {
	Origin string             `json:"origin"`
	Event  domain.ChangeEvent `json:"event"`
}

// Bridge publishes change events to local sessions and relays them between
// instances over a redis pub/sub channel. With a nil redis client it degrades
// to local-only delivery.
type Bridge struct {
	hub     *Hub
	rc      *redis.Client
	channel string
	origin  string
	logger  *log.Logger
}

// NewBridge creates a bridge over the given hub. rc may be nil.
func NewBridge(hub *Hub, rc *redis.Client, channel string, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Bridge{
		hub:     hub,
		rc:      rc,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// Publish delivers the event to local sessions and relays it to peers. Relay
// failures are logged and never surfaced to the mutation that emitted the
// event.
func (b *Bridge) Publish(ctx context.Context, ev domain.ChangeEvent) {
	b.hub.Broadcast(ev)
	if b.rc == nil {
		return
	}
	payload, err := json.Marshal(envelope{Origin: b.origin, Event: ev})
	if err != nil {
		b.logger.WithError(err).Error("marshal change event")
		return
	}
	if err := b.rc.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.WithError(err).Error("relay change event")
	}
}

// Subscribe consumes peer events and broadcasts them to local sessions. It
// blocks until ctx is cancelled, resubscribing when the pub/sub connection
// drops. Run it in its own goroutine; no-op when the bridge has no redis
// client.
func (b *Bridge) Subscribe(ctx context.Context) {
	if b.rc == nil {
		return
	}
	for {
		sub := b.rc.Subscribe(ctx, b.channel)
		b.consume(ctx, sub.Channel())
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}

func (b *Bridge) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.WithError(err).Error("unable to parse change event")
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			b.hub.Broadcast(env.Event)
		}
	}
}
