// Package eventbus fans a runtime's event stream out to any number of
// read-only front-ends (a second terminal, a web dashboard, a log
// recorder) over Redis pub/sub, enabled via DBUG_EVENT_BUS=redis://...
// It is read-only by construction: subscribers receive Events but have no
// channel back to the runtime, which continues to take commands only from
// its primary controller over ipc/shm or ipc/ws.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dbug-project/dbug/ipc"
)

// Publisher publishes a runtime's events to a Redis channel named after
// its session id, so multiple concurrent sessions don't cross-talk.
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher connects to addr (a redis:// URL or a plain host:port) and
// scopes publication to session.
func NewPublisher(addr, session string) *Publisher {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	return &Publisher{client: client, channel: channelName(session)}
}

// Publish serializes ev and sends it to every current subscriber. Publish
// failures are non-fatal to the primary debugging session — the event bus
// is a convenience fan-out, not the channel of record.
func (p *Publisher) Publish(ctx context.Context, ev ipc.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventbus: encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("eventbus: publish: %w", err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Subscriber receives a read-only copy of a session's event stream.
type Subscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
}

// NewSubscriber connects to addr (a redis:// URL or a plain host:port) and
// subscribes to session's channel.
func NewSubscriber(addr, session string) *Subscriber {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	pubsub := client.Subscribe(context.Background(), channelName(session))
	return &Subscriber{client: client, pubsub: pubsub}
}

// Events returns a channel of decoded Events. Malformed payloads (should
// never happen against our own Publisher, but a front-end shouldn't trust
// the wire) are dropped rather than panicking the subscriber goroutine.
func (s *Subscriber) Events(ctx context.Context) <-chan ipc.Event {
	out := make(chan ipc.Event)
	raw := s.pubsub.Channel()
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				var ev ipc.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close unsubscribes and releases the underlying Redis client.
func (s *Subscriber) Close() error {
	if err := s.pubsub.Close(); err != nil {
		return err
	}
	return s.client.Close()
}

func channelName(session string) string {
	return "dbug:session:" + session
}
