// Package progress fans registry changes out over Redis pub/sub so that
// live views in other processes see the same job updates.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/localclipper/clipper/internal/domain"
	"github.com/localclipper/clipper/internal/logger"
	"github.com/localclipper/clipper/internal/registry"
)

const (
	channelPrefix  = "clipper:jobs:"
	publishTimeout = 2 * time.Second
	queueSize      = 256
)

// Event is one job change as carried over the wire
type Event struct {
	Seq   uint64     `json:"seq"`
	JobID string     `json:"job_id"`
	Job   domain.Job `json:"job"`
}

// EventFromChange converts a registry change to its wire form
func EventFromChange(c registry.Change) Event {
	return Event{Seq: c.Seq, JobID: c.JobID, Job: c.Job}
}

// Channel returns the pub/sub channel name for an origin
func Channel(origin string) string {
	return channelPrefix + origin
}

// Publisher publishes registry changes to Redis
type Publisher struct {
	client  *redis.Client
	channel string
	log     *logger.Logger
}

func NewPublisher(client *redis.Client, origin string) *Publisher {
	return &Publisher{
		client:  client,
		channel: Channel(origin),
		log:     logger.Default().WithComponent("progress"),
	}
}

// Publish sends one event. Failures are returned; they never affect the job.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Attach publishes every change of reg until the returned function is called.
// Changes are queued and published in order on a separate goroutine, so a
// slow or unreachable Redis never delays the registry writer. When the queue
// is full the change is dropped; subscribers see the gap in Seq.
func (p *Publisher) Attach(reg *registry.Registry) (detach func()) {
	queue := make(chan Event, queueSize)
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev := <-queue:
				p.publishLogged(ev)
			case <-done:
				return
			}
		}
	}()

	unsubscribe := reg.Subscribe(func(c registry.Change) {
		select {
		case <-done:
			return
		default:
		}
		select {
		case queue <- EventFromChange(c):
		default:
			p.log.Warn(context.Background(), "progress queue full, dropping job change", nil, map[string]interface{}{
				"job_id": c.JobID,
				"seq":    c.Seq,
			})
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(done)
			wg.Wait()
		})
	}
}

func (p *Publisher) publishLogged(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, ev); err != nil {
		p.log.Warn(ctx, "failed to publish job change", err, map[string]interface{}{
			"job_id": ev.JobID,
			"seq":    ev.Seq,
		})
	}
}

// Subscription wraps a Redis pub/sub subscription for job events
type Subscription struct {
	pubsub *redis.PubSub
	ch     <-chan *redis.Message
	log    *logger.Logger
}

// Subscribe listens for events published for origin
func Subscribe(ctx context.Context, client *redis.Client, origin string) (*Subscription, error) {
	pubsub := client.Subscribe(ctx, Channel(origin))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return &Subscription{
		pubsub: pubsub,
		ch:     pubsub.Channel(),
		log:    logger.Default().WithComponent("progress"),
	}, nil
}

// Events returns a channel of decoded events. Malformed payloads are skipped.
func (s *Subscription) Events() <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)
		for msg := range s.ch {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.log.Warn(context.Background(), "dropping malformed job event", err)
				continue
			}
			out <- ev
		}
	}()

	return out
}

// Close closes the subscription
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
