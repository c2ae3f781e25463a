// Package events publishes queue changes to subscribers such as waiting-room
// displays and patient apps.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event types.
const (
	EntryAdmitted    = "queue.entry.admitted"
	EntryCalled      = "queue.entry.called"
	EntryUpdated     = "queue.entry.updated"
	EntryFastTracked = "queue.entry.fast_tracked"
	SessionChanged   = "queue.session.changed"
)

// Event is a single change to a clinic-day queue.
type Event struct {
	Type        string     `json:"type"`
	ClinicID    uuid.UUID  `json:"clinic_id"`
	ServiceDate string     `json:"service_date"`
	EntryID     *uuid.UUID `json:"entry_id,omitempty"`
	QueueNumber int        `json:"queue_number,omitempty"`
	Status      string     `json:"status"`
	At          time.Time  `json:"at"`
}

// Publisher delivers events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Channel is the pub/sub channel carrying a clinic's events.
func Channel(clinicID uuid.UUID) string {
	return "aqms:queue:" + clinicID.String()
}

type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects to the redis:// URL and verifies the connection.
func NewRedisPublisher(ctx context.Context, url string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisPublisher{client: client}, nil
}

func NewRedisPublisherWithClient(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(ev.ClinicID), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the type of each recorded event in order.
func (r *Recorder) Types() []string {
	evs := r.Events()
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}
