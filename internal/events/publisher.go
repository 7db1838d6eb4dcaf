// Package events publishes outbound domain events to notification and
// timeline collaborators. Payloads carry only the aggregate id, the actor and
// the timestamp; consumers re-read for detail.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trustwork/trustwork-core/pkg/logger"
)

// Event kinds on the outbound boundary.
const (
	AttemptCompleted    = "attempt.completed"
	ApplicationAccepted = "application.accepted"
	AssignmentStatus    = "assignment.status-changed"
	MilestoneSubmitted  = "milestone.submitted"
	MilestoneApproved   = "milestone.approved"
	ReviewCreated       = "review.created"
)

// Event is the wire payload published for every outbound event.
type Event struct {
	Kind    string    `json:"kind"`
	ID      string    `json:"id"`
	ActorID string    `json:"actor_id"`
	At      time.Time `json:"at"`
}

// Publisher delivers outbound events.
type Publisher interface {
	Publish(ctx context.Context, kind, id, actorID string, at time.Time) error
}

// RedisPublisher publishes events on Redis pub/sub channels, one channel per
// event kind under the configured prefix.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

// NewRedisPublisher creates a publisher on the given Redis client.
func NewRedisPublisher(client *redis.Client, prefix string, log *logger.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix, log: log}
}

// Publish sends one event. Publishing failures are reported but callers
// treat them as non-fatal: the durable state is already committed.
func (p *RedisPublisher) Publish(ctx context.Context, kind, id, actorID string, at time.Time) error {
	payload, err := json.Marshal(Event{Kind: kind, ID: id, ActorID: actorID, At: at})
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", kind, err)
	}

	channel := p.prefix + "." + kind
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event on %s: %w", channel, err)
	}

	p.log.Debug().
		Str("kind", kind).
		Str("id", id).
		Str("actor", actorID).
		Msg("Published event")
	return nil
}

// NopPublisher drops every event. Used in tests and when events are disabled.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, string, string, string, time.Time) error {
	return nil
}
