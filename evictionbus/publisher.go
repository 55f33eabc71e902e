// Package evictionbus implements the EvictionBus (spec.md C4): cluster-wide
// propagation of write-side cache mutations over Redis pub/sub, so every
// instance's L1 stays consistent with the last writer. Grounded on the
// teacher's pkg/pubsub event envelopes and cache-manager's
// subscriptions.go, generalized from Encore pubsub.Topic[T] to a plain
// redis.UniversalClient publisher/subscriber pair.
package evictionbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/o-tero/cachekit/cache"
	"github.com/o-tero/cachekit/pkg/pubsub"
)

// Publisher broadcasts EvictionEvents for a single namespace.
type Publisher struct {
	client     redis.UniversalClient
	namespace  string
	instanceID string
}

// NewPublisher builds a Publisher for namespace, tagging every event with
// instanceID so subscribers on the same instance can ignore their own echo.
func NewPublisher(client redis.UniversalClient, namespace, instanceID string) *Publisher {
	return &Publisher{client: client, namespace: namespace, instanceID: instanceID}
}

func (p *Publisher) publish(ctx context.Context, event cache.EvictionEvent) error {
	event.Namespace = p.namespace
	event.SourceInstanceID = p.instanceID

	data, err := json.Marshal(event)
	if err != nil {
		return &cache.SerializationError{Key: event.Key, Cause: err}
	}
	if err := p.client.Publish(ctx, pubsub.EvictionChannel(p.namespace), data).Err(); err != nil {
		return fmt.Errorf("evictionbus: publish to %s: %w", pubsub.EvictionChannel(p.namespace), err)
	}
	return nil
}

// PublishSingleKey announces a single-key removal.
func (p *Publisher) PublishSingleKey(ctx context.Context, key string) error {
	return p.publish(ctx, cache.NewSingleKeyEviction(p.namespace, key, p.instanceID))
}

// PublishPattern announces a pattern-based removal.
func (p *Publisher) PublishPattern(ctx context.Context, pattern string) error {
	return p.publish(ctx, cache.NewPatternEviction(p.namespace, pattern, p.instanceID))
}

// PublishClearAll announces a full namespace clear.
func (p *Publisher) PublishClearAll(ctx context.Context) error {
	return p.publish(ctx, cache.NewClearAllEviction(p.namespace, p.instanceID))
}
