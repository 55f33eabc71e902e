package evictionbus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/o-tero/cachekit/cache"
	"github.com/o-tero/cachekit/pkg/pubsub"
)

// Sink is the local tier the Subscriber applies incoming EvictionEvents to.
// cache/local.Backend satisfies this directly; for a multi-tier namespace the
// manager passes the coordinator's L1 backend as the Sink.
type Sink interface {
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	DeletePattern(pattern string) int
}

// Subscriber listens on a namespace's eviction channel and applies every
// event that did not originate from this instance to sink.
type Subscriber struct {
	client     redis.UniversalClient
	namespace  string
	instanceID string
	sink       Sink
	logger     *zap.Logger
}

// NewSubscriber builds a Subscriber for namespace. logger may be nil, in
// which case a no-op logger is used.
func NewSubscriber(client redis.UniversalClient, namespace, instanceID string, sink Sink, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{client: client, namespace: namespace, instanceID: instanceID, sink: sink, logger: logger}
}

// Run subscribes and blocks, applying events until ctx is cancelled or the
// subscription's channel closes. Callers typically run this in its own
// goroutine per namespace.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, pubsub.EvictionChannel(s.namespace))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, payload string) {
	var event cache.EvictionEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		s.logger.Warn("evictionbus: dropping malformed event", zap.Error(err))
		return
	}

	if event.SourceInstanceID == s.instanceID {
		return // self-echo
	}

	switch event.Type {
	case cache.EvictionSingleKey:
		if err := s.sink.Remove(ctx, event.Key); err != nil {
			s.logger.Warn("evictionbus: apply single-key eviction failed", zap.String("key", event.Key), zap.Error(err))
		}
	case cache.EvictionPattern:
		// L1 has no index to match a glob against without a full scan, so a
		// PATTERN event just clears the whole namespace locally; the next
		// reads repopulate it from L2/origin. Cheaper than indexing L1 for a
		// rare operation.
		s.logger.Warn("evictionbus: pattern eviction clears the whole local tier", zap.String("pattern", event.Pattern))
		if err := s.sink.Clear(ctx); err != nil {
			s.logger.Warn("evictionbus: apply pattern eviction failed", zap.String("pattern", event.Pattern), zap.Error(err))
		}
	case cache.EvictionClearAll:
		if err := s.sink.Clear(ctx); err != nil {
			s.logger.Warn("evictionbus: apply clear-all eviction failed", zap.Error(err))
		}
	default:
		s.logger.Warn("evictionbus: unknown eviction type", zap.String("type", string(event.Type)))
	}
}
