// Package warming provides proactive cache warming to prevent cold misses and
// cache stampedes: scheduled and predictive pre-fetching from origin into a
// cache.Cache, with rate limiting, deduplication, and a worker pool for
// bounded concurrency. Grounded on the teacher's warming.Service, generalized
// from an Encore service (global singleton, encore:api endpoints, Encore
// pub/sub and cron) into an embeddable type constructed once per process and
// wired directly to a cache.Cache plus a redis.UniversalClient for
// cluster-wide completion notifications.
package warming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/o-tero/cachekit/cache"
	"github.com/o-tero/cachekit/observability"
	"github.com/o-tero/cachekit/pkg/pubsub"
	"github.com/o-tero/cachekit/pkg/utils"
)

// Service drives warming for a single namespace's cache.Cache.
type Service struct {
	config        Config
	cache         cache.Cache
	strategies    map[string]Strategy
	predictor     Predictor
	originFetcher OriginFetcher
	redis         redis.UniversalClient // nil disables cluster-wide completion events
	logger        *observability.Logger

	scheduler     *Scheduler
	workerPool    *WorkerPool
	metrics       *Metrics
	rateLimiter   *rate.Limiter
	deduper       singleflight.Group
	emergencyStop atomic.Bool
	mu            sync.RWMutex
}

// Config holds runtime configuration for the warming service.
type Config struct {
	MaxOriginRPS       int
	MaxBatchSize       int
	ConcurrentWarmers  int
	DefaultTTL         time.Duration
	OriginTimeout      time.Duration
	RetryAttempts      int
	BackoffBase        time.Duration
	EmergencyThreshold time.Duration
	DefaultStrategy    string
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxOriginRPS:       100,
		MaxBatchSize:       50,
		ConcurrentWarmers:  10,
		DefaultTTL:         1 * time.Hour,
		OriginTimeout:      5 * time.Second,
		RetryAttempts:      3,
		BackoffBase:        100 * time.Millisecond,
		EmergencyThreshold: 2 * time.Second,
		DefaultStrategy:    "priority",
	}
}

// Metrics tracks warming service performance counters.
type Metrics struct {
	JobsTotal      atomic.Int64
	SuccessTotal   atomic.Int64
	FailureTotal   atomic.Int64
	OriginRequests atomic.Int64
	CacheWrites    atomic.Int64
	RateLimitHits  atomic.Int64
	EmergencyStops atomic.Int64
	TotalDuration  atomic.Int64 // cumulative milliseconds
}

// OriginFetcher abstracts the data source for cache warming.
type OriginFetcher interface {
	Fetch(ctx context.Context, key string) (value []byte, ttl time.Duration, err error)
}

// WarmKeyRequest warms specific cache keys immediately.
type WarmKeyRequest struct {
	Keys     []string
	Priority int
	Strategy string
}

// WarmResult reports how many tasks a warming call queued.
type WarmResult struct {
	Queued        int
	Keys          []string
	JobID         string
	EstimatedTime time.Duration
}

// WarmPatternRequest warms cache keys matching a pattern, either explicitly
// supplied or discovered via the predictor.
type WarmPatternRequest struct {
	Pattern  string
	Limit    int
	Priority int
	Strategy string
	Keys     []string
}

// Status is a point-in-time snapshot of the warming service.
type Status struct {
	ActiveJobs    int
	QueuedTasks   int
	WorkerStatus  []WorkerStatus
	EmergencyStop bool
	Metrics       MetricsSnapshot
}

// MetricsSnapshot is Metrics rendered as plain values for reporting.
type MetricsSnapshot struct {
	JobsTotal      int64
	SuccessTotal   int64
	FailureTotal   int64
	SuccessRate    float64
	OriginRequests int64
	CacheWrites    int64
	RateLimitHits  int64
	EmergencyStops int64
	AvgDurationMs  float64
}

// New builds a warming Service bound to cache for namespace-scoped warming.
// redisClient may be nil, in which case completion events are logged only
// and never published cluster-wide.
func New(cfg Config, c cache.Cache, fetcher OriginFetcher, redisClient redis.UniversalClient, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewLogger(nil)
	}
	s := &Service{
		config: cfg,
		cache:  c,
		strategies: map[string]Strategy{
			"selective": NewSelectiveHotKeysStrategy(),
			"breadth":   NewBreadthFirstStrategy(),
			"priority":  NewPriorityBasedStrategy(),
		},
		predictor:     NewDefaultPredictor(),
		originFetcher: fetcher,
		redis:         redisClient,
		logger:        logger,
		metrics:       &Metrics{},
		rateLimiter:   rate.NewLimiter(rate.Limit(cfg.MaxOriginRPS), cfg.MaxOriginRPS),
	}
	s.workerPool = NewWorkerPool(s, cfg.ConcurrentWarmers)
	s.scheduler = NewScheduler(s)
	return s
}

// Start launches the scheduler's cron loop. Call once after registering any
// scheduled jobs.
func (s *Service) Start() {
	s.scheduler.Start()
}

// WarmKey warms specific cache keys immediately.
func (s *Service) WarmKey(ctx context.Context, req WarmKeyRequest) (WarmResult, error) {
	if len(req.Keys) == 0 {
		return WarmResult{}, errors.New("warming: keys cannot be empty")
	}
	if s.emergencyStop.Load() {
		return WarmResult{}, errors.New("warming: service in emergency stop mode")
	}

	priority := req.Priority
	if priority == 0 {
		priority = 50
	}

	tasks := make([]WarmTask, 0, len(req.Keys))
	for _, key := range req.Keys {
		tasks = append(tasks, WarmTask{
			Key:           key,
			Priority:      priority,
			EstimatedCost: 50,
			TTL:           s.config.DefaultTTL,
			Strategy:      req.Strategy,
		})
	}

	return s.queue(tasks, req.Keys), nil
}

// WarmPattern warms cache keys matching a pattern, filtering either the
// supplied keys or, when none are supplied, the predictor's hot-key list.
func (s *Service) WarmPattern(ctx context.Context, req WarmPatternRequest) (WarmResult, error) {
	if req.Pattern == "" {
		return WarmResult{}, errors.New("warming: pattern cannot be empty")
	}
	if s.emergencyStop.Load() {
		return WarmResult{}, errors.New("warming: service in emergency stop mode")
	}

	keysToWarm := req.Keys
	if len(keysToWarm) == 0 {
		predicted, err := s.predictor.PredictHotKeys(ctx, time.Hour, 100)
		if err != nil {
			return WarmResult{}, fmt.Errorf("warming: prediction failed: %w", err)
		}
		keysToWarm = predicted
	}
	keysToWarm, err := utils.FilterKeys(req.Pattern, keysToWarm)
	if err != nil {
		return WarmResult{}, fmt.Errorf("warming: pattern filter failed: %w", err)
	}
	if req.Limit > 0 && len(keysToWarm) > req.Limit {
		keysToWarm = keysToWarm[:req.Limit]
	}

	strategyName := req.Strategy
	if strategyName == "" {
		strategyName = s.config.DefaultStrategy
	}
	strategy, ok := s.strategies[strategyName]
	if !ok {
		return WarmResult{}, fmt.Errorf("warming: unknown strategy %q", strategyName)
	}

	tasks, err := strategy.Plan(ctx, PlanOptions{Keys: keysToWarm, Priority: req.Priority, Limit: req.Limit})
	if err != nil {
		return WarmResult{}, fmt.Errorf("warming: strategy planning failed: %w", err)
	}

	return s.queue(tasks, keysToWarm), nil
}

// TriggerPredictive manually runs a predictive warming pass.
func (s *Service) TriggerPredictive(ctx context.Context) (WarmResult, error) {
	if s.emergencyStop.Load() {
		return WarmResult{}, errors.New("warming: service in emergency stop mode")
	}
	hotKeys, err := s.predictor.PredictHotKeys(ctx, time.Hour, 100)
	if err != nil {
		return WarmResult{}, fmt.Errorf("warming: prediction failed: %w", err)
	}
	if len(hotKeys) == 0 {
		return WarmResult{Keys: []string{}}, nil
	}

	tasks, err := s.strategies["priority"].Plan(ctx, PlanOptions{Keys: hotKeys, Priority: 80})
	if err != nil {
		return WarmResult{}, fmt.Errorf("warming: strategy planning failed: %w", err)
	}
	return s.queue(tasks, hotKeys), nil
}

func (s *Service) queue(tasks []WarmTask, keys []string) WarmResult {
	jobID := uuid.NewString()
	queued := s.workerPool.QueueTasks(tasks)
	s.metrics.JobsTotal.Add(int64(queued))

	estimate := time.Duration(0)
	if s.config.ConcurrentWarmers > 0 {
		estimate = time.Duration(queued*50/s.config.ConcurrentWarmers) * time.Millisecond
	}
	return WarmResult{Queued: queued, Keys: keys, JobID: jobID, EstimatedTime: estimate}
}

// Status returns current worker and metrics state.
func (s *Service) Status() Status {
	jobs := s.metrics.JobsTotal.Load()
	success := s.metrics.SuccessTotal.Load()
	successRate := 0.0
	if jobs > 0 {
		successRate = float64(success) / float64(jobs)
	}
	avgDuration := 0.0
	if success > 0 {
		avgDuration = float64(s.metrics.TotalDuration.Load()) / float64(success)
	}

	return Status{
		ActiveJobs:    s.workerPool.ActiveCount(),
		QueuedTasks:   s.workerPool.QueueSize(),
		WorkerStatus:  s.workerPool.GetWorkerStatus(),
		EmergencyStop: s.emergencyStop.Load(),
		Metrics: MetricsSnapshot{
			JobsTotal:      jobs,
			SuccessTotal:   success,
			FailureTotal:   s.metrics.FailureTotal.Load(),
			SuccessRate:    successRate,
			OriginRequests: s.metrics.OriginRequests.Load(),
			CacheWrites:    s.metrics.CacheWrites.Load(),
			RateLimitHits:  s.metrics.RateLimitHits.Load(),
			EmergencyStops: s.metrics.EmergencyStops.Load(),
			AvgDurationMs:  avgDuration,
		},
	}
}

// ExecuteWarmTask performs the actual warming operation for a single task,
// deduplicating concurrent warming of the same key via singleflight.
func (s *Service) ExecuteWarmTask(ctx context.Context, task WarmTask) error {
	start := time.Now()
	if s.emergencyStop.Load() {
		return errors.New("warming: emergency stop active")
	}

	_, err, _ := s.deduper.Do(task.Key, func() (any, error) {
		return nil, s.executeWarmTaskInternal(ctx, task)
	})

	s.metrics.TotalDuration.Add(time.Since(start).Milliseconds())
	if err != nil {
		s.metrics.FailureTotal.Add(1)
		return err
	}
	s.metrics.SuccessTotal.Add(1)
	go s.publishWarmCompletion(task.Key, "success", time.Since(start), task.Strategy)
	return nil
}

func (s *Service) executeWarmTaskInternal(ctx context.Context, task WarmTask) error {
	if err := s.rateLimiter.Wait(ctx); err != nil {
		s.metrics.RateLimitHits.Add(1)
		return fmt.Errorf("warming: rate limit: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.config.OriginTimeout)
	defer cancel()

	s.mu.RLock()
	fetcher := s.originFetcher
	s.mu.RUnlock()
	if fetcher == nil {
		return errors.New("warming: origin fetcher not configured")
	}

	fetchStart := time.Now()
	value, ttl, err := fetcher.Fetch(fetchCtx, task.Key)
	fetchDuration := time.Since(fetchStart)
	if err != nil {
		return fmt.Errorf("warming: origin fetch failed: %w", err)
	}
	s.metrics.OriginRequests.Add(1)

	if fetchDuration > s.config.EmergencyThreshold {
		s.emergencyStop.Store(true)
		s.metrics.EmergencyStops.Add(1)
		return errors.New("warming: emergency stop triggered by high origin latency")
	}

	if ttl == 0 {
		ttl = task.TTL
	}
	if err := s.cache.PutWithTTL(ctx, task.Key, value, ttl); err != nil {
		return fmt.Errorf("warming: cache write failed: %w", err)
	}
	s.metrics.CacheWrites.Add(1)
	return nil
}

// publishWarmCompletion notifies the cluster (when redis is configured) that
// a warming task finished, and always logs it locally.
func (s *Service) publishWarmCompletion(key, status string, duration time.Duration, strategy string) {
	event := &pubsub.WarmCompletedEvent{
		Version:     pubsub.EventVersion1,
		Service:     "warming",
		Status:      status,
		Duration:    duration,
		KeysWarmed:  boolToCount(status == "success"),
		KeysFailed:  boolToCount(status != "success"),
		CompletedAt: time.Now(),
		Meta:        map[string]string{"key": key, "strategy": strategy},
		RequestID:   uuid.NewString(),
	}
	if err := event.Validate(); err != nil {
		s.logger.Raw().Warn("warming: invalid completion event", zap.Error(err))
		return
	}
	s.logger.Raw().Info("warming: task completed", zap.String("key", key), zap.String("status", status),
		zap.Duration("duration", duration), zap.String("strategy", strategy))

	if s.redis != nil {
		data, err := event.ToJSON()
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.redis.Publish(ctx, pubsub.ChannelWarmCompleted, data).Err()
		}
	}
}

func boolToCount(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Shutdown gracefully stops workers and the scheduler.
func (s *Service) Shutdown() {
	s.workerPool.Shutdown()
	s.scheduler.Stop()
}
