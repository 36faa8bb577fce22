package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BadgerOps/gamesync/internal/engine"
)

const (
	defaultQueueSize      = 256
	defaultPublishTimeout = 2 * time.Second
)

// Publisher is the subset of *redis.Client used by RedisSink.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// NewRedisClient parses a redis:// URL and checks the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cannot ping redis: %w", err)
	}
	return rdb, nil
}

// RedisSink publishes JSON events to a Redis channel from a background
// goroutine. The engine never waits on Redis; events beyond the queue are
// dropped and publish errors are logged.
type RedisSink struct {
	pub     Publisher
	channel string
	logger  *slog.Logger
	timeout time.Duration

	queue chan Event
	wg    sync.WaitGroup
	once  sync.Once

	mu      sync.Mutex
	dropped int
}

// NewRedisSink starts the publishing goroutine. Call Close to flush it.
func NewRedisSink(pub Publisher, channel string, logger *slog.Logger) *RedisSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RedisSink{
		pub:     pub,
		channel: channel,
		logger:  logger.With("component", "redis-events", "channel", channel),
		timeout: defaultPublishTimeout,
		queue:   make(chan Event, defaultQueueSize),
	}
	s.wg.Add(1)
	go s.loop(s.queue)
	return s
}

func (s *RedisSink) OnProgress(p engine.DownloadProgress) {
	s.enqueue(Event{Type: TypeProgress, Progress: &p})
}

func (s *RedisSink) OnVerifyResult(v engine.VerifyResult) {
	s.enqueue(Event{Type: TypeVerifyResult, Verify: &v})
}

// Dropped returns how many events never reached the queue.
func (s *RedisSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close publishes what is queued and stops the goroutine. Notifications after
// Close are dropped.
func (s *RedisSink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		close(s.queue)
		s.queue = nil
		s.mu.Unlock()
	})
	s.wg.Wait()
}

func (s *RedisSink) enqueue(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		s.dropped++
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.dropped++
	}
}

func (s *RedisSink) loop(queue <-chan Event) {
	defer s.wg.Done()

	for ev := range queue {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Warn("cannot encode event", "type", ev.Type, "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err = s.pub.Publish(ctx, s.channel, payload).Err()
		cancel()
		if err != nil {
			s.logger.Warn("cannot publish event", "type", ev.Type, "error", err)
		}
	}
}
