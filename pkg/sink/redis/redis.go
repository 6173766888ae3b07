package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/user/rowwatch"
	jsonfmt "github.com/user/rowwatch/pkg/formatter/json"
)

const (
	defaultStream    = "rowwatch:events"
	defaultNamespace = "rowwatch:idemp"
	defaultDedupTTL  = 24 * time.Hour
)

// RedisSink appends events to a Redis stream for the label-printing workers.
// Each event ID is claimed with SETNX first so a retried write is not
// published twice.
type RedisSink struct {
	addr      string
	password  string
	db        int
	stream    string
	namespace string
	dedupTTL  time.Duration
	maxLen    int64
	formatter rowwatch.Formatter

	mu        sync.Mutex
	client    *redis.Client
	lastDedup bool
}

// Options configures a RedisSink.
type Options struct {
	Addr      string
	Password  string
	DB        int
	Stream    string
	Namespace string
	DedupTTL  time.Duration
	MaxLen    int64
}

func NewRedisSink(opts Options, formatter rowwatch.Formatter) (*RedisSink, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis sink: addr is required")
	}
	if opts.Stream == "" {
		opts.Stream = defaultStream
	}
	if opts.Namespace == "" {
		opts.Namespace = defaultNamespace
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = defaultDedupTTL
	}
	if formatter == nil {
		formatter = jsonfmt.NewJSONFormatter()
	}
	return &RedisSink{
		addr:      opts.Addr,
		password:  opts.Password,
		db:        opts.DB,
		stream:    opts.Stream,
		namespace: opts.Namespace,
		dedupTTL:  opts.DedupTTL,
		maxLen:    opts.MaxLen,
		formatter: formatter,
	}, nil
}

func (s *RedisSink) getClient() *redis.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		s.client = redis.NewClient(&redis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}
	return s.client
}

func (s *RedisSink) dedupKey(id string) string {
	return fmt.Sprintf("%s:%s:%s", s.namespace, s.stream, id)
}

func (s *RedisSink) streamArgs(ev *rowwatch.Event, data []byte) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":    ev.ID,
			"kind":  string(ev.Kind),
			"table": ev.Table,
			"data":  data,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	return args
}

func (s *RedisSink) Write(ctx context.Context, ev *rowwatch.Event) error {
	if ev == nil {
		return nil
	}
	client := s.getClient()

	s.mu.Lock()
	s.lastDedup = false
	s.mu.Unlock()

	if ev.ID != "" {
		ok, err := client.SetNX(ctx, s.dedupKey(ev.ID), "1", s.dedupTTL).Result()
		if err != nil {
			return fmt.Errorf("redis idempotency setnx error: %w", err)
		}
		if !ok {
			s.mu.Lock()
			s.lastDedup = true
			s.mu.Unlock()
			return nil
		}
	}

	data, err := s.formatter.Format(ev)
	if err != nil {
		return fmt.Errorf("failed to format event: %w", err)
	}

	if err := client.XAdd(ctx, s.streamArgs(ev, data)).Err(); err != nil {
		// Release the claim so a retry can publish.
		if ev.ID != "" {
			_ = client.Del(ctx, s.dedupKey(ev.ID)).Err()
		}
		return fmt.Errorf("failed to publish to redis stream: %w", err)
	}
	return nil
}

// LastWriteDeduplicated reports whether the last Write was skipped as a duplicate.
func (s *RedisSink) LastWriteDeduplicated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDedup
}

func (s *RedisSink) Ping(ctx context.Context) error {
	return s.getClient().Ping(ctx).Err()
}

func (s *RedisSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
