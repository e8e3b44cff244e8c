// Package redisqueue implements the update queue as a Redis reliable queue.
//
// Published ids are pushed on the ready list and their bodies stored in a
// hash. Receive moves ids atomically to the processing list and records a
// visibility deadline in a sorted set. Ack removes every trace of the id.
// Reclaim returns ids whose deadline passed to the ready list, or to the
// dead-letter list once they were received MaxReceives times.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/concierge/core/logger"
	"github.com/m3rciful/concierge/core/queue"
)

// Connect opens a pooled client for url and verifies it answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	logger.Info(ctx, logger.CompQueue, "redis.connected", slog.String("addr", opt.Addr))
	return client, nil
}

// Options tunes the queue.
type Options struct {
	Name              string
	BatchSize         int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
	MaxReceives       int
}

// Queue is a Redis backed Producer and Consumer.
type Queue struct {
	rdb  *redis.Client
	opts Options
	now  func() time.Time

	ready, processing, deadlines, bodies, receives, dead string
}

// New returns a queue stored under keys prefixed by opts.Name.
func New(rdb *redis.Client, opts Options) *Queue {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.MaxReceives <= 0 {
		opts.MaxReceives = 5
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = time.Minute
	}
	// A zero BLMOVE timeout blocks forever.
	if opts.WaitTime <= 0 {
		opts.WaitTime = time.Second
	}
	n := opts.Name
	return &Queue{
		rdb:        rdb,
		opts:       opts,
		now:        time.Now,
		ready:      n,
		processing: n + ":processing",
		deadlines:  n + ":deadlines",
		bodies:     n + ":bodies",
		receives:   n + ":receives",
		dead:       n + ":dead",
	}
}

// Publish stores env and pushes its id on the ready list.
func (q *Queue) Publish(ctx context.Context, env queue.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return err
	}
	id := uuid.NewString()
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.bodies, id, body)
		p.LPush(ctx, q.ready, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	logger.Debug(ctx, logger.CompQueue, "queue.published",
		slog.String("queue", q.ready),
		slog.String("msg_id", id),
		slog.String("event_type", env.EventType),
	)
	return nil
}

// Receive blocks up to WaitTime for the first message and then drains up to
// BatchSize without blocking.
func (q *Queue) Receive(ctx context.Context) ([]queue.Message, error) {
	var ids []string
	first, err := q.rdb.BLMove(ctx, q.ready, q.processing, "RIGHT", "LEFT", q.opts.WaitTime).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: receive: %w", err)
	}
	ids = append(ids, first)
	for len(ids) < q.opts.BatchSize {
		id, err := q.rdb.LMove(ctx, q.ready, q.processing, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("redis: receive: %w", err)
		}
		ids = append(ids, id)
	}

	deadline := float64(q.now().Add(q.opts.VisibilityTimeout).UnixMilli())
	msgs := make([]queue.Message, 0, len(ids))
	for _, id := range ids {
		var (
			count *redis.IntCmd
			body  *redis.StringCmd
		)
		_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			count = p.HIncrBy(ctx, q.receives, id, 1)
			p.ZAdd(ctx, q.deadlines, redis.Z{Score: deadline, Member: id})
			body = p.HGet(ctx, q.bodies, id)
			return nil
		})
		if errors.Is(err, redis.Nil) {
			// Body vanished; the id is an orphan left by a concurrent ack.
			q.forget(ctx, id)
			continue
		}
		if err != nil {
			return msgs, fmt.Errorf("redis: claim %s: %w", id, err)
		}
		b, _ := body.Bytes()
		env, _ := queue.Decode(b)
		msgs = append(msgs, queue.Message{
			ID:           id,
			Receipt:      id,
			Body:         b,
			Attributes:   map[string]string{queue.AttrEventType: env.EventType},
			ReceiveCount: int(count.Val()),
		})
	}
	return msgs, nil
}

// Ack drops acknowledged messages from every structure.
func (q *Queue) Ack(ctx context.Context, msgs []queue.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, m := range msgs {
			p.LRem(ctx, q.processing, 1, m.Receipt)
			p.ZRem(ctx, q.deadlines, m.Receipt)
			p.HDel(ctx, q.bodies, m.Receipt)
			p.HDel(ctx, q.receives, m.Receipt)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: ack: %w", err)
	}
	return nil
}

func (q *Queue) forget(ctx context.Context, id string) {
	_, _ = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processing, 1, id)
		p.ZRem(ctx, q.deadlines, id)
		p.HDel(ctx, q.receives, id)
		return nil
	})
}

// Reclaim requeues messages whose visibility deadline passed and moves those
// received MaxReceives times to the dead-letter list.
func (q *Queue) Reclaim(ctx context.Context) (requeued, dead int, err error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	ids, err := q.rdb.ZRangeByScore(ctx, q.deadlines, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: scan deadlines: %w", err)
	}
	for _, id := range ids {
		count, err := q.rdb.HGet(ctx, q.receives, id).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return requeued, dead, fmt.Errorf("redis: receive count %s: %w", id, err)
		}
		// ZREM is the claim: whoever removes the deadline owns the id.
		removed, err := q.rdb.ZRem(ctx, q.deadlines, id).Result()
		if err != nil {
			return requeued, dead, fmt.Errorf("redis: reclaim %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}
		exhausted := count >= q.opts.MaxReceives
		_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.LRem(ctx, q.processing, 1, id)
			if exhausted {
				p.LPush(ctx, q.dead, id)
			} else {
				p.RPush(ctx, q.ready, id)
			}
			return nil
		})
		if err != nil {
			return requeued, dead, fmt.Errorf("redis: reclaim %s: %w", id, err)
		}
		if exhausted {
			dead++
			logger.Warn(ctx, logger.CompQueue, "queue.dead_lettered",
				slog.String("msg_id", id),
				slog.Int("receive_count", count),
			)
		} else {
			requeued++
		}
	}
	return requeued, dead, nil
}

// DeadLetters returns the bodies of dead-lettered messages, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([][]byte, error) {
	ids, err := q.rdb.LRange(ctx, q.dead, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: dead letters: %w", err)
	}
	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		b, err := q.rdb.HGet(ctx, q.bodies, id).Bytes()
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
