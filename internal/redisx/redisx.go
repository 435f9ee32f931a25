// Package redisx wraps the go-redis client behind a small surface returning
// plain values. The repo and stream packages consume this surface through
// their own interfaces, so tests can fake the broker without a live Redis.
package redisx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one stream entry.
type Message struct {
	ID     string
	Values map[string]string
}

// Subscription is a live pub/sub subscription. Messages yields payloads until
// the subscription fails or is closed, after which the channel is closed.
type Subscription interface {
	Messages() <-chan string
	Close() error
}

// Client wraps a single shared Redis connection pool.
type Client struct {
	rdb *redis.Client
}

// Dial connects and verifies the connection with a ping.
func Dial(ctx context.Context, addr, username, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// CreateGroup creates a consumer group on stream, creating the stream if
// needed. An already-existing group is not an error.
func (c *Client) CreateGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

// ReadGroup reads up to count new entries for the consumer, blocking up to
// block. An empty read returns (nil, nil).
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var msgs []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			msgs = append(msgs, convertMessage(m))
		}
	}
	return msgs, nil
}

// Ack acknowledges one entry.
func (c *Client) Ack(ctx context.Context, stream, group, id string) error {
	return c.rdb.XAck(ctx, stream, group, id).Err()
}

// AutoClaim transfers ownership of entries pending longer than minIdle,
// scanning from start. It returns the claimed entries and the next cursor.
func (c *Client) AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]Message, string, error) {
	claimed, next, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		return nil, "", err
	}

	msgs := make([]Message, 0, len(claimed))
	for _, m := range claimed {
		msgs = append(msgs, convertMessage(m))
	}
	return msgs, next, nil
}

// Append appends one entry to stream.
func (c *Client) Append(ctx context.Context, stream string, values map[string]any) error {
	return c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Err()
}

// Publish publishes a payload on a pub/sub channel.
func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a pub/sub subscription on channel.
func (c *Client) Subscribe(ctx context.Context, channel string) Subscription {
	ps := c.rdb.Subscribe(ctx, channel)
	sub := &subscription{ps: ps, out: make(chan string), done: make(chan struct{})}
	go func() {
		defer close(sub.out)
		for msg := range ps.Channel() {
			select {
			case sub.out <- msg.Payload:
			case <-sub.done:
				return
			}
		}
	}()
	return sub
}

type subscription struct {
	ps   *redis.PubSub
	out  chan string
	done chan struct{}
	once sync.Once
}

func (s *subscription) Messages() <-chan string { return s.out }

func (s *subscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.ps.Close()
}

func convertMessage(m redis.XMessage) Message {
	values := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		if s, ok := v.(string); ok {
			values[k] = s
		} else {
			values[k] = fmt.Sprint(v)
		}
	}
	return Message{ID: m.ID, Values: values}
}
