package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the knowledge store.
// All keys and channels are namespaced with the instance name.
// The client is safe for concurrent use.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

var (
	_ Store   = (*Client)(nil)
	_ Browser = (*Client)(nil)
	_ Pinger  = (*Client)(nil)
)

// NewClient creates a knowledge store client for the given instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// NewClientFromURL parses a redis:// URL and creates a client.
func NewClientFromURL(url, instanceName string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewClient(opts, instanceName)
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Insert validates a record, writes its hash and index entries in one
// transaction, then publishes an insert event.
func (c *Client) Insert(ctx context.Context, r *EffectRecord) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid effect record: %w", err)
	}

	hash, err := RecordToHash(r)
	if err != nil {
		return fmt.Errorf("failed to serialize effect record: %w", err)
	}

	key := r.Key()
	z := redis.Z{Score: TimestampScore(r.Timestamp), Member: r.ID}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, RecordKey(c.instanceName, r.ID), hash)
		pipe.ZAdd(ctx, IndexKey(c.instanceName, key), z)
		if r.IsStatic {
			pipe.ZAdd(ctx, StaticIndexKey(c.instanceName, key), z)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write effect record to Redis: %w", err)
	}

	eventJSON, err := json.Marshal(EventFor(r))
	if err != nil {
		return fmt.Errorf("failed to marshal effect event: %w", err)
	}

	if err := c.rdb.Publish(ctx, EffectEventsChannel(c.instanceName), eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish effect event: %w", err)
	}

	return nil
}

// Find returns the records matching q, newest first.
// Recent records come from the key's timestamp index; static records are
// merged in from the static index regardless of age.
func (c *Client) Find(ctx context.Context, q Query) ([]*EffectRecord, error) {
	if err := q.Key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	min := "-inf"
	if !q.Cutoff.IsZero() {
		min = strconv.FormatInt(q.Cutoff.UnixMilli(), 10)
	}

	stop := int64(-1)
	if q.Limit > 0 {
		stop = int64(q.Limit) - 1
	}

	recent, err := c.rdb.ZRevRangeByScore(ctx, IndexKey(c.instanceName, q.Key), &redis.ZRangeBy{
		Min:   min,
		Max:   "+inf",
		Count: int64(q.Limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read effect index: %w", err)
	}

	static, err := c.rdb.ZRevRange(ctx, StaticIndexKey(c.instanceName, q.Key), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read static effect index: %w", err)
	}

	ids := make([]string, 0, len(recent)+len(static))
	seen := make(map[string]struct{}, len(recent)+len(static))
	for _, id := range append(recent, static...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	records, err := c.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := records[:0]
	for _, r := range records {
		if q.Matches(r) {
			out = append(out, r)
		}
	}

	SortNewestFirst(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// fetch reads record hashes in one pipeline. Missing hashes are skipped.
func (c *Client) fetch(ctx context.Context, ids []string) ([]*EffectRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, RecordKey(c.instanceName, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read effect records from Redis: %w", err)
	}

	records := make([]*EffectRecord, 0, len(ids))
	for i, cmd := range cmds {
		hash := cmd.Val()
		if len(hash) == 0 {
			continue
		}
		r, err := HashToRecord(hash)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize effect record %s: %w", ids[i], err)
		}
		records = append(records, r)
	}
	return records, nil
}

// GetRecord retrieves a record by ID.
// Returns ErrRecordNotFound if it does not exist.
func (c *Client) GetRecord(ctx context.Context, recordID string) (*EffectRecord, error) {
	hash, err := c.rdb.HGetAll(ctx, RecordKey(c.instanceName, recordID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read effect record from Redis: %w", err)
	}

	// HGetAll returns an empty map for missing keys
	if len(hash) == 0 {
		return nil, ErrRecordNotFound
	}

	r, err := HashToRecord(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize effect record: %w", err)
	}
	return r, nil
}

// ScanRecords returns the IDs of all records whose ID starts with idPrefix.
func (c *Client) ScanRecords(ctx context.Context, idPrefix string) ([]string, error) {
	pattern := RecordKeyPattern(c.instanceName, idPrefix)
	prefix := RecordKey(c.instanceName, "")

	var ids []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan effect records: %w", err)
	}
	return ids, nil
}

// ListRecords returns every record in the instance, newest first.
func (c *Client) ListRecords(ctx context.Context) ([]*EffectRecord, error) {
	ids, err := c.ScanRecords(ctx, "")
	if err != nil {
		return nil, err
	}

	records, err := c.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	SortNewestFirst(records)
	return records, nil
}

// Subscription is an active Pub/Sub subscription to insert events.
// Callers must Close it when done.
type Subscription struct {
	events <-chan *EffectEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of insert events. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan *EffectEvent {
	return s.events
}

// Errors returns non-fatal subscription errors such as undecodable messages.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeEffectEvents subscribes to insert events for this instance.
// Delivery is at-most-once; slow subscribers may miss events.
func (c *Client) SubscribeEffectEvents(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, EffectEventsChannel(c.instanceName))

	// Wait for the subscription to be confirmed so no event published after
	// this call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to effect events: %w", err)
	}

	eventsChan := make(chan *EffectEvent, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event EffectEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal effect event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
