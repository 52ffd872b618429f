package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/yourorg/holdings-ledger/internal/domain"
)

const DefaultSnapshotTTL = 10 * time.Minute

func changeChannel(userID uuid.UUID) string { return "portfolio." + userID.String() }

func snapshotKey(userID uuid.UUID) string { return "portfolio_snapshot:" + userID.String() }

// PortfolioFeed publishes committed portfolio changes and caches the
// latest one per user so new subscribers start from current state.
type PortfolioFeed struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPortfolioFeed(client *redis.Client, ttl time.Duration) *PortfolioFeed {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &PortfolioFeed{client: client, ttl: ttl}
}

// DialPortfolioFeed connects to the redis server at redisURL and fails
// unless it answers a ping.
func DialPortfolioFeed(ctx context.Context, redisURL string, ttl time.Duration) (*PortfolioFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewPortfolioFeed(client, ttl), nil
}

func (f *PortfolioFeed) Close() error {
	return f.client.Close()
}

func (f *PortfolioFeed) Publish(ctx context.Context, change domain.PortfolioChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	pipe := f.client.Pipeline()
	pipe.Publish(ctx, changeChannel(change.UserID), data)
	pipe.Set(ctx, snapshotKey(change.UserID), data, f.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// LastSnapshot returns the cached latest change for userID, or nil when
// none is cached.
func (f *PortfolioFeed) LastSnapshot(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	val, err := f.client.Get(ctx, snapshotKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get portfolio snapshot: %w", err)
	}
	return val, nil
}

// Changes streams raw change payloads for userID until ctx is done.
func (f *PortfolioFeed) Changes(ctx context.Context, userID uuid.UUID) (<-chan []byte, error) {
	pubsub := f.client.Subscribe(ctx, changeChannel(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (f *PortfolioFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}
