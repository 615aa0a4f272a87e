package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"app/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

// PaymentStatusEntry キャッシュに置く支払いサマリ。
// あくまで参照用で、状態遷移の判断には絶対に使わない。
type PaymentStatusEntry struct {
	PaymentID int64               `json:"payment_id"`
	PaymentNo string              `json:"payment_no"`
	OrderID   int64               `json:"order_id"`
	UserID    int64               `json:"user_id"`
	Status    model.PaymentStatus `json:"status"`
}

type StatusCache interface {
	Set(ctx context.Context, entry PaymentStatusEntry, ttl time.Duration) error
	Get(ctx context.Context, paymentID int64) (PaymentStatusEntry, bool, error)
	Delete(ctx context.Context, paymentID int64) error
}

func key(paymentID int64) string {
	return "payment:" + strconv.FormatInt(paymentID, 10)
}

type RedisStatusCache struct {
	client *redis.Client
}

func NewRedisStatusCache(client *redis.Client) *RedisStatusCache {
	return &RedisStatusCache{client: client}
}

func (c *RedisStatusCache) Set(ctx context.Context, entry PaymentStatusEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(entry.PaymentID), b, ttl).Err()
}

func (c *RedisStatusCache) Get(ctx context.Context, paymentID int64) (PaymentStatusEntry, bool, error) {
	b, err := c.client.Get(ctx, key(paymentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PaymentStatusEntry{}, false, nil
	}
	if err != nil {
		return PaymentStatusEntry{}, false, err
	}

	var entry PaymentStatusEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		return PaymentStatusEntry{}, false, err
	}
	return entry, true, nil
}

func (c *RedisStatusCache) Delete(ctx context.Context, paymentID int64) error {
	return c.client.Del(ctx, key(paymentID)).Err()
}

// NoopStatusCache Redis未設定のときの実装。
// キャッシュが無くても正しさは変わらない（遅くなるだけ）。
type NoopStatusCache struct{}

func NewNoopStatusCache() *NoopStatusCache {
	return &NoopStatusCache{}
}

func (NoopStatusCache) Set(ctx context.Context, entry PaymentStatusEntry, ttl time.Duration) error {
	return nil
}

func (NoopStatusCache) Get(ctx context.Context, paymentID int64) (PaymentStatusEntry, bool, error) {
	return PaymentStatusEntry{}, false, nil
}

func (NoopStatusCache) Delete(ctx context.Context, paymentID int64) error {
	return nil
}
