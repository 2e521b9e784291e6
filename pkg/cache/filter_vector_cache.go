// Package cache provides the two-level embedding vector cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coocood/freecache"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"spamfilter/core/port/out"
)

var _ out.EmbeddingCache = (*VectorCache)(nil)

const defaultKeyPrefix = "spamfilter:emb:"

// VectorCache keeps encoded vectors in an in-process L1 (freecache) and an
// optional shared L2 (Redis). Either level may be disabled.
type VectorCache struct {
	l1     *freecache.Cache
	l2     *redis.Client
	prefix string
}

// NewVectorCache creates a cache. l1Bytes <= 0 disables L1; a nil client
// disables L2.
func NewVectorCache(l1Bytes int, client *redis.Client, prefix string) *VectorCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	c := &VectorCache{l2: client, prefix: prefix}
	if l1Bytes > 0 {
		c.l1 = freecache.NewCache(l1Bytes)
	}
	return c
}

// L1SizeFor estimates the L1 byte budget for n vectors of dim floats.
func L1SizeFor(n, dim int) int {
	if n <= 0 || dim <= 0 {
		return 0
	}
	// msgpack float32 = 5 bytes, plus entry header and key
	return n * (dim*5 + 64)
}

// GetVector looks up L1 first, then L2. An L2 hit is copied into L1.
func (c *VectorCache) GetVector(ctx context.Context, key string) ([]float32, bool, error) {
	k := c.prefix + key

	if c.l1 != nil {
		if data, err := c.l1.Get([]byte(k)); err == nil {
			vec, derr := decodeVector(data)
			if derr == nil {
				return vec, true, nil
			}
			c.l1.Del([]byte(k))
		}
	}

	if c.l2 == nil {
		return nil, false, nil
	}
	data, err := c.l2.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	vec, err := decodeVector(data)
	if err != nil {
		return nil, false, err
	}
	if c.l1 != nil {
		_ = c.l1.Set([]byte(k), data, 0)
	}
	return vec, true, nil
}

// SetVector writes to every enabled level. ttl <= 0 means no expiry.
func (c *VectorCache) SetVector(ctx context.Context, key string, vec []float32, ttl time.Duration) error {
	data, err := msgpack.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encode vector: %w", err)
	}
	k := c.prefix + key

	var errs []error
	if c.l1 != nil {
		if err := c.l1.Set([]byte(k), data, ttlSeconds(ttl)); err != nil {
			errs = append(errs, fmt.Errorf("l1 set: %w", err))
		}
	}
	if c.l2 != nil {
		if ttl < 0 {
			ttl = 0
		}
		if err := c.l2.Set(ctx, k, data, ttl).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis set: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Stats reports L1 hit rate and entry count.
func (c *VectorCache) Stats() map[string]interface{} {
	if c.l1 == nil {
		return map[string]interface{}{"l1_enabled": false, "l2_enabled": c.l2 != nil}
	}
	return map[string]interface{}{
		"l1_enabled": true,
		"l2_enabled": c.l2 != nil,
		"l1_entries": c.l1.EntryCount(),
		"l1_hitrate": c.l1.HitRate(),
	}
}

func ttlSeconds(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	s := int(ttl / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

func decodeVector(data []byte) ([]float32, error) {
	var vec []float32
	if err := msgpack.Unmarshal(data, &vec); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	return vec, nil
}
