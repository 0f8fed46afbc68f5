// Package store caches the most recent published point per device in Redis.
// The cache is advisory: every method is a clean no-op when no Redis address
// was configured.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ingest-svr/internal/point"
)

const positionTTL = 10 * time.Minute

// Positions is the last-position cache. A nil *Positions is valid and inert.
type Positions struct {
	rdb *redis.Client
}

// Open connects and pings. An empty addr returns a nil store.
func Open(ctx context.Context, addr string, db int) (*Positions, error) {
	if addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Positions{rdb: rdb}, nil
}

func key(deviceID string) string { return "pos:" + deviceID }

// Set stores the latest point for its device with a sliding TTL.
func (s *Positions) Set(ctx context.Context, pt point.Point) error {
	if s == nil {
		return nil
	}
	body, err := json.Marshal(pt)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key(pt.DeviceID), body, positionTTL).Err()
}

// Get returns the cached point for one device, ok=false on miss.
func (s *Positions) Get(ctx context.Context, deviceID string) (point.Point, bool) {
	var pt point.Point
	if s == nil {
		return pt, false
	}
	body, err := s.rdb.Get(ctx, key(deviceID)).Bytes()
	if err != nil {
		return pt, false
	}
	if err := json.Unmarshal(body, &pt); err != nil {
		return pt, false
	}
	return pt, true
}

// Snapshot returns the cached points for a set of devices via one MGET.
func (s *Positions) Snapshot(ctx context.Context, deviceIDs []string) map[string]point.Point {
	out := make(map[string]point.Point, len(deviceIDs))
	if s == nil || len(deviceIDs) == 0 {
		return out
	}
	keys := make([]string, len(deviceIDs))
	for i, id := range deviceIDs {
		keys[i] = key(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return out
	}
	for i, v := range vals {
		body, ok := v.(string)
		if !ok {
			continue
		}
		var pt point.Point
		if err := json.Unmarshal([]byte(body), &pt); err == nil {
			out[deviceIDs[i]] = pt
		}
	}
	return out
}

// Close releases the client.
func (s *Positions) Close() error {
	if s == nil {
		return nil
	}
	return s.rdb.Close()
}
