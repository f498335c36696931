// Package cache keeps the latest metric of each system in Redis so the
// dashboard's hot path does not scan the metrics table.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"infra-monitor/pkg/db"
	"infra-monitor/pkg/models"

	"github.com/go-redis/redis/v8"
)

type LatestMetrics struct {
	redis *db.RedisClient
	ttl   time.Duration
}

func NewLatestMetrics(client *db.RedisClient, ttl time.Duration) *LatestMetrics {
	return &LatestMetrics{redis: client, ttl: ttl}
}

func (c *LatestMetrics) key(systemID int64) string {
	return c.redis.Key("metrics", strconv.FormatInt(systemID, 10), "latest")
}

// storeIfNewer replaces the hash only when the incoming metric sorts after
// the cached one by (timestamp, id), the order the store uses for "latest".
// ARGV: timestamp (unix micros), id, ttl (ms), then field/value pairs.
var storeIfNewer = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'timestamp', 'id')
if cur[1] and cur[2] then
	local ts, id = tonumber(cur[1]), tonumber(cur[2])
	local nts, nid = tonumber(ARGV[1]), tonumber(ARGV[2])
	if ts > nts or (ts == nts and id >= nid) then
		return 0
	end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// Store caches m as its system's latest metric unless a newer one is
// already cached. It reports whether the cache was updated.
func (c *LatestMetrics) Store(ctx context.Context, m models.Metric) (bool, error) {
	args := []interface{}{m.Timestamp.UnixMicro(), m.ID, c.ttl.Milliseconds()}
	for field, value := range encode(m) {
		args = append(args, field, value)
	}

	stored, err := storeIfNewer.Run(ctx, c.redis, []string{c.key(m.SystemID)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("cache latest metric for system %d: %w", m.SystemID, err)
	}
	return stored == 1, nil
}

// Lookup returns cached entries for the given systems and the ids that
// were not cached.
func (c *LatestMetrics) Lookup(ctx context.Context, systemIDs []int64) (map[int64]models.Metric, []int64, error) {
	if len(systemIDs) == 0 {
		return map[int64]models.Metric{}, nil, nil
	}

	pipe := c.redis.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(systemIDs))
	for i, id := range systemIDs {
		cmds[i] = pipe.HGetAll(ctx, c.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, nil, fmt.Errorf("read latest metrics: %w", err)
	}

	hits := make(map[int64]models.Metric, len(systemIDs))
	var missing []int64
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			missing = append(missing, systemIDs[i])
			continue
		}
		m, err := decode(fields)
		if err != nil {
			missing = append(missing, systemIDs[i])
			continue
		}
		hits[systemIDs[i]] = m
	}
	return hits, missing, nil
}

func (c *LatestMetrics) Forget(ctx context.Context, systemID int64) error {
	return c.redis.Del(ctx, c.key(systemID)).Err()
}

func encode(m models.Metric) map[string]interface{} {
	fields := map[string]interface{}{
		"id":           m.ID,
		"system_id":    m.SystemID,
		"cpu_usage":    m.CPUUsage,
		"memory_usage": m.MemoryUsage,
		"disk_usage":   m.DiskUsage,
		"network_in":   m.NetworkIn,
		"network_out":  m.NetworkOut,
		"timestamp":    m.Timestamp.UnixMicro(),
	}
	if len(m.Data) > 0 {
		fields["data"] = string(m.Data)
	}
	return fields
}

func decode(fields map[string]string) (models.Metric, error) {
	var m models.Metric
	var err error
	parseInt := func(key string) int64 {
		if err != nil {
			return 0
		}
		var v int64
		v, err = strconv.ParseInt(fields[key], 10, 64)
		return v
	}
	parseFloat := func(key string) float64 {
		if err != nil {
			return 0
		}
		var v float64
		v, err = strconv.ParseFloat(fields[key], 64)
		return v
	}

	m.ID = parseInt("id")
	m.SystemID = parseInt("system_id")
	m.CPUUsage = parseFloat("cpu_usage")
	m.MemoryUsage = parseFloat("memory_usage")
	m.DiskUsage = parseFloat("disk_usage")
	m.NetworkIn = parseFloat("network_in")
	m.NetworkOut = parseFloat("network_out")
	ts := parseInt("timestamp")
	if err != nil {
		return models.Metric{}, fmt.Errorf("decode cached metric: %w", err)
	}
	m.Timestamp = time.UnixMicro(ts).UTC()
	if raw, ok := fields["data"]; ok && raw != "" {
		m.Data = json.RawMessage(raw)
	}
	return m, nil
}
