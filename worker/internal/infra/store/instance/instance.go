package instancestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "segpipeline:instance:"

// Snapshot is the last health state a worker published about itself.
type Snapshot struct {
	ID          string          `json:"id" yaml:"id"`
	Status      string          `json:"status" yaml:"status"`
	Ready       bool            `json:"ready" yaml:"ready"`
	Reason      string          `json:"reason,omitempty" yaml:"reason,omitempty"`
	ActiveTasks int             `json:"active_tasks" yaml:"active_tasks"`
	MaxTasks    int             `json:"max_tasks" yaml:"max_tasks"`
	UpdatedAt   time.Time       `json:"updated_at" yaml:"updated_at"`
	Report      json.RawMessage `json:"report,omitempty" yaml:"-"`
}

type redisInstanceStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisInstanceStore keeps each snapshot for ttl after its last
// publish, so a dead worker drops out on its own.
func NewRedisInstanceStore(rdb redis.Cmdable, ttl time.Duration) *redisInstanceStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &redisInstanceStore{rdb: rdb, ttl: ttl}
}

func (s *redisInstanceStore) Publish(ctx context.Context, snap Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("publish instance: empty id")
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
	hk := instanceKey(snap.ID)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, hk,
		"status", snap.Status,
		"ready", strconv.FormatBool(snap.Ready),
		"reason", snap.Reason,
		"active_tasks", snap.ActiveTasks,
		"max_tasks", snap.MaxTasks,
		"updated_at", snap.UpdatedAt.UnixNano(),
		"report", string(snap.Report),
	)
	pipe.Expire(ctx, hk, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish instance: %w", err)
	}
	return nil
}

func (s *redisInstanceStore) Remove(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, instanceKey(id)).Err(); err != nil {
		return fmt.Errorf("redis remove instance: %w", err)
	}
	return nil
}

func (s *redisInstanceStore) Instance(ctx context.Context, id string) (Snapshot, bool, error) {
	res, err := s.rdb.HGetAll(ctx, instanceKey(id)).Result()
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("redis instance: %w", err)
	}
	if len(res) == 0 {
		return Snapshot{}, false, nil
	}

	snap := Snapshot{
		ID:     id,
		Status: res["status"],
		Reason: res["reason"],
	}
	snap.Ready, _ = strconv.ParseBool(res["ready"])
	if v, err := strconv.Atoi(res["active_tasks"]); err == nil {
		snap.ActiveTasks = v
	}
	if v, err := strconv.Atoi(res["max_tasks"]); err == nil {
		snap.MaxTasks = v
	}
	if v, err := strconv.ParseInt(res["updated_at"], 10, 64); err == nil {
		snap.UpdatedAt = time.Unix(0, v)
	}
	if r := res["report"]; r != "" {
		snap.Report = json.RawMessage(r)
	}
	return snap, true, nil
}

// List returns every live instance ordered by id.
func (s *redisInstanceStore) List(ctx context.Context) ([]Snapshot, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan instances: %w", err)
	}
	sort.Strings(ids)

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, ok, err := s.Instance(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, snap)
		}
	}
	return out, nil
}

func instanceKey(id string) string {
	return keyPrefix + id
}
