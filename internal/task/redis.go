package task

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

// RedisStore persists task metadata as a hash at task:{id} and the result
// blob at task:{id}:result. Status writes go through WATCH transactions so
// the state machine holds even with a worker and a reconciling reader
// pointed at the same record.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

var _ Store = (*RedisStore)(nil)

func taskKey(id string) string   { return "task:" + id }
func resultKey(id string) string { return taskKey(id) + ":result" }

func taskFields(t *Task) map[string]any {
	return map[string]any{
		"task_id":         t.ID,
		"owner":           t.Owner,
		"status":          string(t.Status),
		"filename":        t.Filename,
		"language":        t.Language,
		"use_gpu":         strconv.FormatBool(t.UseGPU),
		"created_at":      t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"error":           t.Error,
		"external_job_id": t.ExternalJobID,
	}
}

func taskFromHash(m map[string]string) (*Task, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, m["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	useGPU, _ := strconv.ParseBool(m["use_gpu"])
	return &Task{
		ID:            m["task_id"],
		Owner:         m["owner"],
		Status:        Status(m["status"]),
		Filename:      m["filename"],
		Language:      m["language"],
		UseGPU:        useGPU,
		CreatedAt:     createdAt,
		Error:         m["error"],
		ExternalJobID: m["external_job_id"],
	}, nil
}

func (s *RedisStore) Create(ctx context.Context, t *Task) error {
	if err := s.rdb.HSet(ctx, taskKey(t.ID), taskFields(t)).Err(); err != nil {
		return fmt.Errorf("hset task: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Task, error) {
	m, err := s.rdb.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall task: %w", err)
	}
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	return taskFromHash(m)
}

func (s *RedisStore) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error {
	if status == StatusCompleted {
		return ErrNilResult
	}
	key := taskKey(id)
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		m, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("hgetall task: %w", err)
		}
		if len(m) == 0 {
			return ErrNotFound
		}
		current, err := taskFromHash(m)
		if err != nil {
			return err
		}
		noop, err := CheckTransition(current, status, errMsg)
		if err != nil || noop {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "status", string(status), "error", errMsg)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) SetResult(ctx context.Context, id string, res *Result) error {
	if res == nil {
		return ErrNilResult
	}
	blob, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	key := taskKey(id)
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		m, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("hgetall task: %w", err)
		}
		if len(m) == 0 {
			return ErrNotFound
		}
		current, err := taskFromHash(m)
		if err != nil {
			return err
		}
		if current.Status == StatusCompleted {
			return nil
		}
		if !ValidTransition(current.Status, StatusCompleted) {
			return ErrInvalidTransition
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "status", string(StatusCompleted), "error", "")
			pipe.Set(ctx, resultKey(id), blob, 0)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) Result(ctx context.Context, id string) (*Result, error) {
	blob, err := s.rdb.Get(ctx, resultKey(id)).Bytes()
	if err == redis.Nil {
		exists, eerr := s.rdb.Exists(ctx, taskKey(id)).Result()
		if eerr != nil {
			return nil, fmt.Errorf("exists task: %w", eerr)
		}
		if exists == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	var res Result
	if err := json.Unmarshal(blob, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}

func (s *RedisStore) SetExternalJobID(ctx context.Context, id, jobID string) error {
	key := taskKey(id)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("exists task: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	if err := s.rdb.HSet(ctx, key, "external_job_id", jobID).Err(); err != nil {
		return fmt.Errorf("hset external_job_id: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	deleted, err := s.rdb.Del(ctx, taskKey(id), resultKey(id)).Result()
	if err != nil {
		return fmt.Errorf("del task: %w", err)
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, owner string, statusFilter Status) ([]*Task, error) {
	out := make([]*Task, 0)
	iter := s.rdb.Scan(ctx, 0, "task:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, ":result") {
			continue
		}
		m, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("hgetall %s: %w", key, err)
		}
		if len(m) == 0 {
			continue
		}
		t, err := taskFromHash(m)
		if err != nil {
			continue
		}
		if t.Owner != owner {
			continue
		}
		if statusFilter != "" && t.Status != statusFilter {
			continue
		}
		out = append(out, t)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
