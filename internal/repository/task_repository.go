package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/osvaldoandrade/reportq/internal/metrics"
	"github.com/osvaldoandrade/reportq/pkg/domain"

	"github.com/go-redis/redis/v8"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrNotOwner      = errors.New("task claimed by another worker")
	ErrNotInProgress = errors.New("task not in progress")
)

// DefaultLease is how long a claim survives without a heartbeat.
const DefaultLease = 2 * time.Minute

// LostWorkerError is recorded on tasks whose worker stopped renewing its lease.
const LostWorkerError = "worker lost"

type TaskRepository interface {
	// Enqueue stores the descriptor and makes it visible to workers in one transaction.
	Enqueue(ctx context.Context, task *domain.Task) error
	// Claim also takes a lease on the task for workerID, see Heartbeat.
	Claim(ctx context.Context, workerID string, kinds []domain.Kind) (*domain.Task, bool, error)
	// Heartbeat extends the lease workerID holds on taskID. It returns ErrNotOwner once
	// the lease expired or belongs to someone else.
	Heartbeat(ctx context.Context, taskID, workerID string) error
	// Lease is the lifetime of a claim between heartbeats.
	Lease() time.Duration
	// FailExpiredLeases finishes up to limit in-progress tasks per kind whose lease
	// expired as FAILED with LostWorkerError. They are not requeued.
	FailExpiredLeases(ctx context.Context, limit int) ([]string, error)
	Finish(ctx context.Context, taskID, workerID string, outcome Outcome) (*domain.TaskState, error)
	Get(ctx context.Context, taskID string) (*domain.Task, error)
	GetState(ctx context.Context, taskID string) (*domain.TaskState, error)
	PendingLength(ctx context.Context, kind domain.Kind) (int64, error)
	QueueStats(ctx context.Context, kind domain.Kind) (*domain.QueueStats, error)
	AdminQueues(ctx context.Context) (map[string]any, error)

	// CleanupExpired removes up to limit tasks that finished before the given time
	// and returns their ids.
	CleanupExpired(ctx context.Context, limit int, before time.Time) ([]string, error)
}

// Outcome is the final record a worker writes for a task.
type Outcome struct {
	Status     domain.TaskStatus
	FailedStep string
	Error      string
	Steps      []domain.StepTiming
}

type taskRedisRepo struct {
	rdb   *redis.Client
	tz    *time.Location
	lease time.Duration
}

type TaskRepositoryOption func(*taskRedisRepo)

// WithLease overrides DefaultLease.
func WithLease(d time.Duration) TaskRepositoryOption {
	return func(r *taskRedisRepo) {
		if d > 0 {
			r.lease = d
		}
	}
}

func NewTaskRepository(rdb *redis.Client, tz *time.Location, opts ...TaskRepositoryOption) TaskRepository {
	if tz == nil {
		tz = time.UTC
	}
	r := &taskRedisRepo{rdb: rdb, tz: tz, lease: DefaultLease}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ===== Redis keys =====
func (r *taskRedisRepo) keyTasksHash() string     { return "reportq:tasks" }          // field = id, value = descriptor JSON
func (r *taskRedisRepo) keyStatusHash() string    { return "reportq:status" }         // field = id, value = TaskState JSON
func (r *taskRedisRepo) keyFinishedIndex() string { return "reportq:tasks:finished" } // ZSET: member=id, score=finishedAt (epoch)

const leaseKeyPrefix = "reportq:lease:"

func (r *taskRedisRepo) keyLease(id string) string { return leaseKeyPrefix + id } // STRING: worker id, expires with the lease

func (r *taskRedisRepo) keyQueuePending(kind domain.Kind) string {
	return QueuePendingKey(kind)
}

func (r *taskRedisRepo) keyQueueInprog(kind domain.Kind) string {
	return QueueInprogKey(kind)
}

// QueuePendingKey is the list workers pop ids of the given kind from.
func QueuePendingKey(kind domain.Kind) string {
	return fmt.Sprintf("reportq:q:%s:pending", strings.ToLower(string(kind)))
}

// QueueInprogKey is the set of claimed, unfinished ids of the given kind.
func QueueInprogKey(kind domain.Kind) string {
	return fmt.Sprintf("reportq:q:%s:inprog", strings.ToLower(string(kind)))
}

func (r *taskRedisRepo) now() time.Time { return time.Now().In(r.tz) }

// ===== Helpers =====

func marshal(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalTask(jsonStr string) (*domain.Task, error) {
	var t domain.Task
	if err := json.Unmarshal([]byte(jsonStr), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func unmarshalState(jsonStr string) (*domain.TaskState, error) {
	var s domain.TaskState
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ===== Implementation =====

func (r *taskRedisRepo) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("enqueue: task id is required")
	}
	if !task.Kind.Valid() {
		return fmt.Errorf("enqueue: invalid kind %q", task.Kind)
	}
	now := r.now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	state := domain.TaskState{
		TaskID:    task.ID,
		Kind:      task.Kind,
		Status:    domain.StatusPending,
		UpdatedAt: now,
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.keyTasksHash(), task.ID, marshal(task))
	pipe.HSet(ctx, r.keyStatusHash(), task.ID, marshal(state))
	pipe.LPush(ctx, r.keyQueuePending(task.Kind), task.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis enqueue: %w", err)
	}

	metrics.TaskCreatedTotal.WithLabelValues(string(task.Kind)).Inc()
	return nil
}

// claimMoveScript atomically pops one ID from the pending list, tracks it in the in-progress set
// and takes the lease, so an id is never in progress without a lease owner.
//
// It also skips duplicate IDs that may exist in pending while already in in-progress.
//
// KEYS[1] = pending list key
// KEYS[2] = in-progress set key
// ARGV[1] = max inner iterations (int)
// ARGV[2] = lease key prefix
// ARGV[3] = lease in milliseconds
// ARGV[4] = worker id
var claimMoveScript = redis.NewScript(`
local src = KEYS[1]
local dst = KEYS[2]
local maxIter = tonumber(ARGV[1]) or 1
for i=1,maxIter do
  local id = redis.call("RPOP", src)
  if not id then
    return false
  end
  if redis.call("SADD", dst, id) == 1 then
    redis.call("SET", ARGV[2] .. id, ARGV[4], "PX", ARGV[3])
    return id
  end
end
return false
`)

// renewLeaseScript extends a lease only for its owner.
//
// KEYS[1] = lease key
// ARGV[1] = worker id
// ARGV[2] = lease in milliseconds
var renewLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// failLostScript records the FAILED state of an in-progress task whose lease is gone.
// A worker that finished in the meantime already removed the id from the in-progress set.
//
// KEYS[1] = lease key
// KEYS[2] = in-progress set key
// KEYS[3] = status hash
// KEYS[4] = finished index
// ARGV[1] = task id
// ARGV[2] = state JSON
// ARGV[3] = finished at (epoch seconds)
var failLostScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
if redis.call("SREM", KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[3], ARGV[1], ARGV[2])
redis.call("ZADD", KEYS[4], ARGV[3], ARGV[1])
return 1
`)

// Claim hands the oldest pending task of the first non-empty kind to workerID. A task
// is claimed by exactly one worker.
func (r *taskRedisRepo) Claim(ctx context.Context, workerID string, kinds []domain.Kind) (*domain.Task, bool, error) {
	if len(kinds) == 0 {
		kinds = domain.Kinds()
	}

	tryPop := func(kind domain.Kind) (*domain.Task, bool, error) {
		src := r.keyQueuePending(kind)
		dst := r.keyQueueInprog(kind)

		for {
			res, err := claimMoveScript.Run(ctx, r.rdb, []string{src, dst}, 10, leaseKeyPrefix, r.lease.Milliseconds(), workerID).Result()
			if err == redis.Nil {
				return nil, false, nil
			}
			if err != nil {
				return nil, false, fmt.Errorf("claim move script: %w", err)
			}
			id, ok := res.(string)
			if !ok || id == "" {
				return nil, false, nil
			}

			// The descriptor may have been removed by retention cleanup.
			js, err := r.rdb.HGet(ctx, r.keyTasksHash(), id).Result()
			if err == redis.Nil || js == "" {
				r.release(ctx, dst, id)
				continue
			}
			if err != nil {
				return nil, false, fmt.Errorf("HGET task json: %w", err)
			}
			t, err := unmarshalTask(js)
			if err != nil {
				r.release(ctx, dst, id)
				continue
			}

			now := r.now()
			state := domain.TaskState{
				TaskID:    t.ID,
				Kind:      t.Kind,
				Status:    domain.StatusInProgress,
				WorkerID:  workerID,
				StartedAt: &now,
				UpdatedAt: now,
			}
			if err := r.rdb.HSet(ctx, r.keyStatusHash(), t.ID, marshal(state)).Err(); err != nil {
				return nil, false, fmt.Errorf("HSET task state: %w", err)
			}
			return t, true, nil
		}
	}

	for _, kind := range kinds {
		if task, ok, err := tryPop(kind); err != nil {
			return nil, false, err
		} else if ok {
			metrics.TaskClaimedTotal.WithLabelValues(string(kind)).Inc()
			return task, true, nil
		}
	}
	return nil, false, nil
}

func (r *taskRedisRepo) release(ctx context.Context, inprog, id string) {
	pipe := r.rdb.TxPipeline()
	pipe.SRem(ctx, inprog, id)
	pipe.Del(ctx, r.keyLease(id))
	_, _ = pipe.Exec(ctx)
}

func (r *taskRedisRepo) Lease() time.Duration { return r.lease }

func (r *taskRedisRepo) Heartbeat(ctx context.Context, taskID, workerID string) error {
	n, err := renewLeaseScript.Run(ctx, r.rdb, []string{r.keyLease(taskID)}, workerID, r.lease.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("renew lease of task %s: %w", taskID, ErrNotOwner)
	}
	return nil
}

func (r *taskRedisRepo) FailExpiredLeases(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	var failed []string
	for _, kind := range domain.Kinds() {
		inprog := r.keyQueueInprog(kind)
		ids, err := r.rdb.SRandMemberN(ctx, inprog, int64(limit)).Result()
		if err != nil && err != redis.Nil {
			return failed, fmt.Errorf("SRANDMEMBER inprog: %w", err)
		}
		if len(ids) == 0 {
			continue
		}

		pipe := r.rdb.Pipeline()
		exists := make([]*redis.IntCmd, 0, len(ids))
		for _, id := range ids {
			exists = append(exists, pipe.Exists(ctx, r.keyLease(id)))
		}
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return failed, fmt.Errorf("pipeline lease check: %w", err)
		}

		for i, id := range ids {
			if n, err := exists[i].Result(); err != nil || n > 0 {
				continue
			}
			ok, err := r.failLost(ctx, kind, id)
			if err != nil {
				return failed, err
			}
			if ok {
				failed = append(failed, id)
			}
		}
	}
	return failed, nil
}

func (r *taskRedisRepo) failLost(ctx context.Context, kind domain.Kind, id string) (bool, error) {
	now := r.now()
	state, err := r.GetState(ctx, id)
	if errors.Is(err, ErrTaskNotFound) {
		state = &domain.TaskState{TaskID: id, Kind: kind}
	} else if err != nil {
		return false, err
	}
	if state.StartedAt == nil {
		state.StartedAt = &now
	}
	state.Status = domain.StatusFailed
	state.Error = LostWorkerError
	state.FinishedAt = &now
	state.UpdatedAt = now

	n, err := failLostScript.Run(ctx, r.rdb,
		[]string{r.keyLease(id), r.keyQueueInprog(kind), r.keyStatusHash(), r.keyFinishedIndex()},
		id, marshal(state), now.UTC().Unix(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("fail lost task %s: %w", id, err)
	}
	if n == 0 {
		return false, nil
	}
	metrics.LeaseExpiredTotal.WithLabelValues(string(kind)).Inc()
	metrics.TaskCompletedTotal.WithLabelValues(string(kind), string(domain.StatusFailed)).Inc()
	return true, nil
}

func (r *taskRedisRepo) Finish(ctx context.Context, taskID, workerID string, outcome Outcome) (*domain.TaskState, error) {
	if !outcome.Status.Terminal() {
		return nil, fmt.Errorf("finish: %s is not a final status", outcome.Status)
	}
	task, err := r.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	state, err := r.GetState(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if state.Status != domain.StatusInProgress {
		return nil, ErrNotInProgress
	}
	if workerID != "" && state.WorkerID != workerID {
		return nil, ErrNotOwner
	}

	now := r.now()
	state.Status = outcome.Status
	state.FailedStep = outcome.FailedStep
	state.Error = outcome.Error
	state.Steps = outcome.Steps
	state.FinishedAt = &now
	state.UpdatedAt = now

	pipe := r.rdb.TxPipeline()
	pipe.SRem(ctx, r.keyQueueInprog(task.Kind), taskID)
	pipe.Del(ctx, r.keyLease(taskID))
	pipe.HSet(ctx, r.keyStatusHash(), taskID, marshal(state))
	pipe.ZAdd(ctx, r.keyFinishedIndex(), &redis.Z{Score: float64(now.UTC().Unix()), Member: taskID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	metrics.TaskCompletedTotal.WithLabelValues(string(task.Kind), string(state.Status)).Inc()
	if d := now.Sub(task.CreatedAt).Seconds(); d >= 0 {
		metrics.TaskProcessingLatencySeconds.WithLabelValues(string(task.Kind), string(state.Status)).Observe(d)
	}
	return state, nil
}

func (r *taskRedisRepo) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	js, err := r.rdb.HGet(ctx, r.keyTasksHash(), taskID).Result()
	if err == redis.Nil || js == "" {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("HGET task: %w", err)
	}
	t, err := unmarshalTask(js)
	if err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return t, nil
}

func (r *taskRedisRepo) GetState(ctx context.Context, taskID string) (*domain.TaskState, error) {
	js, err := r.rdb.HGet(ctx, r.keyStatusHash(), taskID).Result()
	if err == redis.Nil || js == "" {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("HGET task state: %w", err)
	}
	s, err := unmarshalState(js)
	if err != nil {
		return nil, fmt.Errorf("unmarshal task state: %w", err)
	}
	return s, nil
}

func (r *taskRedisRepo) AdminQueues(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	for _, kind := range domain.Kinds() {
		kp := r.keyQueuePending(kind)
		lp, err := r.rdb.LLen(ctx, kp).Result()
		if err != nil && err != redis.Nil {
			return nil, err
		}
		out[kp] = lp

		ki := r.keyQueueInprog(kind)
		li, err := r.rdb.SCard(ctx, ki).Result()
		if err != nil && err != redis.Nil {
			return nil, err
		}
		out[ki] = li
	}
	lf, err := r.rdb.ZCard(ctx, r.keyFinishedIndex()).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out[r.keyFinishedIndex()] = lf
	return out, nil
}

func (r *taskRedisRepo) QueueStats(ctx context.Context, kind domain.Kind) (*domain.QueueStats, error) {
	pending, err := r.rdb.LLen(ctx, r.keyQueuePending(kind)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	inprog, err := r.rdb.SCard(ctx, r.keyQueueInprog(kind)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	finished, err := r.rdb.ZCard(ctx, r.keyFinishedIndex()).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return &domain.QueueStats{
		Kind:       kind,
		Pending:    pending,
		InProgress: inprog,
		Finished:   finished,
	}, nil
}

func (r *taskRedisRepo) PendingLength(ctx context.Context, kind domain.Kind) (int64, error) {
	n, err := r.rdb.LLen(ctx, r.keyQueuePending(kind)).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return n, nil
}

func (r *taskRedisRepo) CleanupExpired(ctx context.Context, limit int, before time.Time) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	maxTS := strconv.FormatInt(before.UTC().Unix(), 10)
	zrange := &redis.ZRangeBy{Min: "-inf", Max: maxTS, Offset: 0, Count: int64(limit)}

	ids, err := r.rdb.ZRangeByScore(ctx, r.keyFinishedIndex(), zrange).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	deleted := make([]string, 0, len(ids))
	for _, id := range ids {
		pipe := r.rdb.TxPipeline()
		pipe.HDel(ctx, r.keyTasksHash(), id)
		pipe.HDel(ctx, r.keyStatusHash(), id)
		pipe.ZRem(ctx, r.keyFinishedIndex(), id)
		if _, err := pipe.Exec(ctx); err == nil {
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}
