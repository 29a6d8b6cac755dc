package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/satq-io/satq/internal/config"
)

// Queue keys. The dead list is reserved for operator tooling: nothing in the
// pipeline moves jobs there automatically.
const (
	PendingQueue    = "q:pending"
	ProcessingQueue = "q:processing"
	DeadQueue       = "q:dead"
)

// defaultJobTTL bounds how long an unclaimed payload survives in Redis.
const defaultJobTTL = time.Hour

// PayloadKey returns the key holding the JSON job payload for a run.
func PayloadKey(runID int64) string {
	return fmt.Sprintf("job:%d:payload", runID)
}

// MetaKey returns the key of the metadata hash for a run
// (attempts, created_at, last_claimed_at, failed_at, last_error).
func MetaKey(runID int64) string {
	return fmt.Sprintf("job:%d:meta", runID)
}

// StatusKey returns the advisory status key for a run. The database is the
// source of truth; this key only mirrors it for queue inspection tools.
func StatusKey(runID int64) string {
	return fmt.Sprintf("job:%d:status", runID)
}

type (
	// JobPayload is the unit of work handed from the submission service to a
	// worker through the pending list.
	JobPayload struct {
		Formula   string `json:"formula"`
		RunID     int64  `json:"run_id"`
		FormulaID int64  `json:"formula_id"`
		Mode      string `json:"mode"`
		TimeoutS  int    `json:"timeout_s"`
	}

	// ClaimedJob is a job delivered to exactly one worker by Claim.
	ClaimedJob struct {
		RunID   int64
		Payload JobPayload
	}

	// Broker implements enqueue/claim/ack/fail over Redis lists with
	// pipelined multi-key updates.
	Broker struct {
		client *redis.Client
		jobTTL time.Duration
		logger *slog.Logger
	}

	// BrokerOption configures optional Broker behavior.
	BrokerOption func(*Broker)
)

// WithJobTTL overrides the payload/status key TTL (default 1 hour).
func WithJobTTL(ttl time.Duration) BrokerOption {
	return func(b *Broker) {
		b.jobTTL = ttl
	}
}

// NewBroker creates a Redis-backed work queue broker.
func NewBroker(client *redis.Client, opts ...BrokerOption) *Broker {
	b := &Broker{
		client: client,
		jobTTL: defaultJobTTL,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Enqueue registers a new job in a single atomic batch: payload JSON with TTL,
// metadata hash, advisory status key, and a left-push of the run id onto the
// pending list. Claim pops from the tail, so distinct submissions are
// delivered in FIFO order.
func (b *Broker) Enqueue(ctx context.Context, runID int64, payload *JobPayload) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload for run %d: %w", runID, err)
	}

	now := time.Now().Unix()

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, PayloadKey(runID), encoded, b.jobTTL)
	pipe.HSet(ctx, MetaKey(runID), map[string]any{
		"attempts":        0,
		"created_at":      now,
		"last_claimed_at": 0,
	})
	pipe.Set(ctx, StatusKey(runID), "QUEUED", b.jobTTL)
	pipe.LPush(ctx, PendingQueue, runID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue run %d: %w", runID, err)
	}

	b.logger.Info("Enqueued run", slog.Int64("run_id", runID), slog.String("mode", payload.Mode))

	return nil
}

// Claim atomically rotates one run id from pending onto processing, blocking
// up to timeout for an item to appear, then fetches its payload.
//
// Returns (nil, nil) when the queue is empty for the full window, and also for
// poison entries (non-integer id, missing or invalid payload), which are
// removed from the processing list and skipped. The follow-up metadata update
// (last_claimed_at, attempts) is best-effort: its failure is logged and the
// claim still succeeds.
func (b *Broker) Claim(ctx context.Context, timeout time.Duration) (*ClaimedJob, error) {
	raw, err := b.client.BRPopLPush(ctx, PendingQueue, ProcessingQueue, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("claim from pending: %w", err)
	}

	runID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		b.logger.Error("Claimed non-integer run id", slog.String("raw", raw))
		b.removeFromProcessing(ctx, raw)

		return nil, nil
	}

	payloadJSON, err := b.client.Get(ctx, PayloadKey(runID)).Result()
	if errors.Is(err, redis.Nil) {
		b.logger.Error("Payload missing for claimed run", slog.Int64("run_id", runID))
		b.removeFromProcessing(ctx, raw)

		return nil, nil
	}

	if err != nil {
		b.removeFromProcessing(ctx, raw)

		return nil, fmt.Errorf("fetch payload for run %d: %w", runID, err)
	}

	var payload JobPayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		b.logger.Error("Invalid payload JSON for claimed run",
			slog.Int64("run_id", runID),
			slog.String("error", err.Error()),
		)
		b.removeFromProcessing(ctx, raw)

		return nil, nil
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, MetaKey(runID), "last_claimed_at", time.Now().Unix())
	pipe.HIncrBy(ctx, MetaKey(runID), "attempts", 1)

	if _, err := pipe.Exec(ctx); err != nil {
		// Metadata failure must not break job processing.
		b.logger.Warn("Failed to update claim metadata",
			slog.Int64("run_id", runID),
			slog.String("error", err.Error()),
		)
	}

	return &ClaimedJob{RunID: runID, Payload: payload}, nil
}

// Ack removes a completed job from the processing list and deletes its payload
// and metadata. Errors are logged and swallowed: the store already holds the
// terminal outcome, so a failed ack only leaves a stale entry for operators.
func (b *Broker) Ack(ctx context.Context, runID int64) {
	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, ProcessingQueue, 1, strconv.FormatInt(runID, 10))
	pipe.Del(ctx, PayloadKey(runID))
	pipe.Del(ctx, MetaKey(runID))

	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.Error("Failed to ack run", slog.Int64("run_id", runID), slog.String("error", err.Error()))

		return
	}

	b.logger.Info("Acked run", slog.Int64("run_id", runID))
}

// Fail marks a job failed at the queue level: removed from processing, with
// failed_at and last_error recorded in the metadata hash. The job is not
// requeued. Used as last-resort cleanup when the store write itself failed;
// errors are logged and swallowed for the same reason as Ack.
func (b *Broker) Fail(ctx context.Context, runID int64, reason string) {
	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, ProcessingQueue, 1, strconv.FormatInt(runID, 10))
	pipe.HSet(ctx, MetaKey(runID), map[string]any{
		"failed_at":  time.Now().Unix(),
		"last_error": reason,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.Error("Failed queue-level fail",
			slog.Int64("run_id", runID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)

		return
	}

	b.logger.Warn("Failed run at queue level", slog.Int64("run_id", runID), slog.String("reason", reason))
}

// Healthy reports whether Redis answers a ping. Used by the health probes.
func (b *Broker) Healthy(ctx context.Context) bool {
	return b.client.Ping(ctx).Err() == nil
}

func (b *Broker) removeFromProcessing(ctx context.Context, raw string) {
	if err := b.client.LRem(ctx, ProcessingQueue, 1, raw).Err(); err != nil {
		b.logger.Error("Failed to clean processing list", slog.String("raw", raw), slog.String("error", err.Error()))
	}
}
