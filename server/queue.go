package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"zkvote/vote-prover/logging"
	"zkvote/vote-prover/prover"
	"zkvote/vote-prover/vote"
)

const (
	VoteQueue           = "zk_vote_queue"
	VoteProcessingQueue = "zk_vote_processing_queue"
	FailedQueue         = "zk_failed_queue"

	ResultTTL   = 1 * time.Hour
	InFlightTTL = 10 * time.Minute

	// stuck jobs are requeued this many times before they are failed
	MaxJobAttempts = 3
)

var queueNames = []string{VoteQueue, VoteProcessingQueue, FailedQueue}

type RedisQueue struct {
	Client *redis.Client
	Ctx    context.Context
}

func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 100
	opts.MinIdleConns = 5
	opts.DialTimeout = 10 * time.Second
	// BLPOP blocks for up to the dequeue timeout
	opts.ReadTimeout = 30 * time.Second
	opts.WriteTimeout = 10 * time.Second
	opts.PoolTimeout = 15 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute
	opts.MaxRetries = 3

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Logger().Info().
		Int("pool_size", opts.PoolSize).
		Dur("read_timeout", opts.ReadTimeout).
		Int("max_retries", opts.MaxRetries).
		Msg("Redis client configured with connection pool")

	return &RedisQueue{Client: client, Ctx: context.Background()}, nil
}

func (rq *RedisQueue) EnqueueProof(queueName string, job *ProofJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = rq.Client.RPush(rq.Ctx, queueName, data).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	logging.Logger().Info().
		Str("job_id", job.ID).
		Str("queue", queueName).
		Msg("Job enqueued successfully")
	return nil
}

// DequeueProof returns nil, nil when nothing arrives within timeout.
func (rq *RedisQueue) DequeueProof(queueName string, timeout time.Duration) (*ProofJob, error) {
	result, err := rq.Client.BLPop(rq.Ctx, timeout, queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	if len(result) < 2 {
		return nil, fmt.Errorf("invalid result from Redis")
	}

	var job ProofJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

type JobMeta struct {
	Queue       string    `json:"queue"`
	TreeDepth   uint32    `json:"tree_depth"`
	SubmittedAt time.Time `json:"submitted_at"`
	Status      string    `json:"status"`
}

func jobMetaKey(jobID string) string {
	return fmt.Sprintf("zk_job_meta_%s", jobID)
}

// StoreJobMeta lets the status endpoint find a job before a worker picks it up.
func (rq *RedisQueue) StoreJobMeta(jobID string, queueName string, treeDepth uint32) error {
	data, err := json.Marshal(JobMeta{
		Queue:       queueName,
		TreeDepth:   treeDepth,
		SubmittedAt: time.Now(),
		Status:      "queued",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal job meta: %w", err)
	}

	if err := rq.Client.Set(rq.Ctx, jobMetaKey(jobID), data, ResultTTL).Err(); err != nil {
		return fmt.Errorf("failed to store job meta: %w", err)
	}
	return nil
}

// GetJobMeta returns nil, nil for unknown jobs.
func (rq *RedisQueue) GetJobMeta(jobID string) (*JobMeta, error) {
	result, err := rq.Client.Get(rq.Ctx, jobMetaKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job meta: %w", err)
	}

	var meta JobMeta
	if err := json.Unmarshal(result, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job meta: %w", err)
	}
	return &meta, nil
}

func (rq *RedisQueue) DeleteJobMeta(jobID string) error {
	return rq.Client.Del(rq.Ctx, jobMetaKey(jobID)).Err()
}

func (rq *RedisQueue) GetQueueStats() (map[string]int64, error) {
	stats := make(map[string]int64, len(queueNames))
	for _, queue := range queueNames {
		length, err := rq.Client.LLen(rq.Ctx, queue).Result()
		if err != nil {
			logging.Logger().Warn().Err(err).Str("queue", queue).Msg("Failed to get queue length")
			length = 0
		}
		stats[queue] = length
	}
	return stats, nil
}

func resultKey(jobID string) string {
	return fmt.Sprintf("zk_result_%s", jobID)
}

// GetResult returns redis.Nil when no result is stored for jobID.
func (rq *RedisQueue) GetResult(jobID string) (*prover.VoteProof, error) {
	result, err := rq.Client.Get(rq.Ctx, resultKey(jobID)).Bytes()
	if err != nil {
		return nil, err
	}

	var proof prover.VoteProof
	if err := json.Unmarshal(result, &proof); err != nil {
		logging.Logger().Error().
			Err(err).
			Str("job_id", jobID).
			Msg("Failed to unmarshal result")
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &proof, nil
}

func (rq *RedisQueue) StoreResult(jobID string, proof *prover.VoteProof) error {
	resultData, err := json.Marshal(proof)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := rq.Client.Set(rq.Ctx, resultKey(jobID), resultData, ResultTTL).Err(); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	logging.Logger().Info().
		Str("job_id", jobID).
		Msg("Result stored successfully")
	return nil
}

// FindJob scans a queue for jobID. The processing and failed queues hold
// copies with a suffixed id.
func (rq *RedisQueue) FindJob(queueName string, jobID string) (*ProofJob, error) {
	items, err := rq.Client.LRange(rq.Ctx, queueName, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		var job ProofJob
		if json.Unmarshal([]byte(item), &job) != nil {
			continue
		}
		if job.ID == jobID || job.ID == jobID+processingSuffix || job.ID == jobID+failedSuffix {
			return &job, nil
		}
	}
	return nil, nil
}

// InputHash identifies a proving request by its canonical binary encoding,
// so two JSON bodies that differ only in formatting share a hash.
func InputHash(params *prover.VoteParameters) (string, error) {
	encoded, err := vote.EncodeVoteInput(&params.Input)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(encoded)
	return hex.EncodeToString(hash[:]), nil
}

func inFlightKey(inputHash string) string {
	return fmt.Sprintf("zk_inflight_%s", inputHash)
}

func inputHashKey(jobID string) string {
	return fmt.Sprintf("zk_input_hash_%s", jobID)
}

// GetOrSetInFlightJob registers jobID for inputHash unless another job
// already holds it, in which case that job's id is returned with isNew false.
func (rq *RedisQueue) GetOrSetInFlightJob(inputHash, jobID string) (existingJobID string, isNew bool, err error) {
	set, err := rq.Client.SetNX(rq.Ctx, inFlightKey(inputHash), jobID, InFlightTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to check/set in-flight job: %w", err)
	}
	if set {
		rq.Client.Set(rq.Ctx, inputHashKey(jobID), inputHash, InFlightTTL)
		return jobID, true, nil
	}

	existing, err := rq.Client.Get(rq.Ctx, inFlightKey(inputHash)).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return rq.GetOrSetInFlightJob(inputHash, jobID)
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get existing in-flight job: %w", err)
	}
	return existing, false, nil
}

func (rq *RedisQueue) DeleteInFlightJob(inputHash, jobID string) error {
	if err := rq.Client.Del(rq.Ctx, inFlightKey(inputHash)).Err(); err != nil {
		return fmt.Errorf("failed to delete in-flight job marker: %w", err)
	}
	rq.Client.Del(rq.Ctx, inputHashKey(jobID))
	return nil
}

// ReleaseInFlightJob drops the marker of a finished job, if it still owns it.
func (rq *RedisQueue) ReleaseInFlightJob(jobID string) {
	inputHash, err := rq.Client.Get(rq.Ctx, inputHashKey(jobID)).Result()
	if err != nil {
		return
	}
	storedJobID, err := rq.Client.Get(rq.Ctx, inFlightKey(inputHash)).Result()
	if err == nil && storedJobID == jobID {
		rq.Client.Del(rq.Ctx, inFlightKey(inputHash))
	}
	rq.Client.Del(rq.Ctx, inputHashKey(jobID))
}

type DeduplicationResult struct {
	JobID          string
	IsNew          bool
	IsDeduplicated bool
}

// DeduplicateJob resolves the job id for inputHash. A marker pointing at a
// job with neither result nor metadata is stale and replaced.
func (rq *RedisQueue) DeduplicateJob(inputHash string) (*DeduplicationResult, error) {
	newJobID := uuid.New().String()

	existingJobID, isNew, err := rq.GetOrSetInFlightJob(inputHash, newJobID)
	if err != nil {
		logging.Logger().Warn().
			Err(err).
			Str("input_hash", inputHash).
			Msg("Failed to check for in-flight job, proceeding with new job")
		return &DeduplicationResult{JobID: newJobID, IsNew: true}, nil
	}
	if isNew {
		return &DeduplicationResult{JobID: newJobID, IsNew: true}, nil
	}

	if result, _ := rq.GetResult(existingJobID); result != nil {
		return &DeduplicationResult{JobID: existingJobID, IsDeduplicated: true}, nil
	}
	if meta, _ := rq.GetJobMeta(existingJobID); meta != nil {
		return &DeduplicationResult{JobID: existingJobID, IsDeduplicated: true}, nil
	}

	logging.Logger().Warn().
		Str("stale_job_id", existingJobID).
		Str("input_hash", inputHash).
		Msg("Replacing stale in-flight marker")

	if err := rq.DeleteInFlightJob(inputHash, existingJobID); err != nil {
		return nil, err
	}
	return rq.DeduplicateJob(inputHash)
}

// CleanupOldRequests drops queued requests nobody picked up in 30 minutes.
func (rq *RedisQueue) CleanupOldRequests() error {
	cutoffTime := time.Now().Add(-30 * time.Minute)
	removed, err := rq.cleanupOldRequestsFromQueue(VoteQueue, cutoffTime)
	if err != nil {
		return err
	}
	if removed > 0 {
		logging.Logger().Info().
			Int64("removed_items", removed).
			Time("cutoff_time", cutoffTime).
			Msg("Cleaned up old proof requests")
	}
	return nil
}

func (rq *RedisQueue) CleanupOldFailedJobs() error {
	cutoffTime := time.Now().Add(-ResultTTL)
	removed, err := rq.cleanupOldRequestsFromQueue(FailedQueue, cutoffTime)
	if err != nil {
		return err
	}
	if removed > 0 {
		logging.Logger().Info().
			Int64("removed_failed_jobs", removed).
			Time("cutoff_time", cutoffTime).
			Msg("Cleaned up old failed jobs")
	}
	return nil
}

func (rq *RedisQueue) cleanupOldRequestsFromQueue(queueName string, cutoffTime time.Time) (int64, error) {
	items, err := rq.Client.LRange(rq.Ctx, queueName, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue items: %w", err)
	}

	var removedCount int64
	for _, item := range items {
		var job ProofJob
		if json.Unmarshal([]byte(item), &job) != nil || !job.CreatedAt.Before(cutoffTime) {
			continue
		}
		count, err := rq.Client.LRem(rq.Ctx, queueName, 1, item).Result()
		if err != nil {
			logging.Logger().Error().
				Err(err).
				Str("job_id", job.ID).
				Str("queue", queueName).
				Msg("Failed to remove old job")
			continue
		}
		if count > 0 {
			removedCount++
			if queueName == VoteQueue {
				rq.ReleaseInFlightJob(job.ID)
				rq.DeleteJobMeta(job.ID)
			}
		}
	}
	return removedCount, nil
}

// CleanupStuckProcessingJobs requeues jobs that sat in the processing queue
// for more than 10 minutes, a worker most likely died holding them. After
// MaxJobAttempts the job is failed instead.
func (rq *RedisQueue) CleanupStuckProcessingJobs() error {
	cutoff := time.Now().Add(-10 * time.Minute)

	items, err := rq.Client.LRange(rq.Ctx, VoteProcessingQueue, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to get processing queue items: %w", err)
	}

	var recovered, failed int64
	for _, item := range items {
		var job ProofJob
		if json.Unmarshal([]byte(item), &job) != nil || !job.CreatedAt.Before(cutoff) {
			continue
		}
		count, err := rq.Client.LRem(rq.Ctx, VoteProcessingQueue, 1, item).Result()
		if err != nil || count == 0 {
			continue
		}

		original := job.original()
		if original.Attempts >= MaxJobAttempts {
			err = rq.pushFailed(original, fmt.Errorf("job timed out in processing queue after %d attempts", original.Attempts))
			if err == nil {
				failed++
			}
		} else {
			err = rq.EnqueueProof(VoteQueue, original)
			if err == nil {
				recovered++
			}
		}
		if err != nil {
			logging.Logger().Error().
				Err(err).
				Str("job_id", original.ID).
				Msg("Failed to recover stuck job")
		}
	}

	if recovered > 0 || failed > 0 {
		logging.Logger().Info().
			Int64("recovered_jobs", recovered).
			Int64("failed_jobs", failed).
			Time("timeout_cutoff", cutoff).
			Msg("Processed stuck jobs from processing queue")
	}
	return nil
}

type FailureDetails struct {
	OriginalJobID string    `json:"original_job_id"`
	TreeDepth     uint32    `json:"tree_depth,omitempty"`
	PayloadSize   int       `json:"payload_size"`
	Error         string    `json:"error"`
	FailedAt      time.Time `json:"failed_at"`
}

// pushFailed records a failure without the payload, which holds the voter's
// secrets.
func (rq *RedisQueue) pushFailed(job *ProofJob, cause error) error {
	details := FailureDetails{
		OriginalJobID: job.ID,
		PayloadSize:   len(job.Payload),
		Error:         cause.Error(),
		FailedAt:      time.Now(),
	}
	if meta, err := prover.ParseProofRequestMeta(job.Payload); err == nil {
		details.TreeDepth = meta.TreeDepth
	}
	failedData, err := json.Marshal(details)
	if err != nil {
		return err
	}

	err = rq.EnqueueProof(FailedQueue, &ProofJob{
		ID:        job.ID + failedSuffix,
		Type:      "failed",
		Payload:   failedData,
		CreatedAt: time.Now(),
	})
	rq.ReleaseInFlightJob(job.ID)
	rq.DeleteJobMeta(job.ID)
	return err
}

func startCleanupTicker(label string, interval time.Duration, cleanup func() error, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := cleanup(); err != nil {
				logging.Logger().Error().Err(err).Str("routine", label).Msg("Cleanup failed")
			}
		}
	}
}

// StartCleanupRoutines runs every cleanup once and then periodically until
// the returned job is stopped.
func StartCleanupRoutines(rq *RedisQueue) RunningJob {
	routines := []struct {
		label    string
		interval time.Duration
		cleanup  func() error
	}{
		{"old_requests", 10 * time.Minute, rq.CleanupOldRequests},
		{"stuck_processing", 5 * time.Minute, rq.CleanupStuckProcessingJobs},
		{"old_failed", 1 * time.Hour, rq.CleanupOldFailedJobs},
	}

	stop := make(chan struct{})
	start := func() {
		for _, r := range routines {
			if err := r.cleanup(); err != nil {
				logging.Logger().Error().Err(err).Str("routine", r.label).Msg("Startup cleanup failed")
			}
		}
		for _, r := range routines {
			go startCleanupTicker(r.label, r.interval, r.cleanup, stop)
		}
	}
	return SpawnJob(start, func() { close(stop) })
}
