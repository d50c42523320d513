package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkvote/vote-prover/vote"
)

const TestRedisURL = "redis://localhost:6379/15"

func setupRedisQueue(t *testing.T) *RedisQueue {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		redisURL = TestRedisURL
	}

	rq, err := NewRedisQueue(redisURL)
	if err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	clearQueueKeys(rq)
	t.Cleanup(func() {
		clearQueueKeys(rq)
		rq.Client.Close()
	})
	return rq
}

// clearQueueKeys removes only this package's keys; the database is shared
// with the ballot box tests.
func clearQueueKeys(rq *RedisQueue) {
	ctx := context.Background()
	rq.Client.Del(ctx, queueNames...)
	for _, pattern := range []string{"zk_result_*", "zk_job_meta_*", "zk_inflight_*", "zk_input_hash_*"} {
		keys, _ := rq.Client.Keys(ctx, pattern).Result()
		if len(keys) > 0 {
			rq.Client.Del(ctx, keys...)
		}
	}
}

func newJob(createdAt time.Time) *ProofJob {
	return &ProofJob{
		ID:        uuid.New().String(),
		Type:      "zk_proof",
		Payload:   json.RawMessage(`{"merkleProof": []}`),
		CreatedAt: createdAt,
	}
}

func TestEnqueueDequeue(t *testing.T) {
	rq := setupRedisQueue(t)

	job := newJob(time.Now())
	require.NoError(t, rq.EnqueueProof(VoteQueue, job))

	stats, err := rq.GetQueueStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[VoteQueue])

	dequeued, err := rq.DequeueProof(VoteQueue, time.Second)
	require.NoError(t, err)
	require.NotNil(t, dequeued)
	assert.Equal(t, job.ID, dequeued.ID)
	assert.JSONEq(t, string(job.Payload), string(dequeued.Payload))

	dequeued, err = rq.DequeueProof(VoteQueue, time.Second)
	require.NoError(t, err)
	assert.Nil(t, dequeued)
}

func TestJobResultStorage(t *testing.T) {
	rq := setupRedisQueue(t)

	_, err := rq.GetResult(uuid.New().String())
	assert.True(t, errors.Is(err, redis.Nil))

	outputs := vote.PublicOutputs{Nullifier: vote.Digest{7}, CandidateID: 5}
	jobID := uuid.New().String()
	require.NoError(t, rq.StoreResult(jobID, emptyVoteProof(t, outputs, 4)))

	result, err := rq.GetResult(jobID)
	require.NoError(t, err)
	got, err := result.PublicOutputs()
	require.NoError(t, err)
	assert.Equal(t, outputs, got)
	assert.Equal(t, uint32(4), result.TreeDepth)

	ttl, err := rq.Client.TTL(rq.Ctx, resultKey(jobID)).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= ResultTTL)
}

func TestDeduplicateJob(t *testing.T) {
	rq := setupRedisQueue(t)

	first, err := rq.DeduplicateJob("hash-a")
	require.NoError(t, err)
	assert.True(t, first.IsNew)
	require.NoError(t, rq.StoreJobMeta(first.JobID, VoteQueue, 2))

	second, err := rq.DeduplicateJob("hash-a")
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.True(t, second.IsDeduplicated)
	assert.Equal(t, first.JobID, second.JobID)

	// a marker without metadata or result is stale
	stale, err := rq.DeduplicateJob("hash-b")
	require.NoError(t, err)
	fresh, err := rq.DeduplicateJob("hash-b")
	require.NoError(t, err)
	assert.True(t, fresh.IsNew)
	assert.NotEqual(t, stale.JobID, fresh.JobID)
}

func TestCleanupOldRequests(t *testing.T) {
	rq := setupRedisQueue(t)

	old := newJob(time.Now().Add(-35 * time.Minute))
	recent := newJob(time.Now().Add(-20 * time.Minute))
	require.NoError(t, rq.EnqueueProof(VoteQueue, old))
	require.NoError(t, rq.EnqueueProof(VoteQueue, recent))

	require.NoError(t, rq.CleanupOldRequests())

	found, err := rq.FindJob(VoteQueue, old.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
	found, err = rq.FindJob(VoteQueue, recent.ID)
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestCleanupStuckProcessingJobs(t *testing.T) {
	rq := setupRedisQueue(t)
	stuckSince := time.Now().Add(-15 * time.Minute)

	retry := newJob(stuckSince)
	retry.ID += processingSuffix
	retry.Attempts = 1
	exhausted := newJob(stuckSince)
	exhausted.ID += processingSuffix
	exhausted.Attempts = MaxJobAttempts
	running := newJob(time.Now())
	running.ID += processingSuffix

	for _, job := range []*ProofJob{retry, exhausted, running} {
		require.NoError(t, rq.EnqueueProof(VoteProcessingQueue, job))
	}

	require.NoError(t, rq.CleanupStuckProcessingJobs())

	stats, err := rq.GetQueueStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[VoteQueue])
	assert.Equal(t, int64(1), stats[VoteProcessingQueue])
	assert.Equal(t, int64(1), stats[FailedQueue])

	requeued, err := rq.DequeueProof(VoteQueue, time.Second)
	require.NoError(t, err)
	assert.Equal(t, retry.original().ID, requeued.ID)
	assert.Equal(t, 1, requeued.Attempts)

	failed, err := rq.FindJob(FailedQueue, exhausted.original().ID)
	require.NoError(t, err)
	require.NotNil(t, failed)
	var details FailureDetails
	require.NoError(t, json.Unmarshal(failed.Payload, &details))
	assert.Contains(t, details.Error, "timed out")
}

func TestStatusEndpoint(t *testing.T) {
	rq := setupRedisQueue(t)
	handler := newTestHandler(t, "", &Backend{Queue: rq})

	status := func(jobID string) (int, map[string]interface{}) {
		rec := doRequest(handler, http.MethodGet, "/prove/status?job_id="+jobID, nil, nil)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	code, _ := status("not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := status(uuid.New().String())
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "job_not_found", body["code"])

	queued := uuid.New().String()
	require.NoError(t, rq.StoreJobMeta(queued, VoteQueue, 3))
	code, body = status(queued)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "queued", body["status"])

	failedJob := newJob(time.Now())
	require.NoError(t, rq.pushFailed(failedJob, errors.New("no proving system for tree depth 0")))
	code, body = status(failedJob.ID)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "no proving system for tree depth 0", body["error"])

	done := uuid.New().String()
	require.NoError(t, rq.StoreResult(done, emptyVoteProof(t, vote.PublicOutputs{CandidateID: 1}, 0)))
	code, body = status(done)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", body["status"])
}

func TestAsyncProve(t *testing.T) {
	rq := setupRedisQueue(t)
	handler := newTestHandler(t, "", &Backend{Queue: rq})

	body, err := json.Marshal(testParameters(t, 2))
	require.NoError(t, err)
	headers := map[string]string{"X-Async": "true"}

	rec := doRequest(handler, http.MethodPost, "/prove", body, headers)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var first map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, false, first["deduplicated"])

	rec = doRequest(handler, http.MethodPost, "/prove?async=true", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var second map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, first["job_id"], second["job_id"])
	assert.Equal(t, true, second["deduplicated"])

	stats, err := rq.GetQueueStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[VoteQueue])

	ineligible := testParameters(t, 2)
	ineligible.Input.MerkleRoot = vote.Digest{}
	body, err = json.Marshal(ineligible)
	require.NoError(t, err)
	rec = doRequest(handler, http.MethodPost, "/prove", body, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWorkerProcessesJobs(t *testing.T) {
	rq := setupRedisQueue(t)

	params := testParameters(t, 1)
	outputs, err := vote.Execute(&params.Input)
	require.NoError(t, err)
	inputHash, err := InputHash(params)
	require.NoError(t, err)

	// the cache stands in for proving keys
	cache, err := NewProofCache(4)
	require.NoError(t, err)
	cache.Add(inputHash, emptyVoteProof(t, outputs, 1))
	worker := NewVoteQueueWorker(rq, &Prover{Cache: cache})

	payload, err := json.Marshal(params)
	require.NoError(t, err)
	ok := newJob(time.Now())
	ok.Payload = payload
	require.NoError(t, rq.EnqueueProof(VoteQueue, ok))
	worker.processJobs()

	result, err := rq.GetResult(ok.ID)
	require.NoError(t, err)
	assert.Equal(t, outputs.Nullifier, result.Nullifier)

	uncached := testParameters(t, 1)
	payload, err = json.Marshal(uncached)
	require.NoError(t, err)
	bad := newJob(time.Now())
	bad.Payload = payload
	require.NoError(t, rq.EnqueueProof(VoteQueue, bad))
	worker.processJobs()

	failed, err := rq.FindJob(FailedQueue, bad.ID)
	require.NoError(t, err)
	require.NotNil(t, failed)
	var details FailureDetails
	require.NoError(t, json.Unmarshal(failed.Payload, &details))
	assert.Equal(t, bad.ID, details.OriginalJobID)
	assert.Equal(t, uint32(1), details.TreeDepth)
	assert.Contains(t, details.Error, "no proving system for tree depth 1")

	stats, err := rq.GetQueueStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats[VoteProcessingQueue])
}
