package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"zkvote/vote-prover/logging"
)

const (
	processingSuffix = "_processing"
	failedSuffix     = "_failed"
)

type ProofJob struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts,omitempty"`
}

// original turns a processing copy back into a queueable job.
func (job *ProofJob) original() *ProofJob {
	return &ProofJob{
		ID:        strings.TrimSuffix(job.ID, processingSuffix),
		Type:      "zk_proof",
		Payload:   job.Payload,
		CreatedAt: time.Now(),
		Attempts:  job.Attempts,
	}
}

type QueueWorker interface {
	Start()
	Stop()
}

// VoteQueueWorker proves jobs from VoteQueue one at a time. A copy of the
// job sits in VoteProcessingQueue while it is being proved so a crashed
// worker's job can be recovered.
type VoteQueueWorker struct {
	queue               *RedisQueue
	prover              *Prover
	stopChan            chan struct{}
	queueName           string
	processingQueueName string
}

func NewVoteQueueWorker(redisQueue *RedisQueue, p *Prover) *VoteQueueWorker {
	return &VoteQueueWorker{
		queue:               redisQueue,
		prover:              p,
		stopChan:            make(chan struct{}),
		queueName:           VoteQueue,
		processingQueueName: VoteProcessingQueue,
	}
}

func (w *VoteQueueWorker) Start() {
	logging.Logger().Info().Str("queue", w.queueName).Msg("Starting queue worker")

	for {
		select {
		case <-w.stopChan:
			logging.Logger().Info().Str("queue", w.queueName).Msg("Queue worker stopping")
			return
		default:
			w.processJobs()
		}
	}
}

func (w *VoteQueueWorker) Stop() {
	close(w.stopChan)
}

func (w *VoteQueueWorker) processJobs() {
	job, err := w.queue.DequeueProof(w.queueName, 5*time.Second)
	if err != nil {
		logging.Logger().Error().Err(err).Str("queue", w.queueName).Msg("Error dequeuing from queue")
		time.Sleep(2 * time.Second)
		return
	}
	if job == nil {
		return
	}

	QueueWaitTime.Observe(time.Since(job.CreatedAt).Seconds())
	job.Attempts++

	logging.Logger().Info().
		Str("job_id", job.ID).
		Int("attempt", job.Attempts).
		Msg("Processing proof job")

	processingJob := &ProofJob{
		ID:        job.ID + processingSuffix,
		Type:      "processing",
		Payload:   job.Payload,
		CreatedAt: time.Now(),
		Attempts:  job.Attempts,
	}
	if err := w.queue.EnqueueProof(w.processingQueueName, processingJob); err != nil {
		logging.Logger().Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mark job as processing")
	}

	err = w.processProofJob(job)
	w.removeFromProcessingQueue(job.ID)

	if err != nil {
		logging.Logger().Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to process proof job")
		RecordJobComplete(false)
		if err := w.queue.pushFailed(job, err); err != nil {
			logging.Logger().Error().Err(err).Str("job_id", job.ID).Msg("Failed to record failed job")
		}
		return
	}
	RecordJobComplete(true)
}

func (w *VoteQueueWorker) processProofJob(job *ProofJob) error {
	proof, proofErr := w.prover.Prove(context.Background(), job.Payload)
	if proofErr != nil {
		return fmt.Errorf("%s: %s", proofErr.Code, proofErr.Message)
	}
	if err := w.queue.StoreResult(job.ID, proof); err != nil {
		return err
	}
	return w.queue.DeleteJobMeta(job.ID)
}

func (w *VoteQueueWorker) removeFromProcessingQueue(jobID string) {
	items, err := w.queue.Client.LRange(w.queue.Ctx, w.processingQueueName, 0, -1).Result()
	if err != nil {
		return
	}
	for _, item := range items {
		var job ProofJob
		if json.Unmarshal([]byte(item), &job) == nil && job.ID == jobID+processingSuffix {
			w.queue.Client.LRem(w.queue.Ctx, w.processingQueueName, 1, item)
			return
		}
	}
}
