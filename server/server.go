package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"zkvote/vote-prover/ballotbox"
	"zkvote/vote-prover/logging"
	"zkvote/vote-prover/prover"
	"zkvote/vote-prover/vote"
)

type Config struct {
	ProverAddress  string
	MetricsAddress string
	APIKey         string
	// Routes served without the API key, in addition to /health.
	PublicPaths    []string
}

// Backend is what the HTTP handlers serve. Queue and Box are optional; the
// endpoints that need them are only registered when they are set.
type Backend struct {
	Prover *Prover
	Queue  *RedisQueue
	Box    *ballotbox.Box
}

type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func malformedBodyError(err error) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Code: "malformed_body", Message: err.Error()}
}

func provingError(err error) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Code: "proving_error", Message: err.Error()}
}

func unexpectedError(err error) *Error {
	return &Error{StatusCode: http.StatusInternalServerError, Code: "unexpected_error", Message: err.Error()}
}

func (error *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"code":    error.Code,
		"message": error.Message,
	})
}

func (error *Error) send(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(error.StatusCode)
	jsonBytes, err := error.MarshalJSON()
	if err != nil {
		jsonBytes = []byte(`{"code": "unexpected_error", "message": "failed to marshal error"}`)
	}
	length, err := w.Write(jsonBytes)
	if err != nil || length != len(jsonBytes) {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	responseBytes, err := json.Marshal(v)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(responseBytes); err != nil {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}

// syncTimeout grows with the circuit size, which is linear in the depth.
func syncTimeout(depth uint32) time.Duration {
	timeout := 30*time.Second + time.Duration(depth)*2*time.Second
	if timeout > 300*time.Second {
		timeout = 300 * time.Second
	}
	return timeout
}

type proveHandler struct {
	prover     *Prover
	redisQueue *RedisQueue
}

func (handler proveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		logging.Logger().Error().Err(err).Msg("Error reading request body")
		malformedBodyError(err).send(w)
		return
	}

	meta, err := prover.ParseProofRequestMeta(buf)
	if err != nil {
		malformedBodyError(err).send(w)
		return
	}

	forceAsync := r.Header.Get("X-Async") == "true" || r.URL.Query().Get("async") == "true"
	useQueue := forceAsync && handler.redisQueue != nil

	logging.Logger().Info().
		Uint32("tree_depth", meta.TreeDepth).
		Bool("force_async", forceAsync).
		Bool("use_queue", useQueue).
		Msg("Processing prove request")

	if useQueue {
		handler.handleAsyncProof(w, r, buf, meta)
	} else {
		handler.handleSyncProof(w, r, buf, meta)
	}
}

func (handler proveHandler) handleAsyncProof(w http.ResponseWriter, r *http.Request, buf []byte, meta prover.ProofRequestMeta) {
	var params prover.VoteParameters
	if err := json.Unmarshal(buf, &params); err != nil {
		malformedBodyError(err).send(w)
		return
	}
	// ineligible voters are answered now rather than failing in a worker
	if _, err := vote.Execute(&params.Input); err != nil {
		voteError(err).send(w)
		return
	}
	inputHash, err := InputHash(&params)
	if err != nil {
		malformedBodyError(err).send(w)
		return
	}

	dedup, err := handler.redisQueue.DeduplicateJob(inputHash)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}

	if dedup.IsNew {
		job := &ProofJob{
			ID:        dedup.JobID,
			Type:      "zk_proof",
			Payload:   json.RawMessage(buf),
			CreatedAt: time.Now(),
		}
		if err := handler.redisQueue.EnqueueProof(VoteQueue, job); err != nil {
			logging.Logger().Warn().Err(err).Msg("Queue failed, falling back to synchronous processing")
			handler.redisQueue.DeleteInFlightJob(inputHash, dedup.JobID)
			handler.handleSyncProof(w, r, buf, meta)
			return
		}
		if err := handler.redisQueue.StoreJobMeta(dedup.JobID, VoteQueue, meta.TreeDepth); err != nil {
			logging.Logger().Warn().Err(err).Str("job_id", dedup.JobID).Msg("Failed to store job metadata")
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":       dedup.JobID,
		"status":       "queued",
		"deduplicated": dedup.IsDeduplicated,
		"tree_depth":   meta.TreeDepth,
		"queue":        VoteQueue,
		"status_url":   fmt.Sprintf("/prove/status?job_id=%s", dedup.JobID),
	})
}

func (handler proveHandler) handleSyncProof(w http.ResponseWriter, r *http.Request, buf []byte, meta prover.ProofRequestMeta) {
	timeoutDuration := syncTimeout(meta.TreeDepth)
	ctx, cancel := context.WithTimeout(r.Context(), timeoutDuration)
	defer cancel()

	type proofResult struct {
		proof *prover.VoteProof
		err   *Error
	}
	resultChan := make(chan proofResult, 1)

	go func() {
		proof, proofError := handler.prover.Prove(ctx, buf)
		resultChan <- proofResult{proof: proof, err: proofError}
	}()

	select {
	case result := <-resultChan:
		if result.err != nil {
			result.err.send(w)
			return
		}
		writeJSON(w, http.StatusOK, result.proof)

		logging.Logger().Info().
			Uint32("tree_depth", meta.TreeDepth).
			Str("nullifier", result.proof.Nullifier.String()).
			Msg("Synchronous proof completed successfully")

	case <-ctx.Done():
		timeoutError := &Error{
			StatusCode: http.StatusRequestTimeout,
			Code:       "proof_timeout",
			Message:    fmt.Sprintf("Proof generation timed out after %d seconds. Use asynchronous mode with the X-Async: true header.", int(timeoutDuration.Seconds())),
		}
		timeoutError.send(w)
	}
}

type proofStatusHandler struct {
	redisQueue *RedisQueue
}

func (handler proofStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		malformedBodyError(fmt.Errorf("job_id parameter required")).send(w)
		return
	}
	if _, err := uuid.Parse(jobID); err != nil {
		invalidJobError := &Error{
			StatusCode: http.StatusBadRequest,
			Code:       "invalid_job_id",
			Message:    "Invalid job ID format. Job ID must be a valid UUID.",
		}
		invalidJobError.send(w)
		return
	}

	result, err := handler.redisQueue.GetResult(jobID)
	if err != nil && !errors.Is(err, redis.Nil) {
		unexpectedError(err).send(w)
		return
	}
	if result != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id": jobID,
			"status": "completed",
			"result": result,
		})
		return
	}

	response, found, err := handler.pendingStatus(jobID)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	if !found {
		handler.redisQueue.ReleaseInFlightJob(jobID)
		notFoundError := &Error{
			StatusCode: http.StatusNotFound,
			Code:       "job_not_found",
			Message:    fmt.Sprintf("Job with ID %s not found. It may have expired or never existed.", jobID),
		}
		notFoundError.send(w)
		return
	}
	writeJSON(w, http.StatusAccepted, response)
}

func (handler proofStatusHandler) pendingStatus(jobID string) (map[string]interface{}, bool, error) {
	response := map[string]interface{}{"job_id": jobID}

	failed, err := handler.redisQueue.FindJob(FailedQueue, jobID)
	if err != nil {
		return nil, false, err
	}
	if failed != nil {
		response["status"] = "failed"
		var details FailureDetails
		if json.Unmarshal(failed.Payload, &details) == nil {
			response["error"] = details.Error
			response["failed_at"] = details.FailedAt
			response["message"] = fmt.Sprintf("Job processing failed: %s", details.Error)
		} else {
			response["message"] = "Job processing failed. Unable to parse failure details."
		}
		return response, true, nil
	}

	processing, err := handler.redisQueue.FindJob(VoteProcessingQueue, jobID)
	if err != nil {
		return nil, false, err
	}
	if processing != nil {
		response["status"] = "processing"
		response["message"] = "Proof is being generated."
		response["started_at"] = processing.CreatedAt
		return response, true, nil
	}

	meta, err := handler.redisQueue.GetJobMeta(jobID)
	if err != nil {
		return nil, false, err
	}
	if meta != nil {
		response["status"] = "queued"
		response["message"] = "Job is waiting in the queue."
		response["created_at"] = meta.SubmittedAt
		response["tree_depth"] = meta.TreeDepth
		return response, true, nil
	}
	return nil, false, nil
}

type queueStatsHandler struct {
	redisQueue *RedisQueue
}

func (handler queueStatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats, err := handler.redisQueue.GetQueueStats()
	if err != nil {
		unexpectedError(err).send(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queues":        stats,
		"total_pending": stats[VoteQueue],
		"total_active":  stats[VoteProcessingQueue],
		"total_failed":  stats[FailedQueue],
		"timestamp":     time.Now().Unix(),
	})
}

type queueAddHandler struct {
	redisQueue *RedisQueue
}

// ServeHTTP enqueues without deduplication or eligibility checks.
func (handler queueAddHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		malformedBodyError(err).send(w)
		return
	}
	meta, err := prover.ParseProofRequestMeta(buf)
	if err != nil {
		malformedBodyError(err).send(w)
		return
	}

	jobID := uuid.New().String()
	job := &ProofJob{
		ID:        jobID,
		Type:      "zk_proof",
		Payload:   json.RawMessage(buf),
		CreatedAt: time.Now(),
	}
	if err := handler.redisQueue.EnqueueProof(VoteQueue, job); err != nil {
		unexpectedError(err).send(w)
		return
	}
	if err := handler.redisQueue.StoreJobMeta(jobID, VoteQueue, meta.TreeDepth); err != nil {
		logging.Logger().Warn().Err(err).Str("job_id", jobID).Msg("Failed to store job metadata")
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":     jobID,
		"status":     "queued",
		"queue":      VoteQueue,
		"tree_depth": meta.TreeDepth,
	})
}

type castHandler struct {
	box *ballotbox.Box
}

func (handler castHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var vp prover.VoteProof
	if err := json.NewDecoder(r.Body).Decode(&vp); err != nil {
		BallotsCast.WithLabelValues("malformed").Inc()
		malformedBodyError(err).send(w)
		return
	}

	receipt, err := handler.box.Cast(r.Context(), &vp)
	if err != nil {
		castError := ballotError(err)
		BallotsCast.WithLabelValues(castError.Code).Inc()
		castError.send(w)
		return
	}
	BallotsCast.WithLabelValues("accepted").Inc()
	writeJSON(w, http.StatusOK, receipt)
}

func ballotError(err error) *Error {
	switch {
	case errors.Is(err, ballotbox.ErrNullifierUsed):
		return &Error{StatusCode: http.StatusConflict, Code: "nullifier_used", Message: err.Error()}
	case errors.Is(err, ballotbox.ErrUnknownRoot):
		return &Error{StatusCode: http.StatusUnprocessableEntity, Code: "unknown_root", Message: err.Error()}
	case errors.Is(err, ballotbox.ErrInvalidProof):
		return &Error{StatusCode: http.StatusUnprocessableEntity, Code: "invalid_proof", Message: err.Error()}
	case errors.Is(err, vote.ErrMalformedInput):
		return malformedBodyError(err)
	default:
		return unexpectedError(err)
	}
}

type tallyHandler struct {
	box *ballotbox.Box
}

func (handler tallyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	tally, err := handler.box.Tally(r.Context())
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	var total uint64
	for _, count := range tally {
		total += count
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tally": tally,
		"total": total,
	})
}

type nullifierHandler struct {
	box *ballotbox.Box
}

func (handler nullifierHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	nullifier, err := vote.ParseDigest(r.URL.Query().Get("value"))
	if err != nil {
		malformedBodyError(err).send(w)
		return
	}
	used, err := handler.box.NullifierUsed(r.Context(), nullifier)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nullifier": nullifier,
		"used":      used,
	})
}

type healthHandler struct {
	prover *Prover
}

func (handler healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"depths": handler.prover.Depths(),
	})
}

// NewHandler builds the prover API: routes, API key check and CORS.
func NewHandler(config *Config, backend *Backend) http.Handler {
	proverMux := http.NewServeMux()

	prove := proveHandler{prover: backend.Prover, redisQueue: backend.Queue}
	proverMux.Handle("/prove", prove)
	proverMux.Handle("/generate-proof", prove)
	proverMux.Handle("/health", healthHandler{prover: backend.Prover})

	if backend.Queue != nil {
		proverMux.Handle("/prove/status", proofStatusHandler{redisQueue: backend.Queue})
		proverMux.Handle("/queue/stats", queueStatsHandler{redisQueue: backend.Queue})
		proverMux.Handle("/queue/add", queueAddHandler{redisQueue: backend.Queue})
	}

	if backend.Box != nil {
		proverMux.Handle("/vote/cast", castHandler{box: backend.Box})
		proverMux.Handle("/vote/tally", tallyHandler{box: backend.Box})
		proverMux.Handle("/vote/nullifier", nullifierHandler{box: backend.Box})
	}

	corsHandler := handlers.CORS(
		handlers.AllowedHeaders([]string{
			"X-Requested-With",
			"Content-Type",
			"Authorization",
			"X-API-Key",
			"X-Async",
		}),
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
	)

	return corsHandler(conditionalAuthMiddleware(config.APIKey, NewPublicPaths(config.PublicPaths))(proverMux))
}

func Run(config *Config, backend *Backend) RunningJob {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: config.MetricsAddress, Handler: metricsMux}
	metricsJob := spawnServerJob(metricsServer, "metrics server")
	logging.Logger().Info().Str("addr", config.MetricsAddress).Msg("metrics server started")

	proverServer := &http.Server{Addr: config.ProverAddress, Handler: NewHandler(config, backend)}
	proverJob := spawnServerJob(proverServer, "prover server")

	logging.Logger().Info().
		Str("addr", config.ProverAddress).
		Bool("queue_enabled", backend.Queue != nil).
		Bool("ballot_box_enabled", backend.Box != nil).
		Bool("network_prover_enabled", backend.Prover.Network.Enabled()).
		Msg("prover server started")

	return CombineJobs(metricsJob, proverJob)
}

func spawnServerJob(server *http.Server, label string) RunningJob {
	start := func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("%s failed: %s", label, err))
		}
	}
	shutdown := func() {
		logging.Logger().Info().Msgf("shutting down %s", label)
		err := server.Shutdown(context.Background())
		if err != nil {
			logging.Logger().Error().Err(err).Msgf("error when shutting down %s", label)
		}
		logging.Logger().Info().Msgf("%s shut down", label)
	}
	return SpawnJob(start, shutdown)
}
