package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"zkvote/vote-prover/logging"
	"zkvote/vote-prover/prover"
	"zkvote/vote-prover/vote"
)

// ErrNetworkProverDisabled is returned when no remote prover URL is set.
var ErrNetworkProverDisabled = errors.New("network prover not configured")

// NetworkProverClient forwards vote parameters to a remote prover that
// speaks the same /prove API.
type NetworkProverClient struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
}

func NewNetworkProverClient(serverURL string, apiKey string, timeout time.Duration) *NetworkProverClient {
	return &NetworkProverClient{
		serverURL: serverURL,
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *NetworkProverClient) Enabled() bool {
	return c != nil && c.serverURL != ""
}

func (c *NetworkProverClient) newRequest(ctx context.Context, method string, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

// ProveVote runs the native check first, so ineligible voters never leave
// the process, then checks the remote proof commits to the same outputs.
func (c *NetworkProverClient) ProveVote(ctx context.Context, params *prover.VoteParameters) (*prover.VoteProof, error) {
	if !c.Enabled() {
		return nil, ErrNetworkProverDisabled
	}
	expected, err := vote.Execute(&params.Input)
	if err != nil {
		return nil, err
	}

	requestBody, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/prove", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create network prover request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sync", "true")

	logging.Logger().Info().
		Str("url", c.serverURL).
		Uint32("tree_depth", params.Depth()).
		Msg("Forwarding vote proof request to network prover")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		NetworkProofRequests.WithLabelValues("unreachable").Inc()
		return nil, fmt.Errorf("network prover request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read network prover response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		NetworkProofRequests.WithLabelValues("error").Inc()
		return nil, remoteError(resp.StatusCode, body)
	}

	var proof prover.VoteProof
	if err := json.Unmarshal(body, &proof); err != nil {
		NetworkProofRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to parse network prover response: %w", err)
	}
	outputs, err := proof.PublicOutputs()
	if err != nil {
		return nil, fmt.Errorf("network prover returned bad public values: %w", err)
	}
	if outputs != expected {
		NetworkProofRequests.WithLabelValues("mismatch").Inc()
		return nil, fmt.Errorf("network prover committed to different public values")
	}

	NetworkProofRequests.WithLabelValues("ok").Inc()
	logging.Logger().Info().
		Int64("duration_ms", time.Since(startTime).Milliseconds()).
		Msg("Network proof generation completed")
	return &proof, nil
}

// remoteError maps the remote prover's error codes back onto the core's
// sentinel errors.
func remoteError(statusCode int, body []byte) error {
	var remote struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &remote) != nil || remote.Code == "" {
		return fmt.Errorf("network prover returned status %d: %s", statusCode, string(body))
	}
	switch remote.Code {
	case "eligibility_mismatch":
		return fmt.Errorf("%w: %s", vote.ErrEligibilityMismatch, remote.Message)
	case "malformed_body":
		return fmt.Errorf("%w: %s", vote.ErrMalformedInput, remote.Message)
	}
	return fmt.Errorf("network prover returned %s (status %d): %s", remote.Code, statusCode, remote.Message)
}

func (c *NetworkProverClient) HealthCheck(ctx context.Context) error {
	if !c.Enabled() {
		return ErrNetworkProverDisabled
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network prover health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("network prover health check returned status %d", resp.StatusCode)
	}
	return nil
}
