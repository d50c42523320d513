package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkvote/vote-prover/prover"
	"zkvote/vote-prover/vote"
)

// remoteProver answers /prove with whatever respond returns.
func remoteProver(t *testing.T, respond func(params *prover.VoteParameters) (int, interface{})) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/prove":
			assert.Equal(t, "true", r.Header.Get("X-Sync"))
			assert.Equal(t, "remote-key", r.Header.Get("X-API-Key"))
			buf, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			var params prover.VoteParameters
			if !assert.NoError(t, json.Unmarshal(buf, &params)) {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			status, body := respond(&params)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			assert.NoError(t, json.NewEncoder(w).Encode(body))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNetworkProver(t *testing.T) {
	ctx := context.Background()
	params := testParameters(t, 2)
	outputs, err := vote.Execute(&params.Input)
	require.NoError(t, err)

	t.Run("proof", func(t *testing.T) {
		remote := remoteProver(t, func(p *prover.VoteParameters) (int, interface{}) {
			out, _ := vote.Execute(&p.Input)
			return http.StatusOK, emptyVoteProof(t, out, p.Depth())
		})
		client := NewNetworkProverClient(remote.URL, "remote-key", 5*time.Second)
		require.NoError(t, client.HealthCheck(ctx))

		vp, err := client.ProveVote(ctx, params)
		require.NoError(t, err)
		got, err := vp.PublicOutputs()
		require.NoError(t, err)
		assert.Equal(t, outputs, got)
		assert.Equal(t, uint32(2), vp.TreeDepth)
	})

	t.Run("different public values", func(t *testing.T) {
		remote := remoteProver(t, func(p *prover.VoteParameters) (int, interface{}) {
			return http.StatusOK, emptyVoteProof(t, vote.PublicOutputs{CandidateID: 99}, p.Depth())
		})
		client := NewNetworkProverClient(remote.URL, "remote-key", 5*time.Second)
		_, err := client.ProveVote(ctx, params)
		assert.ErrorContains(t, err, "different public values")
	})

	t.Run("remote errors", func(t *testing.T) {
		remote := remoteProver(t, func(p *prover.VoteParameters) (int, interface{}) {
			return http.StatusBadRequest, map[string]string{"code": "malformed_body", "message": "bad digest"}
		})
		client := NewNetworkProverClient(remote.URL, "remote-key", 5*time.Second)
		_, err := client.ProveVote(ctx, params)
		assert.ErrorIs(t, err, vote.ErrMalformedInput)
	})

	t.Run("ineligible voter is not forwarded", func(t *testing.T) {
		remote := remoteProver(t, func(p *prover.VoteParameters) (int, interface{}) {
			t.Error("request should not reach the network prover")
			return http.StatusInternalServerError, nil
		})
		client := NewNetworkProverClient(remote.URL, "remote-key", 5*time.Second)
		bad := *params
		bad.Input.MerkleRoot = vote.Digest{}
		_, err := client.ProveVote(ctx, &bad)
		assert.ErrorIs(t, err, vote.ErrEligibilityMismatch)
	})

	t.Run("disabled", func(t *testing.T) {
		var client *NetworkProverClient
		assert.False(t, client.Enabled())
		_, err := client.ProveVote(ctx, params)
		assert.ErrorIs(t, err, ErrNetworkProverDisabled)
	})
}

func TestRemoteErrorMapping(t *testing.T) {
	err := remoteError(http.StatusUnprocessableEntity, []byte(`{"code":"eligibility_mismatch","message":"root differs"}`))
	assert.ErrorIs(t, err, vote.ErrEligibilityMismatch)

	err = remoteError(http.StatusBadGateway, []byte(`upstream down`))
	assert.ErrorContains(t, err, "status 502")
}

func TestServerFallsBackToNetworkProver(t *testing.T) {
	remote := remoteProver(t, func(p *prover.VoteParameters) (int, interface{}) {
		out, _ := vote.Execute(&p.Input)
		return http.StatusOK, emptyVoteProof(t, out, p.Depth())
	})

	handler := newTestHandler(t, "", &Backend{Prover: &Prover{
		ProvingSystems: []*prover.ProvingSystem{{TreeDepth: 5}},
		Network:        NewNetworkProverClient(remote.URL, "remote-key", 5*time.Second),
	}})

	params := testParameters(t, 1)
	body, err := json.Marshal(params)
	require.NoError(t, err)

	rec := doRequest(handler, http.MethodPost, "/prove", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var vp prover.VoteProof
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vp))
	assert.Equal(t, uint32(1), vp.TreeDepth)
}
