package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"lottery-backend/internal/models"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSettlementClientReadPoolState(t *testing.T) {
	winner := common.HexToHash("0xabc")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/pool", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total_deposited":   "305",
			"participant_count": 3,
			"yield_amount":      "5",
			"staked_amount":     "305",
			"winner_commitment": winner.Hex(),
			"status":            "finalized",
		})
	}))
	defer srv.Close()

	c := NewSettlementClient(srv.URL, SettlementClientOptions{Timeout: time.Second})
	state, err := c.ReadPoolState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(305), state.TotalDeposited.Uint64())
	assert.Equal(t, 3, state.ParticipantCount)
	assert.Equal(t, uint64(5), state.YieldAmount.Uint64())
	assert.Equal(t, winner, state.WinnerCommitment)
	assert.Equal(t, models.SettlementPoolFinalized, state.Status)
}

func TestSettlementClientMalformedAnswerIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total_deposited": "12abc",
			"status":          "open",
		})
	}))
	defer srv.Close()

	c := NewSettlementClient(srv.URL, SettlementClientOptions{Timeout: time.Second})
	_, err := c.ReadPoolState(context.Background())
	assert.ErrorIs(t, err, types.ErrAdapterFailure)
}

func TestSettlementClientUnknownStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "paused"})
	}))
	defer srv.Close()

	c := NewSettlementClient(srv.URL, SettlementClientOptions{Timeout: time.Second})
	_, err := c.ReadPoolState(context.Background())
	assert.ErrorIs(t, err, types.ErrAdapterFailure)
}

func TestClientStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"bad request is a rejection", http.StatusBadRequest, types.ErrRejected},
		{"conflict is a rejection", http.StatusConflict, types.ErrRejected},
		{"rate limit is transient", http.StatusTooManyRequests, types.ErrAdapterFailure},
		{"unavailable is transient", http.StatusServiceUnavailable, types.ErrAdapterFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]string{"message": "nope"})
			}))
			defer srv.Close()

			c := NewSettlementClient(srv.URL, SettlementClientOptions{Timeout: time.Second})
			_, err := c.FinalizeEpoch(context.Background(), common.HexToHash("0x1"), []byte{1}, uint256.NewInt(1))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestClientBreakerOpensOnTransientFailuresOnly(t *testing.T) {
	var hits int32
	status := int32(http.StatusBadRequest)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, int(atomic.LoadInt32(&status)), map[string]string{"error": "x"})
	}))
	defer srv.Close()

	c := NewSettlementClient(srv.URL, SettlementClientOptions{
		Timeout:            time.Second,
		BreakerMaxFailures: 2,
		BreakerTimeout:     time.Minute,
	})
	ctx := context.Background()

	// rejections never trip the breaker
	for i := 0; i < 4; i++ {
		_, err := c.ClaimRewards(ctx)
		assert.ErrorIs(t, err, types.ErrRejected)
	}
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))

	atomic.StoreInt32(&status, http.StatusBadGateway)
	for i := 0; i < 2; i++ {
		_, err := c.ClaimRewards(ctx)
		assert.ErrorIs(t, err, types.ErrAdapterFailure)
	}
	_, err := c.ClaimRewards(ctx)
	assert.ErrorIs(t, err, types.ErrAdapterFailure)
	assert.Equal(t, int32(6), atomic.LoadInt32(&hits), "open breaker short-circuits the request")
}

func TestSettlementClientPayoutRequest(t *testing.T) {
	cm := common.HexToHash("0x42")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payouts/winner", r.URL.Path)
		var req payoutRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, cm.Hex(), req.Commitment)
		assert.Equal(t, "0x0102", req.Proof)
		assert.Equal(t, "100", req.Principal)
		assert.Equal(t, "5", req.Yield)
		writeJSON(w, http.StatusOK, map[string]string{"tx_ref": "0xfeed"})
	}))
	defer srv.Close()

	c := NewSettlementClient(srv.URL, SettlementClientOptions{Timeout: time.Second})
	tx, err := c.PayWinner(context.Background(), cm, []byte{1, 2}, uint256.NewInt(100), uint256.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", tx)
}

func TestSettlementClientPayoutWithoutTxRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{})
	}))
	defer srv.Close()

	c := NewSettlementClient(srv.URL, SettlementClientOptions{Timeout: time.Second})
	_, err := c.PayLoser(context.Background(), common.HexToHash("0x42"), []byte{1}, uint256.NewInt(1))
	assert.ErrorIs(t, err, types.ErrAdapterFailure)
}

func TestPrivacyClientReadPoolState(t *testing.T) {
	a, b := common.HexToHash("0xa"), common.HexToHash("0xb")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/epoch", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"locked":            true,
			"winner_selected":   false,
			"participant_count": 2,
			"commitments":       []string{a.Hex(), b.Hex()},
			"randomness":        "0xdeadbeef",
		})
	}))
	defer srv.Close()

	c := NewPrivacyClient(srv.URL, nil, PrivacyClientOptions{Timeout: time.Second})
	state, err := c.ReadPoolState(context.Background())
	require.NoError(t, err)
	assert.True(t, state.Locked)
	assert.Equal(t, []common.Hash{a, b}, state.Commitments)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, state.Randomness)
	assert.Equal(t, common.Hash{}, state.WinnerCommitment)
}

func TestPrivacyClientBadCommitment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"commitments": []string{"0x1234"}})
	}))
	defer srv.Close()

	c := NewPrivacyClient(srv.URL, nil, PrivacyClientOptions{Timeout: time.Second})
	_, err := c.ReadPoolState(context.Background())
	assert.ErrorIs(t, err, types.ErrAdapterFailure)
}

func TestPrivacyClientWithoutProverFails(t *testing.T) {
	c := NewPrivacyClient("http://127.0.0.1:0", nil, PrivacyClientOptions{})
	_, err := c.GenerateProof(context.Background(), models.ProofKindLoser, []byte("s"), common.HexToHash("0x1"), common.HexToHash("0x2"))
	assert.ErrorIs(t, err, types.ErrAdapterFailure)
}

func TestZKVMProverDelegates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/proof/claim", r.URL.Path)
		var req ClaimProofRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Kind == models.ProofKindWinner {
			msg := "not the winner"
			writeJSON(w, http.StatusOK, ClaimProofResponse{Success: false, ErrorMessage: &msg})
			return
		}
		writeJSON(w, http.StatusOK, ClaimProofResponse{Success: true, ProofData: "0xc0ffee"})
	}))
	defer srv.Close()

	prover := ZKVMProver{Client: NewZKVMClient(srv.URL)}
	c := NewPrivacyClient(srv.URL, prover, PrivacyClientOptions{Timeout: time.Second})
	ctx := context.Background()

	proof, err := c.GenerateProof(ctx, models.ProofKindLoser, []byte("s"), common.HexToHash("0x1"), common.HexToHash("0x2"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xc0, 0xff, 0xee}, proof)

	_, err = c.GenerateProof(ctx, models.ProofKindWinner, []byte("s"), common.HexToHash("0x1"), common.HexToHash("0x2"))
	assert.ErrorIs(t, err, types.ErrRejected)
}
