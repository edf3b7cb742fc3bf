package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lottery-backend/internal/config"
	"lottery-backend/internal/models"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
)

// ZKVMClient ZKVM service client
type ZKVMClient struct {
	BaseURL string
	Client  *http.Client
}

// NewZKVMClient Create a new ZKVM client
func NewZKVMClient(baseURL string) *ZKVMClient {
	// proving is slow; default 5 minutes
	timeout := 300 * time.Second
	if config.AppConfig != nil && config.AppConfig.ZKVM.Timeout > 0 {
		timeout = time.Duration(config.AppConfig.ZKVM.Timeout) * time.Second
	}

	logrus.WithFields(logrus.Fields{"base_url": baseURL, "timeout": timeout}).Info("🔧 [ZKVM] client created")
	return &ZKVMClient{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

// ClaimProofRequest winner/loser claim proof request
type ClaimProofRequest struct {
	Kind             models.ProofKind `json:"kind"`
	Secret           string           `json:"secret"` // hex
	Commitment       string           `json:"commitment"`
	WinnerCommitment string           `json:"winner_commitment"`
}

// ClaimProofResponse claim proof response
type ClaimProofResponse struct {
	RequestID      string  `json:"request_id"`
	Success        bool    `json:"success"`
	ProofData      string  `json:"proof_data"`
	PublicValues   string  `json:"public_values"`
	ErrorMessage   *string `json:"error_message"`
	GenerationTime *string `json:"generation_time"`
}

// GenerateClaimProof proves knowledge of the secret behind commitment and
// whether it is (or is not) the winner.
func (c *ZKVMClient) GenerateClaimProof(ctx context.Context, kind models.ProofKind, secret []byte, cm, winner common.Hash) ([]byte, error) {
	req := ClaimProofRequest{
		Kind:             kind,
		Secret:           hexutil.Encode(secret),
		Commitment:       cm.Hex(),
		WinnerCommitment: winner.Hex(),
	}
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/proof/claim", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: build proof request: %v", types.ErrAdapterFailure, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %v", types.ErrAdapterFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", types.ErrAdapterFailure, err)
	}

	if err := classifyStatus("zkvm", "/api/proof/claim", resp.StatusCode, body); err != nil {
		logrus.WithFields(logrus.Fields{
			"status":     resp.StatusCode,
			"commitment": cm.Hex(),
			"kind":       kind,
		}).Warn("❌ [ZKVM] GenerateClaimProof failed")
		return nil, err
	}

	var result ClaimProofResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal response: %v", types.ErrAdapterFailure, err)
	}
	if !result.Success {
		msg := "proof generation refused"
		if result.ErrorMessage != nil {
			msg = *result.ErrorMessage
		}
		return nil, fmt.Errorf("%w: %s", types.ErrRejected, msg)
	}
	proof, err := hexutil.Decode(result.ProofData)
	if err != nil || len(proof) == 0 {
		return nil, fmt.Errorf("%w: malformed proof_data", types.ErrAdapterFailure)
	}
	return proof, nil
}
