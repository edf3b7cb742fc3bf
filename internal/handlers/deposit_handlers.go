package handlers

import (
	"net/http"

	"lottery-backend/internal/commitment"
	"lottery-backend/internal/services"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// DepositFunder moves a participant's funds into the settlement pool once the
// deposit is registered. Only the in-memory settlement chain needs one; on a real
// chain the participant funds the pool directly.
type DepositFunder interface {
	Fund(c common.Hash, amount *uint256.Int)
}

// DepositHandler participant deposit endpoints
type DepositHandler struct {
	coordinator *services.Coordinator
	funder      DepositFunder
}

// NewDepositHandler create deposit handler; funder may be nil
func NewDepositHandler(coordinator *services.Coordinator, funder DepositFunder) *DepositHandler {
	return &DepositHandler{coordinator: coordinator, funder: funder}
}

// ComputeCommitmentHandler POST /api/commitments
func (h *DepositHandler) ComputeCommitmentHandler(c *gin.Context) {
	var req types.ComputeCommitmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	secret, err := parseHexBytes("secret", req.Secret, false)
	if err != nil {
		badRequest(c, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		badRequest(c, err)
		return
	}
	cm, err := h.coordinator.Engine().Commit(secret, amount)
	if err != nil {
		respondWithCoordinatorError(c, "commit", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"commitment":  cm.Hex(),
		"hash_family": h.coordinator.Engine().Family(),
	})
}

// CreateDepositHandler POST /api/deposits
func (h *DepositHandler) CreateDepositHandler(c *gin.Context) {
	var req types.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cm, err := commitment.ParseCommitment(req.Commitment)
	if err != nil {
		badRequest(c, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := commitment.ValidateAmount(amount); err != nil {
		badRequest(c, err)
		return
	}
	proof, err := parseHexBytes("proof", req.Proof, true)
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.coordinator.Deposit(c.Request.Context(), cm, amount, proof)
	if err != nil {
		respondWithCoordinatorError(c, services.StageDeposit, err)
		return
	}
	// simulated pool is credited only for registered deposits
	if h.funder != nil {
		h.funder.Fund(cm, amount)
	}
	logrus.WithFields(logrus.Fields{
		"epoch":      res.EpochID,
		"commitment": res.Commitment.Hex(),
	}).Info("📥 [API] deposit registered")

	c.JSON(http.StatusCreated, types.DepositResponse{
		Success:          true,
		EpochID:          res.EpochID,
		Commitment:       res.Commitment.Hex(),
		TxRef:            res.TxRef,
		ParticipantCount: res.ParticipantCount,
	})
}

// GetDepositHandler GET /api/deposits/:commitment
func (h *DepositHandler) GetDepositHandler(c *gin.Context) {
	cm, err := parseCommitmentParam(c.Param("commitment"))
	if err != nil {
		badRequest(c, err)
		return
	}
	snap, err := h.coordinator.Snapshot()
	if err != nil {
		respondWithCoordinatorError(c, "snapshot", err)
		return
	}
	view := epochView(snap, true)
	for _, d := range view.Deposits {
		if d.Commitment == cm.Hex() {
			c.JSON(http.StatusOK, gin.H{
				"success":      true,
				"epoch_id":     snap.EpochID,
				"epoch_status": snap.Status,
				"deposit":      d,
			})
			return
		}
	}
	respondWithError(c, http.StatusNotFound, "NOT_FOUND", "commitment not registered in the active epoch", nil)
}
