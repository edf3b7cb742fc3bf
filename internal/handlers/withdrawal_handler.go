package handlers

import (
	"net/http"

	"lottery-backend/internal/commitment"
	"lottery-backend/internal/services"
	"lottery-backend/internal/types"

	"github.com/gin-gonic/gin"
)

// WithdrawalHandler settlement endpoints
type WithdrawalHandler struct {
	coordinator *services.Coordinator
}

// NewWithdrawalHandler create withdrawal handler
func NewWithdrawalHandler(coordinator *services.Coordinator) *WithdrawalHandler {
	return &WithdrawalHandler{coordinator: coordinator}
}

// WithdrawHandler POST /api/withdrawals
func (h *WithdrawalHandler) WithdrawHandler(c *gin.Context) {
	var req types.WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cm, err := commitment.ParseCommitment(req.Commitment)
	if err != nil {
		badRequest(c, err)
		return
	}
	secret, err := parseHexBytes("secret", req.Secret, false)
	if err != nil {
		badRequest(c, err)
		return
	}

	settlement, err := h.coordinator.ProcessWithdrawal(c.Request.Context(), cm, secret)
	if err != nil {
		respondWithCoordinatorError(c, services.StageWithdraw, err)
		return
	}
	c.JSON(http.StatusOK, settlementView(settlement))
}

// RetryPayoutHandler POST /api/admin/payouts/:commitment/retry
func (h *WithdrawalHandler) RetryPayoutHandler(c *gin.Context) {
	cm, err := parseCommitmentParam(c.Param("commitment"))
	if err != nil {
		badRequest(c, err)
		return
	}
	settlement, err := h.coordinator.RetryPayout(c.Request.Context(), cm)
	if err != nil {
		respondWithCoordinatorError(c, services.StagePayout, err)
		return
	}
	c.JSON(http.StatusOK, settlementView(settlement))
}

func settlementView(s *services.Settlement) types.WithdrawalResponse {
	return types.WithdrawalResponse{
		Success:     true,
		EpochID:     s.EpochID,
		Commitment:  s.Commitment.Hex(),
		IsWinner:    s.IsWinner,
		Principal:   decOrZero(s.Principal),
		Yield:       decOrZero(s.Yield),
		Total:       decOrZero(s.Total),
		ClaimTxRef:  s.ClaimTxRef,
		ClaimToken:  s.ClaimToken,
		PayoutTxRef: s.PayoutTxRef,
		EpochStatus: string(s.Status),
	}
}
