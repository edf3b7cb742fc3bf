package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"lottery-backend/internal/epoch"
	"lottery-backend/internal/repository"
	"lottery-backend/internal/services"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EpochHandler epoch lifecycle endpoints
type EpochHandler struct {
	coordinator *services.Coordinator
	epochs      repository.EpochRepository // nil when persistence is disabled
}

// NewEpochHandler create epoch handler
func NewEpochHandler(coordinator *services.Coordinator, epochs repository.EpochRepository) *EpochHandler {
	return &EpochHandler{coordinator: coordinator, epochs: epochs}
}

// InitializeEpochHandler POST /api/epochs
func (h *EpochHandler) InitializeEpochHandler(c *gin.Context) {
	var req types.InitializeEpochRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	params := h.coordinator.Params()
	if req.MaxParticipants != nil {
		params.MaxParticipants = *req.MaxParticipants
	}
	if req.MinDeposit != "" {
		v, err := parseAmount("min_deposit", req.MinDeposit)
		if err != nil {
			badRequest(c, err)
			return
		}
		params.MinDeposit = v
	}
	if req.DurationSeconds < 0 {
		badRequest(c, invalidf("duration_seconds must be positive"))
		return
	}
	if req.DurationSeconds > 0 {
		params.Duration = time.Duration(req.DurationSeconds) * time.Second
	}

	init := services.InitializeRequest{Params: &params}
	if req.Deadline != nil {
		init.Deadline = *req.Deadline
	}
	snap, err := h.coordinator.InitializeEpoch(c.Request.Context(), init)
	if err != nil {
		respondWithCoordinatorError(c, services.StageInitialize, err)
		return
	}
	logrus.WithFields(logrus.Fields{
		"epoch": snap.EpochID,
		"admin": adminName(c),
	}).Info("🆕 [API] epoch initialized")
	c.JSON(http.StatusCreated, epochView(snap, true))
}

// GetCurrentEpochHandler GET /api/epochs/current
func (h *EpochHandler) GetCurrentEpochHandler(c *gin.Context) {
	snap, err := h.coordinator.Snapshot()
	if err != nil {
		respondWithCoordinatorError(c, "snapshot", err)
		return
	}
	c.JSON(http.StatusOK, epochView(snap, c.Query("deposits") != "false"))
}

// ListEpochsHandler GET /api/epochs
func (h *EpochHandler) ListEpochsHandler(c *gin.Context) {
	if h.epochs == nil {
		respondWithError(c, http.StatusServiceUnavailable, "PERSISTENCE_DISABLED", "epoch history requires a database", nil)
		return
	}
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	records, total, err := h.epochs.ListEpochs(c.Request.Context(), page, limit)
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, "DB_ERROR", err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    records,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

// GetEpochHandler GET /api/epochs/:id
func (h *EpochHandler) GetEpochHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, invalidf("epoch id must be an unsigned integer"))
		return
	}
	if snap, err := h.coordinator.Snapshot(); err == nil && snap.EpochID == id {
		c.JSON(http.StatusOK, epochView(snap, true))
		return
	}
	if h.epochs == nil {
		respondWithError(c, http.StatusNotFound, "NOT_FOUND", "epoch not found", nil)
		return
	}
	rec, deposits, err := h.epochs.GetEpoch(c.Request.Context(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respondWithError(c, http.StatusNotFound, "NOT_FOUND", "epoch not found", nil)
		return
	}
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, "DB_ERROR", err.Error(), nil)
		return
	}
	snap, err := epoch.SnapshotFromRecords(rec, deposits)
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, "CORRUPT_RECORD", err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, epochView(snap, true))
}

// LockPoolHandler POST /api/epochs/lock
func (h *EpochHandler) LockPoolHandler(c *gin.Context) {
	var req types.LockPoolRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	snap, err := h.coordinator.LockPool(c.Request.Context(), req.Force)
	if err != nil {
		respondWithCoordinatorError(c, services.StageLock, err)
		return
	}
	c.JSON(http.StatusOK, epochView(snap, false))
}

// StartStakingHandler POST /api/epochs/stake
func (h *EpochHandler) StartStakingHandler(c *gin.Context) {
	snap, err := h.coordinator.StartStaking(c.Request.Context())
	if err != nil {
		respondWithCoordinatorError(c, services.StageStake, err)
		return
	}
	c.JSON(http.StatusOK, epochView(snap, false))
}

// AccrueYieldHandler POST /api/epochs/yield
func (h *EpochHandler) AccrueYieldHandler(c *gin.Context) {
	total, err := h.coordinator.AccrueYield(c.Request.Context())
	if err != nil {
		respondWithCoordinatorError(c, services.StageYield, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "yield_amount": total.Dec()})
}

// SelectWinnerHandler POST /api/epochs/select-winner
func (h *EpochHandler) SelectWinnerHandler(c *gin.Context) {
	snap, err := h.coordinator.SelectWinner(c.Request.Context())
	if err != nil {
		respondWithCoordinatorError(c, services.StageSelectWinner, err)
		return
	}
	c.JSON(http.StatusOK, epochView(snap, false))
}

// AdvanceHandler POST /api/epochs/advance
func (h *EpochHandler) AdvanceHandler(c *gin.Context) {
	res, err := h.coordinator.Advance(c.Request.Context())
	if err != nil {
		respondWithCoordinatorError(c, "advance", err)
		return
	}
	c.JSON(http.StatusOK, types.AdvanceResponse{
		Success: true,
		EpochID: res.EpochID,
		Stage:   res.Stage,
		Status:  string(res.Status),
	})
}

// CrossCheckHandler POST /api/epochs/cross-check
func (h *EpochHandler) CrossCheckHandler(c *gin.Context) {
	if err := h.coordinator.CrossCheck(c.Request.Context()); err != nil {
		respondWithCoordinatorError(c, "cross_check", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "consistent": true})
}

func epochView(s *epoch.Snapshot, withDeposits bool) types.EpochResponse {
	view := types.EpochResponse{
		EpochID:          s.EpochID,
		Status:           string(s.Status),
		Deadline:         s.Deadline.UTC(),
		MaxParticipants:  s.Params.MaxParticipants,
		MinDeposit:       decOrZero(s.Params.MinDeposit),
		ParticipantCount: s.ParticipantCount(),
		WithdrawnCount:   s.WithdrawnCount(),
		TotalDeposited:   decOrZero(s.TotalDeposited),
		StakedAmount:     decOrZero(s.StakedAmount),
		YieldAmount:      decOrZero(s.YieldAmount),
		TotalPaid:        decOrZero(s.TotalPaid),
		AdminLocked:      s.AdminLocked,
	}
	if s.WinnerCommitment != (common.Hash{}) {
		view.WinnerCommitment = s.WinnerCommitment.Hex()
	}
	if len(s.RandomnessSeed) > 0 {
		view.RandomnessSeed = hexutil.Encode(s.RandomnessSeed)
	}
	if withDeposits {
		view.Deposits = make([]types.DepositView, 0, len(s.Deposits))
		for _, d := range s.Deposits {
			dv := types.DepositView{
				Commitment:    d.Commitment.Hex(),
				Seq:           d.Seq,
				Withdrawn:     d.Withdrawn,
				PayoutPending: d.PayoutPending,
				IsWinner:      d.IsWinner,
				PayoutTxRef:   d.PayoutTxRef,
			}
			if d.PaidAmount != nil && !d.PaidAmount.IsZero() {
				dv.PaidAmount = d.PaidAmount.Dec()
			}
			view.Deposits = append(view.Deposits, dv)
		}
	}
	return view
}
