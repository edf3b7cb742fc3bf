package handlers

import (
	"net/http"

	"lottery-backend/internal/models"
	"lottery-backend/internal/services"
	"lottery-backend/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ReconciliationHandler operator work queue
type ReconciliationHandler struct {
	service *services.ReconciliationService
}

// NewReconciliationHandler create reconciliation handler
func NewReconciliationHandler(service *services.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{service: service}
}

// ListReconciliationsHandler GET /api/admin/reconciliations?status=&epoch_id=&page=&limit=
func (h *ReconciliationHandler) ListReconciliationsHandler(c *gin.Context) {
	status := models.ReconciliationStatus(c.Query("status"))
	switch status {
	case "", models.ReconciliationStatusPending, models.ReconciliationStatusResolved:
	default:
		badRequest(c, invalidf("status must be pending or resolved"))
		return
	}
	epochID, err := queryUint64(c, "epoch_id")
	if err != nil {
		badRequest(c, err)
		return
	}
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 50)

	records, total, err := h.service.List(c.Request.Context(), status, epochID, page, limit)
	if err != nil {
		respondWithCoordinatorError(c, "list_reconciliations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    records,
		"total":   total,
		"page":    page,
	})
}

// GetReconciliationHandler GET /api/admin/reconciliations/:id
func (h *ReconciliationHandler) GetReconciliationHandler(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithCoordinatorError(c, "get_reconciliation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rec})
}

// ResolveReconciliationHandler POST /api/admin/reconciliations/:id/resolve
func (h *ReconciliationHandler) ResolveReconciliationHandler(c *gin.Context) {
	var req types.ResolveReconciliationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	by := adminName(c)
	rec, err := h.service.Resolve(c.Request.Context(), c.Param("id"), by, req.Note)
	if err != nil {
		respondWithCoordinatorError(c, "resolve_reconciliation", err)
		return
	}
	logrus.WithFields(logrus.Fields{
		"id":    rec.ID,
		"kind":  rec.Kind,
		"epoch": rec.EpochID,
		"by":    by,
	}).Info("🩹 [API] reconciliation resolved")
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rec})
}
