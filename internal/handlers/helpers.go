// Package handlers exposes the coordinator over HTTP
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"lottery-backend/internal/commitment"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// respondWithError unified error response function
func respondWithError(c *gin.Context, statusCode int, errorType, message string, details interface{}) {
	response := gin.H{
		"success": false,
		"error":   errorType,
		"message": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.JSON(statusCode, response)
}

// httpStatusOf maps the coordinator error taxonomy onto HTTP
func httpStatusOf(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, types.ErrNoActiveEpoch):
		return http.StatusNotFound, "NO_ACTIVE_EPOCH"
	case errors.Is(err, types.ErrAlreadyWithdrawn):
		return http.StatusConflict, "ALREADY_WITHDRAWN"
	case errors.Is(err, types.ErrEmptyPool):
		return http.StatusConflict, "EMPTY_POOL"
	case errors.Is(err, types.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, types.ErrInconsistentState):
		return http.StatusPreconditionFailed, "INCONSISTENT_STATE"
	case errors.Is(err, types.ErrRejected):
		return http.StatusUnprocessableEntity, "REJECTED"
	case errors.Is(err, types.ErrStageFailed), errors.Is(err, types.ErrAdapterFailure):
		return http.StatusBadGateway, "STAGE_FAILED"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// respondWithCoordinatorError writes err with its mapped status and the last known epoch status
func respondWithCoordinatorError(c *gin.Context, operation string, err error) {
	code, errorType := httpStatusOf(err)
	var details interface{}
	if status := types.StatusOf(err); status != "" {
		details = gin.H{"epoch_status": status}
	}
	entry := logrus.WithFields(logrus.Fields{
		"operation": operation,
		"http":      code,
		"path":      c.Request.URL.Path,
	})
	if code >= http.StatusInternalServerError {
		entry.Errorf("❌ [API] %v", err)
	} else {
		entry.Warnf("⚠️ [API] %v", err)
	}
	respondWithError(c, code, errorType, err.Error(), details)
}

func badRequest(c *gin.Context, err error) {
	respondWithError(c, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
}

func parseCommitmentParam(s string) (common.Hash, error) {
	return commitment.ParseCommitment(s)
}

// parseAmount decimal string in the smallest settlement unit
func parseAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, invalidf("%s is required", field)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, invalidf("%s must be a decimal integer", field)
	}
	return v, nil
}

// parseHexBytes 0x-prefixed hex; empty allowed when optional
func parseHexBytes(field, s string, optional bool) ([]byte, error) {
	if s == "" {
		if optional {
			return nil, nil
		}
		return nil, invalidf("%s is required", field)
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, invalidf("%s must be 0x-prefixed hex", field)
	}
	return b, nil
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidInput, fmt.Sprintf(format, args...))
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func queryUint64(c *gin.Context, name string) (uint64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, invalidf("%s must be an unsigned integer", name)
	}
	return v, nil
}

func adminName(c *gin.Context) string {
	if v, ok := c.Get("admin_username"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "admin"
}

func decOrZero(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
