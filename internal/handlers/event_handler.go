package handlers

import (
	"net/http"
	"strconv"

	"lottery-backend/internal/events"
	"lottery-backend/internal/models"
	"lottery-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// EventHandler bridge event history. Reads the database log when one is
// configured, the in-memory bus history otherwise.
type EventHandler struct {
	bus      *events.Bus
	recorder *services.EventRecorder // nil when persistence is disabled
}

// NewEventHandler create event handler
func NewEventHandler(bus *events.Bus, recorder *services.EventRecorder) *EventHandler {
	return &EventHandler{bus: bus, recorder: recorder}
}

// ListEventsHandler GET /api/events?after=<seq>&limit=<n>
func (h *EventHandler) ListEventsHandler(c *gin.Context) {
	after, err := queryUint64(c, "after")
	if err != nil {
		badRequest(c, err)
		return
	}
	limit := queryInt(c, "limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var list []models.BridgeEvent
	if h.recorder != nil {
		rows, err := h.recorder.Since(c.Request.Context(), after, limit)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, "DB_ERROR", err.Error(), nil)
			return
		}
		list = derefEvents(rows)
	} else {
		list = h.bus.Since(after, limit)
	}

	next := after
	if len(list) > 0 {
		next = list[len(list)-1].Seq
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"events":   list,
		"next":     next,
		"last_seq": h.bus.LastSeq(),
	})
}

// EpochEventsHandler GET /api/epochs/:id/events
func (h *EventHandler) EpochEventsHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, invalidf("epoch id must be an unsigned integer"))
		return
	}

	var list []models.BridgeEvent
	if h.recorder != nil {
		rows, err := h.recorder.ByEpoch(c.Request.Context(), id)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, "DB_ERROR", err.Error(), nil)
			return
		}
		list = derefEvents(rows)
	} else {
		for _, e := range h.bus.Since(0, 0) {
			if e.EpochID == id {
				list = append(list, e)
			}
		}
	}
	if list == nil {
		list = []models.BridgeEvent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"epoch_id": id,
		"events":   list,
	})
}

func derefEvents(rows []*models.BridgeEvent) []models.BridgeEvent {
	out := make([]models.BridgeEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	return out
}
