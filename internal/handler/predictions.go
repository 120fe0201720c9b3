package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RecentPredictions godoc
// @Summary      Recent predictions
// @Description  Returns the newest entries of the diagnostic prediction log
// @Tags         predict
// @Produce      json
// @Param        limit  query     int  false  "Max entries (default 50, max 500)"
// @Success      200    {object}  map[string]interface{}
// @Failure      503    {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/predictions/recent [get]
func (h *Handler) RecentPredictions(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "prediction log unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.recent-predictions")
	defer span.End()

	limit, ok := queryLimit(c, 50)
	if !ok {
		return
	}

	entries, err := h.history.ListRecent(ctx, limit)
	if err != nil {
		h.logger.Error("list predictions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction log unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "predictions": entries})
}

// queryLimit reads ?limit, answering 400 itself when it is malformed.
func queryLimit(c *gin.Context, fallback int) (int, bool) {
	v := c.Query("limit")
	if v == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	return n, true
}
