package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health godoc
// @Summary      Health check
// @Description  Returns the service status and whether an ensemble has been fitted
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	body := gin.H{"status": "healthy"}
	if h.trainer != nil {
		if model := h.trainer.CurrentModel(); model != nil {
			body["model"] = gin.H{"ready": true, "run_id": model.RunID, "fingerprint": model.Fingerprint}
		} else {
			body["model"] = gin.H{"ready": false}
		}
	}
	c.JSON(http.StatusOK, body)
}
