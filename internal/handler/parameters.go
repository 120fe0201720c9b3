package handler

import (
	"net/http"

	"squatwall/internal/domain"

	"github.com/gin-gonic/gin"
)

// Parameters godoc
// @Summary      Wall parameters
// @Description  Lists the twelve inputs in model column order with labels, valid ranges and defaults
// @Tags         predict
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Security     ApiKeyAuth
// @Router       /api/parameters [get]
func (h *Handler) Parameters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"parameters": domain.Fields(),
		"defaults":   domain.DefaultParameters(),
	})
}
