package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/payrecon/internal/observability/logger"
	"go.uber.org/zap"
)

// GetCheckoutSettings exposes the presentation settings a checkout page needs.
// Credentials never leave the server.
func (s *Server) GetCheckoutSettings(c *gin.Context) {
	ctx := c.Request.Context()
	settings, err := s.settings.Gateway(ctx)
	if err != nil {
		obslogger.FromContext(ctx).Warn("gateway settings unavailable", zap.Error(err))
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"display": settings.Display,
		"mode":    settings.Credentials.Mode(),
	}})
}
