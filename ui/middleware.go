package ui

import (
	"vitalsdash/ui/middleware"

	"github.com/gin-gonic/gin"
)

// setupMiddleware configures Gin middleware
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.EnsureRequestID())
	s.router.Use(middleware.RequestLogger(s.logger))
}
