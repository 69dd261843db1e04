// Package http exposes settlement verification over HTTP.
// This includes the gin and echo handlers of the verification service and
// the client that calls it.
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"
)

// ============================================================================
// Constructor functions with simpler names
// ============================================================================

// NewServer creates a gin engine serving the verification endpoints
func NewServer(service *VerificationService) *gin.Engine {
	return NewGinEngine(service)
}

// NewEchoServer creates an echo instance serving the verification endpoints
func NewEchoServer(service *VerificationService) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	RegisterEchoRoutes(e, service)
	return e
}

// NewClient creates a client for a remote verification service
func NewClient(config *VerifierClientConfig) *VerifierClient {
	return NewVerifierClient(config)
}
