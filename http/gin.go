package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "ledgerpay.request_id"

// RequestID assigns every request an id, reusing the caller's when present
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := requestIDOrNew(c.GetHeader(RequestIDHeader))
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// NewGinEngine creates a gin engine with recovery, request ids and the verification routes
func NewGinEngine(service *VerificationService) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestID())
	RegisterGinRoutes(r, service)
	return r
}

// RegisterGinRoutes mounts GET /health, POST /verify and POST /verify/balance
func RegisterGinRoutes(r gin.IRoutes, service *VerificationService) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, service.Health())
	})

	r.POST("/verify", func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		status, resp := service.HandleVerify(c.Request.Context(), ginRequestID(c), body)
		c.JSON(status, resp)
	})

	r.POST("/verify/balance", func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		status, resp := service.HandleVerifyBalance(c.Request.Context(), ginRequestID(c), body)
		c.JSON(status, resp)
	})
}

func ginRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	return requestIDOrNew(c.GetHeader(RequestIDHeader))
}

func requestIDOrNew(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
