package http

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterEchoRoutes mounts the verification endpoints on an echo instance
func RegisterEchoRoutes(e *echo.Echo, service *VerificationService) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, service.Health())
	})

	e.POST("/verify", func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		}
		status, resp := service.HandleVerify(c.Request().Context(), echoRequestID(c), body)
		return c.JSON(status, resp)
	})

	e.POST("/verify/balance", func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		}
		status, resp := service.HandleVerifyBalance(c.Request().Context(), echoRequestID(c), body)
		return c.JSON(status, resp)
	})
}

func echoRequestID(c echo.Context) string {
	id := requestIDOrNew(c.Request().Header.Get(RequestIDHeader))
	c.Response().Header().Set(RequestIDHeader, id)
	return id
}
