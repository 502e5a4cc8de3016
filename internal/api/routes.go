package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/interpreter/internal/auth"
	"github.com/satriahrh/interpreter/internal/websocket"
)

// InitRoutes initializes all routes. A nil authenticator leaves /ws open;
// every connection then gets a generated client ID.
func InitRoutes(e *echo.Echo, hub *websocket.Hub, authenticator *auth.Authenticator, gatherer prometheus.Gatherer, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:  "ok",
			Service: "interpreter-server",
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// WebSocket endpoint, optionally behind JWT validation
	e.GET("/ws", func(c echo.Context) error {
		if authenticator == nil {
			return hub.HandleWebSocket(c, uuid.New().String())
		}
		return websocketWithAuth(hub, authenticator, c, logger)
	})
}

// websocketWithAuth handles WebSocket connections with JWT authentication
func websocketWithAuth(hub *websocket.Hub, authenticator *auth.Authenticator, c echo.Context, logger *zap.Logger) error {
	token := bearerToken(c)
	if token == "" {
		logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required in Authorization header or token query parameter",
		})
	}

	claims, err := authenticator.ValidateToken(token)
	if err != nil {
		logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	logger.Info("WebSocket connection authenticated", zap.String("clientID", claims.ClientID))
	return hub.HandleWebSocket(c, claims.ClientID)
}

// bearerToken reads the token from the Authorization header, falling back to
// the token query parameter for clients that cannot set headers
func bearerToken(c echo.Context) string {
	authHeader := c.Request().Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return c.QueryParam("token")
}
