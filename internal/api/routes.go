package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/internal/auth"
	"github.com/satriahrh/sidechain/internal/metrics"
	"github.com/satriahrh/sidechain/internal/websocket"
	"github.com/satriahrh/sidechain/usecase"
)

// SessionController is the part of the running session the API drives
type SessionController interface {
	Session() *entities.Session
	Status() usecase.SessionStatus
	AddQuestion(question string) bool
	Flush(ctx context.Context) usecase.FlushResult
}

// ChunkLister reads back persisted chunks
type ChunkLister interface {
	ListBySession(ctx context.Context, sessionID string) ([]*entities.Chunk, error)
}

// Dependencies wires the routes. Chunks and Hub are optional.
type Dependencies struct {
	Session   SessionController
	Chunks    ChunkLister
	Hub       *websocket.Hub
	Metrics   *metrics.Metrics
	JWTSecret string
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "sidechain",
		})
	})

	e.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, deps.Session.Status())
	})

	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	// Live transcript feed
	if deps.Hub != nil {
		e.GET("/ws", func(c echo.Context) error {
			return websocket.HandleWebSocket(deps.Hub, c)
		})
	}

	// API v1 routes
	v1 := e.Group("/api/v1", requireToken([]byte(deps.JWTSecret), logger))

	v1.GET("/questions", func(c echo.Context) error {
		return c.JSON(http.StatusOK, QuestionsResponse{
			Questions: deps.Session.Status().Questions,
		})
	})

	v1.POST("/questions", func(c echo.Context) error {
		return addQuestion(c, deps.Session, logger)
	})

	v1.POST("/flush", func(c echo.Context) error {
		return flush(c, deps.Session, logger)
	})

	v1.GET("/chunks", func(c echo.Context) error {
		return listChunks(c, deps.Session, deps.Chunks, logger)
	})
}

// requireToken checks the bearer token when a secret is configured
func requireToken(secret []byte, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(secret) == 0 {
				return next(c)
			}

			// Extract JWT token from Authorization header only
			token, ok := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required in Authorization header",
				})
			}

			claims, err := auth.ValidateToken(secret, token)
			if err != nil {
				logger.Warn("Request rejected: invalid token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}

			logger.Debug("Authorized request",
				zap.String("path", c.Path()),
				zap.String("role", claims.Role))
			return next(c)
		}
	}
}

func addQuestion(c echo.Context, session SessionController, logger *zap.Logger) error {
	var req AddQuestionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "question is required",
		})
	}

	added := session.AddQuestion(question)
	if added {
		logger.Info("Question added", zap.String("question", question))
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	return c.JSON(status, QuestionsResponse{
		Added:     added,
		Questions: session.Status().Questions,
	})
}

func flush(c echo.Context, session SessionController, logger *zap.Logger) error {
	result := session.Flush(c.Request().Context())

	resp := FlushResponse{
		Dispatched: result.Dispatched,
		Transcript: result.Transcript,
		Reply:      result.Reply,
	}
	if result.Err != nil {
		logger.Warn("Manual flush failed", zap.Error(result.Err))
		resp.Error = result.Err.Error()
		return c.JSON(http.StatusBadGateway, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func listChunks(c echo.Context, session SessionController, chunks ChunkLister, logger *zap.Logger) error {
	if chunks == nil {
		return c.JSON(http.StatusNotImplemented, ErrorResponse{
			Error:   "not_supported",
			Message: "The configured store cannot list chunks",
		})
	}

	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		sessionID = session.Session().ID
	}

	list, err := chunks.ListBySession(c.Request().Context(), sessionID)
	if err != nil {
		logger.Error("Failed to list chunks", zap.String("sessionID", sessionID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to list chunks",
		})
	}
	if list == nil {
		list = []*entities.Chunk{}
	}
	return c.JSON(http.StatusOK, list)
}
