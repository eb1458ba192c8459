package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	googleauth "compliance-backend/internal/auth"
	"compliance-backend/internal/documents"
	"compliance-backend/internal/evaluations"
	"compliance-backend/internal/services/health"
	"compliance-backend/internal/shared/config"
	"compliance-backend/internal/shared/metrics"
	"compliance-backend/internal/shared/server/middleware"
	"compliance-backend/internal/users"
)

// RouterDeps carries everything the router needs; bootstrap owns construction.
type RouterDeps struct {
	Config            config.Config
	DocumentsHandler  *documents.Handler
	EvaluationHandler *evaluations.Handler
	UsersHandler      *users.Handler
	GoogleAuth        *googleauth.GoogleService
	Health            *health.Service
}

// NewRouter constructs the gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Config.Env),
	)

	r.GET("/healthz", func(c *gin.Context) {
		status := map[string]any{"ok": true}
		if deps.Health != nil {
			status = deps.Health.Status(c.Request.Context())
		}
		code := http.StatusOK
		if ok, _ := status["ok"].(bool); !ok {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(1, 5))

	if deps.GoogleAuth != nil {
		deps.GoogleAuth.RegisterRoutes(api)
	}
	if deps.UsersHandler != nil {
		deps.UsersHandler.RegisterRoutes(api)
	}
	if deps.DocumentsHandler != nil {
		deps.DocumentsHandler.RegisterRoutes(api)
	}
	if deps.EvaluationHandler != nil {
		deps.EvaluationHandler.RegisterRoutes(api)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
