package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/router-for-me/SchoolAuth/internal/http/api/authapi"
	"github.com/router-for-me/SchoolAuth/internal/http/api/users"
	"github.com/router-for-me/SchoolAuth/internal/http/middleware"
	"github.com/router-for-me/SchoolAuth/internal/store"
	"gorm.io/gorm"
)

// RouterDeps groups everything the HTTP surface needs.
type RouterDeps struct {
	DB        *gorm.DB
	APIPrefix string
	Auth      authapi.Services
	Users     *store.Users
	Limiter   *middleware.RateLimiter
}

// NewRouter builds the gin engine serving the API, health and metrics endpoints.
func NewRouter(deps RouterDeps) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestLogger())

	health := NewHealthHandler(deps.DB)
	engine.GET("/healthz", health.Healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group(deps.APIPrefix)
	authapi.RegisterRoutes(api, deps.Auth, deps.Limiter)
	users.RegisterRoutes(api, deps.Auth.Gate, deps.Users)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "NotFound", "detail": "route not found"})
	})
	return engine
}

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Healthz checks database connectivity and returns status.
func (h *HealthHandler) Healthz(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	if errPing := sqlDB.PingContext(c.Request.Context()); errPing != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
