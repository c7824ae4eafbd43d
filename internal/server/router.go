package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"users-api/internal/auth"
	"users-api/internal/handler"
	"users-api/internal/hub"
	"users-api/internal/middleware"
	"users-api/internal/storage"
	"users-api/internal/store"
	"users-api/internal/validation"
)

type Deps struct {
	Users     store.Users
	Files     storage.Storage
	Validator *validation.Validator
	Hub       *hub.Hub
	Logger    *zap.Logger

	TokenConfig auth.TokenConfig
	// RateLimiter guards write routes; nil disables limiting.
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string

	// StaticPath and StaticRoot expose locally stored files read-only.
	StaticPath string
	StaticRoot string

	Version string
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func NewRouter(deps Deps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	validator := deps.Validator
	if validator == nil {
		validator = validation.New(validation.DefaultImageMaxKB)
	}
	events := deps.Hub
	if events == nil {
		events = hub.New()
	}

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(ginzap.Ginzap(log, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(log, true))
	r.Use(middleware.Metrics())
	r.Use(cors.New(corsConfig(deps.CORSOrigins)))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	versionHandler := &handler.VersionHandler{Version: deps.Version}
	r.GET("/version", versionHandler.Check)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.StaticPath != "" && deps.StaticRoot != "" {
		r.Static(deps.StaticPath, deps.StaticRoot)
	}

	userHandler := &handler.UserHandler{
		Users:     deps.Users,
		Files:     deps.Files,
		Validator: validator,
		Events:    events,
		Log:       log,
	}

	guard := []gin.HandlerFunc{middleware.RequireAuth(deps.TokenConfig)}
	if deps.RateLimiter != nil {
		guard = append(guard, middleware.RateLimitMiddleware(deps.RateLimiter))
	}
	write := func(h gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, guard...), h)
	}

	users := r.Group("/users")
	users.GET("", userHandler.Index)
	users.GET("/:id", userHandler.Show)
	users.POST("", write(userHandler.Store)...)
	users.PUT("/:id", write(userHandler.Update)...)
	users.PATCH("/:id", write(userHandler.Update)...)
	users.DELETE("/:id", write(userHandler.Destroy)...)

	wsHandler := &handler.WebSocketHandler{Hub: events, TokenConfig: deps.TokenConfig, Log: log}
	r.GET("/ws/users", wsHandler.Serve)

	return r
}
