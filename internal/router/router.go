package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Compress())

	// Health check.
	router.GET("/health", handlers.System.Health)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student/exams/:exam_id")
	studentAPI.Use(middleware.RequireStudentJWT(authService), middleware.NoStore())
	saveChain := []gin.HandlerFunc{handlers.Session.SaveAnswer}
	if cfg.AutosaveRateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.AutosaveRateLimit, time.Minute)
		saveChain = append([]gin.HandlerFunc{limiter.Middleware()}, saveChain...)
	}
	{
		studentAPI.GET("/timing", handlers.Session.GetTiming)
		studentAPI.GET("/session", handlers.Session.GetSession)
		studentAPI.POST("/open", handlers.Session.Open)
		studentAPI.POST("/start", handlers.Session.Start)
		studentAPI.POST("/resume", handlers.Session.Resume)
		studentAPI.POST("/restart", handlers.Session.Restart)
		studentAPI.POST("/cancel", handlers.Session.Cancel)
		studentAPI.POST("/answers", saveChain...)
		studentAPI.POST("/submit", handlers.Session.Submit)
		studentAPI.POST("/back", handlers.Session.Back)
		studentAPI.GET("/result", handlers.Session.GetResult)
		studentAPI.GET("/attempts/:attempt_id", handlers.Session.GetAttempt)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/exams/:exam_id/stream", handlers.WS.ExamWebSocketStream)
	}

	return router
}
