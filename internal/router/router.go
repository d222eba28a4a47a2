package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/handler"
	"github.com/stemsi/exstem-grader/internal/middleware"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Exam    *handler.ExamHandler
	Session *handler.SessionHandler
	Code    *handler.CodeHandler
	Mistake *handler.MistakeHandler
	Admin   *handler.AdminHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// codeLimiter may be nil, in which case editor runs are not rate limited.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	codeLimiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so the access log can carry it.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.AccessLog(log))
	router.Use(middleware.Brotli(cfg.CompressMinBytes))

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Learner Group (JWT) ────────────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.RequireUserJWT(authService))
	{
		api.GET("/me", handlers.Auth.Me)

		exams := api.Group("/exams", middleware.CacheControl(cfg.CatalogMaxAge))
		exams.GET("", handlers.Exam.ListExams)
		exams.GET("/:exam_id", handlers.Exam.GetExam)

		sessions := api.Group("/sessions", middleware.NoStore())
		sessions.POST("", handlers.Session.Start)
		sessions.GET("/:session_id", handlers.Session.State)
		sessions.PUT("/:session_id/answers", handlers.Session.RecordAnswer)
		sessions.POST("/:session_id/next", handlers.Session.Next)
		sessions.POST("/:session_id/previous", handlers.Session.Previous)
		sessions.POST("/:session_id/jump", handlers.Session.Jump)
		sessions.POST("/:session_id/submit", handlers.Session.Submit)
		sessions.POST("/:session_id/exit", handlers.Session.Exit)
		sessions.GET("/:session_id/result", handlers.Session.Result)
		api.GET("/history", handlers.Session.History)

		api.GET("/mistakes", handlers.Mistake.List)
		api.POST("/mistakes/:question_id/master", handlers.Mistake.MarkMastered)

		code := api.Group("/code")
		if codeLimiter != nil {
			code.Use(codeLimiter.Middleware())
		}
		code.POST("/run", handlers.Code.Run)
		code.POST("/questions/:question_id/samples", handlers.Code.RunSamples)
	}

	// ─── 2. Admin Group (Admin JWT) ────────────────────────────────────
	// A sibling group of the learner routes, so learner auth does not apply.
	admin := router.Group("/api/v1/admin")
	admin.Use(middleware.RequireAdminJWT(authService))
	{
		admin.GET("/me", handlers.Auth.Me)
		admin.POST("/exams", handlers.Admin.ImportExam)
		admin.POST("/exams/:exam_id/refresh", handlers.Admin.RefreshPaper)
		admin.GET("/mistakes/top", handlers.Admin.TopMistakes)
		admin.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	// ─── 3. WebSocket Group (Learner WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireUserWSAuth(authService))
	{
		ws.GET("/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	return router
}
