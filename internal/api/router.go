package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/makerspool/internal/api/handlers"
	"github.com/orrn/makerspool/internal/api/middleware"
	"github.com/orrn/makerspool/internal/archive"
	"github.com/orrn/makerspool/internal/config"
	"github.com/orrn/makerspool/internal/core"
	"github.com/orrn/makerspool/internal/webhook"
)

// Deps carries the collaborators the handlers need. Archiver, Webhooks and
// Config are optional; their routes are skipped when nil.
type Deps struct {
	Scheduler *core.Scheduler
	Archiver  *archive.Archiver
	Webhooks  *webhook.Sender
	Config    *config.Config
	Auth      *middleware.AuthMiddleware
	Logger    *slog.Logger
}

// NewRouter mounts the JSON API under /api. Reads accept anonymous callers;
// every mutation requires a valid admin token.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup := r.Group("/api/auth")
	authGroup.GET("/status", deps.Auth.StatusHandler)
	authGroup.POST("/setup", deps.Auth.SetupHandler)
	authGroup.POST("/login", deps.Auth.LoginHandler)
	authGroup.POST("/logout", deps.Auth.LogoutHandler)
	authGroup.POST("/change-password", deps.Auth.RequireAuth(), deps.Auth.ChangePasswordHandler)

	read := r.Group("/api", deps.Auth.OptionalAuth())
	write := r.Group("/api", deps.Auth.RequireAuth())

	var archiver handlers.JobArchiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
		handlers.NewArchiveHandler(deps.Archiver).RegisterRoutes(read, write)
	}
	handlers.NewMachineHandler(deps.Scheduler, archiver, deps.Logger).RegisterRoutes(read, write)
	handlers.NewJobHandler(deps.Scheduler, archiver, deps.Logger).RegisterRoutes(read, write)
	handlers.NewAuditHandler().RegisterRoutes(read)
	if deps.Webhooks != nil {
		handlers.NewWebhookHandler(deps.Webhooks).RegisterRoutes(read, write)
	}
	if deps.Config != nil {
		handlers.NewSettingsHandler(deps.Config).RegisterRoutes(write)
	}

	return r
}
