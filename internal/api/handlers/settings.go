package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/makerspool/internal/config"
)

type ServerConfigResponse struct {
	Port                int    `json:"port"`
	DatabasePath        string `json:"database_path"`
	ArchivePath         string `json:"archive_path"`
	ArchiveDays         int    `json:"archive_days"`
	FinishCheckInterval string `json:"finish_check_interval"`
	SnapshotInterval    string `json:"snapshot_interval"`
	TokenDuration       string `json:"token_duration"`
	WebhookTargets      int    `json:"webhook_targets"`
	WebhookRetryCount   int    `json:"webhook_retry_count"`
	WebhookRetryDelay   string `json:"webhook_retry_delay"`
	WebhookWorkers      int    `json:"webhook_workers"`
	LogLevel            string `json:"log_level"`
	LogFormat           string `json:"log_format"`
}

// SettingsHandler reports the effective configuration. Secrets are never
// included.
type SettingsHandler struct {
	config *config.Config
}

func NewSettingsHandler(cfg *config.Config) *SettingsHandler {
	return &SettingsHandler{config: cfg}
}

func (h *SettingsHandler) GetServerConfig(c *gin.Context) {
	cfg := h.config
	c.JSON(http.StatusOK, ServerConfigResponse{
		Port:                cfg.Server.Port,
		DatabasePath:        cfg.Database.Path,
		ArchivePath:         cfg.Database.ArchivePath,
		ArchiveDays:         cfg.Database.ArchiveDays,
		FinishCheckInterval: cfg.Scheduler.FinishCheckInterval.String(),
		SnapshotInterval:    cfg.Scheduler.SnapshotInterval.String(),
		TokenDuration:       cfg.Auth.TokenDuration.String(),
		WebhookTargets:      len(cfg.Webhooks.Targets),
		WebhookRetryCount:   cfg.Webhooks.RetryCount,
		WebhookRetryDelay:   cfg.Webhooks.RetryDelay.String(),
		WebhookWorkers:      cfg.Webhooks.WorkerCount,
		LogLevel:            cfg.Logging.Level,
		LogFormat:           cfg.Logging.Format,
	})
}

// RegisterRoutes mounts the config view on the authenticated group.
func (h *SettingsHandler) RegisterRoutes(write *gin.RouterGroup) {
	write.GET("/settings/config", h.GetServerConfig)
}
