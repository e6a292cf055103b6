package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/makerspool/internal/db"
)

type ListAuditQuery struct {
	Action  string `form:"action"`
	Job     string `form:"job"`
	Machine string `form:"machine"`
	Actor   string `form:"actor"`
	Limit   int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset  int    `form:"offset" binding:"omitempty,min=0"`
}

type AuditHandler struct{}

func NewAuditHandler() *AuditHandler {
	return &AuditHandler{}
}

func (h *AuditHandler) ListAuditLogs(c *gin.Context) {
	var query ListAuditQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "Invalid query parameters")
		return
	}
	if query.Limit == 0 {
		query.Limit = 50
	}

	logs, err := db.Audit.ListAuditLogs(c.Request.Context(), db.AuditFilter{
		Action:      query.Action,
		JobName:     query.Job,
		MachineName: query.Machine,
		Actor:       query.Actor,
	}, query.Limit, query.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to list audit logs"})
		return
	}
	if logs == nil {
		logs = []*db.AuditLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

func (h *AuditHandler) RegisterRoutes(read *gin.RouterGroup) {
	read.GET("/audit", h.ListAuditLogs)
}
