package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/makerspool/internal/archive"
	"github.com/orrn/makerspool/internal/db"
)

type ArchiveHandler struct {
	archiver *archive.Archiver
}

func NewArchiveHandler(archiver *archive.Archiver) *ArchiveHandler {
	return &ArchiveHandler{
		archiver: archiver,
	}
}

type ListArchivedQuery struct {
	Machine string `form:"machine"`
	Owner   string `form:"owner"`
	Reason  string `form:"reason"`
	Limit   int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset  int    `form:"offset" binding:"omitempty,min=0"`
}

type ArchiveListResponse struct {
	Archives []*archive.ArchiveFile `json:"archives"`
	Count    int                    `json:"count"`
}

// ListArchivedJobs returns recent history kept in the main database.
func (h *ArchiveHandler) ListArchivedJobs(c *gin.Context) {
	var query ListArchivedQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "Invalid query parameters")
		return
	}

	jobs, err := h.archiver.List(c.Request.Context(), db.ArchiveFilter{
		MachineName: query.Machine,
		Owner:       query.Owner,
		Reason:      query.Reason,
		Limit:       query.Limit,
		Offset:      query.Offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to list archived jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *ArchiveHandler) ListArchives(c *gin.Context) {
	archives, err := h.archiver.ListArchives()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "archive_error", Message: "Failed to list archives"})
		return
	}
	if archives == nil {
		archives = []*archive.ArchiveFile{}
	}

	c.JSON(http.StatusOK, ArchiveListResponse{
		Archives: archives,
		Count:    len(archives),
	})
}

func (h *ArchiveHandler) TriggerArchive(c *gin.Context) {
	moved, err := h.archiver.RunArchive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"message":  "archive completed with errors",
			"archived": moved,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "archive completed successfully", "archived": moved})
}

func (h *ArchiveHandler) RegisterRoutes(read, write *gin.RouterGroup) {
	read.GET("/archive/jobs", h.ListArchivedJobs)
	read.GET("/archive/files", h.ListArchives)
	write.POST("/archive/run", h.TriggerArchive)
}
