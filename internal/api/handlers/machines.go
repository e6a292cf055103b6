package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/makerspool/internal/api/middleware"
	"github.com/orrn/makerspool/internal/archive"
	"github.com/orrn/makerspool/internal/core"
)

// JobArchiver keeps a record of jobs that leave the fleet.
type JobArchiver interface {
	Record(ctx context.Context, jobs []*core.Job, reason archive.Reason) error
}

type CreateMachineRequest struct {
	Name   string `json:"name" binding:"required"`
	Status string `json:"status"`
}

type PurgeResponse struct {
	Machine MachineResponse `json:"machine"`
	Removed []JobResponse   `json:"removed"`
}

type MachineHandler struct {
	scheduler *core.Scheduler
	archiver  JobArchiver
	logger    *slog.Logger
}

func NewMachineHandler(scheduler *core.Scheduler, archiver JobArchiver, logger *slog.Logger) *MachineHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MachineHandler{
		scheduler: scheduler,
		archiver:  archiver,
		logger:    logger,
	}
}

func (h *MachineHandler) ListMachines(c *gin.Context) {
	withJobs := c.Query("jobs") == "true"
	machines := h.scheduler.Machines()
	resp := make([]MachineResponse, 0, len(machines))
	for _, m := range machines {
		resp = append(resp, machineToResponse(m, withJobs))
	}
	c.JSON(http.StatusOK, gin.H{
		"machines":   resp,
		"count":      len(resp),
		"total_jobs": h.scheduler.TotalJobs(),
	})
}

func (h *MachineHandler) GetMachine(c *gin.Context) {
	m, err := h.scheduler.FindMachine(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, machineToResponse(m, true))
}

func (h *MachineHandler) ListMachineJobs(c *gin.Context) {
	jobs, err := h.scheduler.Jobs(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobsToResponse(jobs), "count": len(jobs)})
}

func (h *MachineHandler) GetMostFree(c *gin.Context) {
	m, err := h.scheduler.MostFreeMachine()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, machineToResponse(m, false))
}

func (h *MachineHandler) CreateMachine(c *gin.Context) {
	var req CreateMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	status, err := core.ParseMachineStatus(req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	m, err := h.scheduler.AddMachine(middleware.CallerFrom(c), req.Name, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, machineToResponse(m, false))
}

func (h *MachineHandler) DeleteMachine(c *gin.Context) {
	if err := h.scheduler.RemoveMachine(middleware.CallerFrom(c), c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Machine removed"})
}

func (h *MachineHandler) EnableMachine(c *gin.Context) {
	h.setStatus(c, h.scheduler.EnableMachine)
}

func (h *MachineHandler) DisableMachine(c *gin.Context) {
	h.setStatus(c, h.scheduler.DisableMachine)
}

func (h *MachineHandler) setStatus(c *gin.Context, op func(core.Caller, string) (*core.Machine, error)) {
	m, err := op(middleware.CallerFrom(c), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, machineToResponse(m, false))
}

func (h *MachineHandler) FlushMachine(c *gin.Context) {
	h.purge(c, h.scheduler.FlushMachine, archive.ReasonFlushed)
}

func (h *MachineHandler) CleanMachine(c *gin.Context) {
	h.purge(c, h.scheduler.CleanMachine, archive.ReasonCleaned)
}

func (h *MachineHandler) purge(c *gin.Context, op func(core.Caller, string) ([]*core.Job, error), reason archive.Reason) {
	name := c.Param("name")
	removed, err := op(middleware.CallerFrom(c), name)
	if err != nil {
		respondError(c, err)
		return
	}
	archiveJobs(c.Request.Context(), h.archiver, h.logger, removed, reason)

	m, err := h.scheduler.FindMachine(name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, PurgeResponse{
		Machine: machineToResponse(m, true),
		Removed: jobsToResponse(removed),
	})
}

// archiveJobs runs after the fleet has already changed, so a failure is
// logged rather than reported to the client.
func archiveJobs(ctx context.Context, archiver JobArchiver, logger *slog.Logger, jobs []*core.Job, reason archive.Reason) {
	if archiver == nil || len(jobs) == 0 {
		return
	}
	if err := archiver.Record(ctx, jobs, reason); err != nil {
		logger.Error("failed to archive jobs", "reason", reason, "count", len(jobs), "error", err)
	}
}

func (h *MachineHandler) RegisterRoutes(read, write *gin.RouterGroup) {
	read.GET("/machines", h.ListMachines)
	read.GET("/machines/most-free", h.GetMostFree)
	read.GET("/machines/:name", h.GetMachine)
	read.GET("/machines/:name/jobs", h.ListMachineJobs)

	write.POST("/machines", h.CreateMachine)
	write.DELETE("/machines/:name", h.DeleteMachine)
	write.POST("/machines/:name/enable", h.EnableMachine)
	write.POST("/machines/:name/disable", h.DisableMachine)
	write.POST("/machines/:name/flush", h.FlushMachine)
	write.POST("/machines/:name/clean", h.CleanMachine)
}
