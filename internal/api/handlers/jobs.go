package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orrn/makerspool/internal/api/middleware"
	"github.com/orrn/makerspool/internal/archive"
	"github.com/orrn/makerspool/internal/core"
)

type CreateJobRequest struct {
	Name        string   `json:"name" binding:"required"`
	MachineName string   `json:"machine_name"`
	Owner       string   `json:"owner"`
	Priority    string   `json:"priority"`
	Duration    *int64   `json:"duration_minutes" binding:"required"`
	Note        string   `json:"note"`
	Tags        []string `json:"tags"`
}

type SwapJobsRequest struct {
	First  string `json:"first" binding:"required"`
	Second string `json:"second" binding:"required"`
}

// MoveJobRequest with an empty MachineName moves the job to the most free
// machine other than its current one.
type MoveJobRequest struct {
	MachineName string `json:"machine_name"`
}

type ShiftJobRequest struct {
	Delta int `json:"delta"`
}

type PriorityRequest struct {
	Priority string `json:"priority" binding:"required"`
}

type NoteRequest struct {
	Note   string `json:"note"`
	Append bool   `json:"append"`
}

type ListJobsQuery struct {
	Machine string `form:"machine"`
	Owner   string `form:"owner"`
	Status  string `form:"status"`
	Tag     string `form:"tag"`
}

type JobDetailResponse struct {
	JobResponse
	Top bool `json:"top"`
}

type JobHandler struct {
	scheduler *core.Scheduler
	archiver  JobArchiver
	logger    *slog.Logger
}

func NewJobHandler(scheduler *core.Scheduler, archiver JobArchiver, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{
		scheduler: scheduler,
		archiver:  archiver,
		logger:    logger,
	}
}

// ListJobs returns jobs across the fleet in queue order, machine by machine.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "Invalid query parameters")
		return
	}
	var status core.JobStatus
	if query.Status != "" {
		parsed, err := core.ParseJobStatus(query.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		status = parsed
	}

	jobs := make([]JobResponse, 0)
	for _, m := range h.scheduler.Machines() {
		if query.Machine != "" && m.Name != query.Machine {
			continue
		}
		for _, job := range m.Jobs() {
			if query.Owner != "" && !strings.EqualFold(job.Owner, query.Owner) {
				continue
			}
			if status != "" && job.Status != status {
				continue
			}
			if query.Tag != "" && !job.HasTag(query.Tag) {
				continue
			}
			jobs = append(jobs, jobToResponse(job))
		}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	name := c.Param("name")
	job, err := h.scheduler.FindJob(name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, JobDetailResponse{
		JobResponse: jobToResponse(job),
		Top:         h.scheduler.IsTopJob(name),
	})
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	priority, err := core.ParsePriority(req.Priority)
	if err != nil {
		respondError(c, err)
		return
	}

	job, err := h.scheduler.AddJob(middleware.CallerFrom(c), core.JobSpec{
		Name:        req.Name,
		MachineName: req.MachineName,
		Owner:       req.Owner,
		Priority:    priority,
		Duration:    *req.Duration,
		Note:        req.Note,
		Tags:        req.Tags,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, jobToResponse(job))
}

func (h *JobHandler) StartJob(c *gin.Context)   { h.transition(c, h.scheduler.StartJob) }
func (h *JobHandler) RestartJob(c *gin.Context) { h.transition(c, h.scheduler.RestartJob) }
func (h *JobHandler) PauseJob(c *gin.Context)   { h.transition(c, h.scheduler.PauseJob) }
func (h *JobHandler) CancelJob(c *gin.Context)  { h.transition(c, h.scheduler.CancelJob) }
func (h *JobHandler) FinishJob(c *gin.Context)  { h.transition(c, h.scheduler.FinishJob) }

func (h *JobHandler) RequestDeletion(c *gin.Context) {
	h.transition(c, h.scheduler.RequestDeletion)
}

func (h *JobHandler) transition(c *gin.Context, op func(core.Caller, string) (*core.Job, error)) {
	job, err := op(middleware.CallerFrom(c), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobToResponse(job))
}

// DeleteJob removes a job whose deletion was requested and archives it.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	job, err := h.scheduler.DeleteJob(middleware.CallerFrom(c), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	archiveJobs(c.Request.Context(), h.archiver, h.logger, []*core.Job{job}, archive.ReasonDeleted)
	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *JobHandler) SwapJobs(c *gin.Context) {
	var req SwapJobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	first, second, err := h.scheduler.SwapJobs(middleware.CallerFrom(c), req.First, req.Second)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": []JobResponse{jobToResponse(first), jobToResponse(second)}})
}

func (h *JobHandler) MoveJob(c *gin.Context) {
	var req MoveJobRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	caller := middleware.CallerFrom(c)
	name := c.Param("name")
	var job *core.Job
	var err error
	if req.MachineName == "" {
		job, err = h.scheduler.MoveToMostFree(caller, name)
	} else {
		job, err = h.scheduler.MoveJob(caller, name, req.MachineName)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *JobHandler) ShiftJob(c *gin.Context) {
	var req ShiftJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	job, err := h.scheduler.ShiftJob(middleware.CallerFrom(c), c.Param("name"), req.Delta)
	if err != nil {
		respondError(c, err)
		return
	}
	jobs, err := h.scheduler.Jobs(job.MachineName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"machine": job.MachineName, "jobs": jobsToResponse(jobs)})
}

func (h *JobHandler) SetPriority(c *gin.Context) {
	var req PriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	priority, err := core.ParsePriority(req.Priority)
	if err != nil {
		respondError(c, err)
		return
	}
	job, err := h.scheduler.SetPriority(middleware.CallerFrom(c), c.Param("name"), priority)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *JobHandler) EditNote(c *gin.Context) {
	var req NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	job, err := h.scheduler.EditNote(middleware.CallerFrom(c), c.Param("name"), req.Note, req.Append)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *JobHandler) RegisterRoutes(read, write *gin.RouterGroup) {
	read.GET("/jobs", h.ListJobs)
	read.GET("/jobs/:name", h.GetJob)

	write.POST("/jobs", h.CreateJob)
	write.POST("/jobs/swap", h.SwapJobs)
	write.DELETE("/jobs/:name", h.DeleteJob)
	write.POST("/jobs/:name/start", h.StartJob)
	write.POST("/jobs/:name/restart", h.RestartJob)
	write.POST("/jobs/:name/pause", h.PauseJob)
	write.POST("/jobs/:name/cancel", h.CancelJob)
	write.POST("/jobs/:name/finish", h.FinishJob)
	write.POST("/jobs/:name/request-deletion", h.RequestDeletion)
	write.POST("/jobs/:name/move", h.MoveJob)
	write.POST("/jobs/:name/shift", h.ShiftJob)
	write.PUT("/jobs/:name/priority", h.SetPriority)
	write.PUT("/jobs/:name/note", h.EditNote)
}
