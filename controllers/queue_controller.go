package controllers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"applypilot/models"
	"applypilot/services"
	"applypilot/utils"
)

// AttemptHistory is the slice of attempt persistence the API reads.
type AttemptHistory interface {
	GetByJobID(jobID string) ([]models.ApplicationAttempt, error)
}

// QueueController exposes the job queue to the operator: enqueueing
// postings, inspecting the line, declining and retrying jobs, and
// reading attempt history.
type QueueController struct {
	queue     *services.JobQueue
	attempts  AttemptHistory
	messenger services.Messenger
	logger    *utils.Logger
}

func NewQueueController(queue *services.JobQueue, attempts AttemptHistory, messenger services.Messenger) *QueueController {
	return &QueueController{
		queue:     queue,
		attempts:  attempts,
		messenger: messenger,
		logger:    utils.GlobalLogger.Named("api"),
	}
}

type EnqueueJobRequest struct {
	URL     string `json:"url" binding:"required,url"`
	Company string `json:"company"`
	Title   string `json:"title"`
}

type DeclineJobRequest struct {
	Note string `json:"note"`
}

// EnqueueJob adds a posting URL to the queue. Enqueueing a URL that
// canonicalizes to an already-queued posting returns the existing job
// untouched instead of creating a duplicate.
func (qc *QueueController) EnqueueJob(ctx *gin.Context) {
	var req EnqueueJobRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.BadRequestError(ctx, "Invalid request data", err)
		return
	}

	job, existed, err := qc.queue.Enqueue(req.URL)
	if err != nil {
		if errors.Is(err, services.ErrInvalidJobURL) {
			utils.BadRequestError(ctx, "Invalid job URL", err)
			return
		}
		utils.InternalServerError(ctx, "Could not enqueue job", err)
		return
	}

	if existed {
		utils.SuccessResponse(ctx, http.StatusOK, "Job already queued", job)
		return
	}

	// The operator knows the posting better than URL parsing does.
	if req.Company != "" || req.Title != "" {
		if err := qc.queue.UpdateDetails(job.ID, req.Company, req.Title); err != nil {
			qc.logger.Warn("could not apply job details", map[string]interface{}{
				"job_id": job.ID, "error": err.Error(),
			})
		} else if updated, err := qc.queue.Get(job.ID); err == nil {
			job = updated
		}
	}

	if qc.messenger != nil {
		if err := qc.messenger.SendJobApproval(ctx.Request.Context(), job); err != nil {
			qc.logger.Warn("could not post job approval", map[string]interface{}{
				"job_id": job.ID, "error": err.Error(),
			})
		}
	}

	utils.SuccessResponse(ctx, http.StatusCreated, "Job queued", job)
}

// ListJobs returns queued jobs, optionally filtered by status.
func (qc *QueueController) ListJobs(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(ctx.DefaultQuery("offset", "0"))

	jobs, err := qc.queue.List(ctx.Query("status"), limit, offset)
	if err != nil {
		utils.InternalServerError(ctx, "Could not list jobs", err)
		return
	}

	utils.SuccessResponse(ctx, http.StatusOK, "Jobs listed", jobs)
}

// NextJob shows the job the worker will pick up next. It only peeks,
// claiming stays with the worker so a browsing operator cannot wedge
// the single-flight slot.
func (qc *QueueController) NextJob(ctx *gin.Context) {
	jobs, err := qc.queue.List(string(models.JobStatusPending), 1, 0)
	if err != nil {
		utils.InternalServerError(ctx, "Could not read queue", err)
		return
	}
	if len(jobs) == 0 {
		utils.NotFoundError(ctx, "Queue is empty")
		return
	}

	utils.SuccessResponse(ctx, http.StatusOK, "Next pending job", jobs[0])
}

// QueueStatsResponse wraps stats with what is currently in flight.
type QueueStatsResponse struct {
	services.QueueStats
	InFlightJobID string `json:"in_flight_job_id,omitempty"`
}

// GetStats summarizes queue health.
func (qc *QueueController) GetStats(ctx *gin.Context) {
	stats, err := qc.queue.Stats()
	if err != nil {
		utils.InternalServerError(ctx, "Could not compute queue stats", err)
		return
	}

	resp := QueueStatsResponse{QueueStats: stats}
	if id, busy := qc.queue.InFlight(); busy {
		resp.InFlightJobID = id
	}

	utils.SuccessResponse(ctx, http.StatusOK, "Queue stats", resp)
}

// DeclineJob takes a pending job out of the queue.
func (qc *QueueController) DeclineJob(ctx *gin.Context) {
	id := ctx.Param("id")
	if !qc.jobExists(ctx, id) {
		return
	}

	var req DeclineJobRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			utils.BadRequestError(ctx, "Invalid request data", err)
			return
		}
	}
	note := req.Note
	if note == "" {
		note = "declined by operator"
	}

	job, err := qc.queue.Decline(id, note)
	if err != nil {
		if errors.Is(err, services.ErrJobNotPending) {
			utils.ConflictError(ctx, "Only pending jobs can be declined", err)
			return
		}
		utils.InternalServerError(ctx, "Could not decline job", err)
		return
	}

	utils.SuccessResponse(ctx, http.StatusOK, "Job declined", job)
}

// RetryJob puts a declined or failed job back in line.
func (qc *QueueController) RetryJob(ctx *gin.Context) {
	id := ctx.Param("id")
	if !qc.jobExists(ctx, id) {
		return
	}

	job, err := qc.queue.Reenqueue(id)
	if err != nil {
		if errors.Is(err, services.ErrJobNotTerminal) {
			utils.ConflictError(ctx, "Job is still in the pipeline", err)
			return
		}
		utils.InternalServerError(ctx, "Could not reenqueue job", err)
		return
	}

	utils.SuccessResponse(ctx, http.StatusOK, "Job back in queue", job)
}

// JobAttemptsResponse pairs a job with its attempt history.
type JobAttemptsResponse struct {
	Job      *models.Job                 `json:"job"`
	Attempts []models.ApplicationAttempt `json:"attempts"`
}

// ListAttempts returns the attempt history for one job.
func (qc *QueueController) ListAttempts(ctx *gin.Context) {
	jobID := ctx.Query("job_id")
	if jobID == "" {
		utils.BadRequestError(ctx, "job_id query parameter is required", nil)
		return
	}

	job, err := qc.queue.Get(jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			utils.NotFoundError(ctx, "Job not found")
			return
		}
		utils.InternalServerError(ctx, "Could not load job", err)
		return
	}

	attempts, err := qc.attempts.GetByJobID(jobID)
	if err != nil {
		utils.InternalServerError(ctx, "Could not load attempts", err)
		return
	}

	utils.SuccessResponse(ctx, http.StatusOK, "Attempt history", JobAttemptsResponse{
		Job:      job,
		Attempts: attempts,
	})
}

// jobExists answers 404 and returns false when the id is unknown.
func (qc *QueueController) jobExists(ctx *gin.Context, id string) bool {
	_, err := qc.queue.Get(id)
	if err == nil {
		return true
	}
	if errors.Is(err, sql.ErrNoRows) {
		utils.NotFoundError(ctx, "Job not found")
	} else {
		utils.InternalServerError(ctx, "Could not load job", err)
	}
	return false
}
