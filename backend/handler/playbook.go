package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/AnTengye/contractplaybook/backend/middleware"
	"github.com/AnTengye/contractplaybook/backend/model"
	"github.com/AnTengye/contractplaybook/backend/pkg/logger"
	"github.com/AnTengye/contractplaybook/backend/render"
	"github.com/AnTengye/contractplaybook/backend/service"
	"github.com/gin-gonic/gin"
)

// PlaybookService is what the handler needs from the job runner
type PlaybookService interface {
	Submit(ctx context.Context, text string, spec model.JobSpec) (string, error)
	SubmitDocument(ctx context.Context, up service.Upload, spec model.JobSpec) (string, error)
	Get(id string) (model.Job, error)
	List(tenant string) []model.Job
	GetResult(id string) (service.ResultRef, error)
	OpenResult(ctx context.Context, id string) (io.ReadCloser, service.ResultRef, error)
	Delete(ctx context.Context, id string) error
}

type PlaybookHandler struct {
	svc      PlaybookService
	llmReady bool
}

// NewPlaybookHandler creates the handler. With llmReady false submissions
// are refused, as analysis could never succeed.
func NewPlaybookHandler(svc PlaybookService, llmReady bool) *PlaybookHandler {
	return &PlaybookHandler{svc: svc, llmReady: llmReady}
}

// TextRequest submits already extracted agreement text
type TextRequest struct {
	Text          string `json:"text" binding:"required"`
	Filename      string `json:"filename"`
	AgreementType string `json:"agreement_type"`
	UserRole      string `json:"user_role"`
	RiskTolerance string `json:"risk_tolerance"`
}

// JobSummary is one row of the job list
type JobSummary struct {
	ID        string          `json:"id"`
	Filename  string          `json:"filename"`
	Status    model.JobStatus `json:"status"`
	Progress  int             `json:"progress"`
	Message   string          `json:"message"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// StatusResponse is the polling view plus a download link once completed
type StatusResponse struct {
	model.JobStatusView
	DownloadURL string `json:"download_url,omitempty"`
}

func downloadURL(id string) string {
	return fmt.Sprintf("/api/playbooks/%s/download", id)
}

// Upload accepts a multipart agreement and starts a job
func (h *PlaybookHandler) Upload(c *gin.Context) {
	if !h.requireLLM(c) {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	id, err := h.svc.SubmitDocument(c.Request.Context(), service.Upload{
		Filename:    header.Filename,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		Reader:      file,
	}, model.JobSpec{
		Tenant:        middleware.GetTenant(c),
		AgreementType: c.PostForm("agreement_type"),
		UserRole:      c.PostForm("user_role"),
		RiskTolerance: c.PostForm("risk_tolerance"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	logger.Info(c.Request.Context(), "playbook job submitted", "job_id", id, "filename", header.Filename)
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     id,
		"message":    "File uploaded successfully. Processing started.",
		"status_url": fmt.Sprintf("/api/playbooks/%s/status", id),
	})
}

// SubmitText starts a job for plain agreement text
func (h *PlaybookHandler) SubmitText(c *gin.Context) {
	if !h.requireLLM(c) {
		return
	}

	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	id, err := h.svc.Submit(c.Request.Context(), req.Text, model.JobSpec{
		Tenant:        middleware.GetTenant(c),
		Filename:      req.Filename,
		AgreementType: req.AgreementType,
		UserRole:      req.UserRole,
		RiskTolerance: req.RiskTolerance,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     id,
		"message":    "Processing started.",
		"status_url": fmt.Sprintf("/api/playbooks/%s/status", id),
	})
}

// List returns the caller's jobs, newest first
func (h *PlaybookHandler) List(c *gin.Context) {
	jobs := h.svc.List(middleware.GetTenant(c))

	result := make([]JobSummary, len(jobs))
	for i, j := range jobs {
		result[i] = JobSummary{
			ID:        j.ID,
			Filename:  j.Filename,
			Status:    j.Status,
			Progress:  j.Progress,
			Message:   j.Message,
			CreatedAt: j.CreatedAt.Format(time.RFC3339),
			UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, gin.H{"playbooks": result})
}

// GetStatus returns the polling view of a job
func (h *PlaybookHandler) GetStatus(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	resp := StatusResponse{JobStatusView: job.StatusView()}
	if job.Status == model.StatusCompleted {
		resp.DownloadURL = downloadURL(job.ID)
	}
	c.JSON(http.StatusOK, resp)
}

// GetResult returns where the finished playbook can be fetched
func (h *PlaybookHandler) GetResult(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	ref, err := h.svc.GetResult(job.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"filename":     ref.Filename,
		"download_url": downloadURL(job.ID),
	})
}

// GetAnalysis returns the structured analysis of a completed job
func (h *PlaybookHandler) GetAnalysis(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}
	if job.Status != model.StatusCompleted {
		writeError(c, service.ErrNotReady)
		return
	}
	c.JSON(http.StatusOK, job.Result)
}

// Download streams the playbook workbook
func (h *PlaybookHandler) Download(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	rc, ref, err := h.svc.OpenResult(c.Request.Context(), job.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()

	filename := ref.Filename
	if filename == "" {
		filename = "Playbook.xlsx"
	}
	c.DataFromReader(http.StatusOK, -1, render.ContentType, rc, map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": filename}),
	})
}

// Delete removes a finished job and its files
func (h *PlaybookHandler) Delete(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), job.ID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Playbook deleted"})
}

// ownedJob loads the job named by the :id param. Jobs of other tenants are
// reported as missing.
func (h *PlaybookHandler) ownedJob(c *gin.Context) (model.Job, bool) {
	job, err := h.svc.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return model.Job{}, false
	}
	if job.Tenant != middleware.GetTenant(c) {
		writeError(c, service.ErrUnknownJob)
		return model.Job{}, false
	}
	return job, true
}

func (h *PlaybookHandler) requireLLM(c *gin.Context) bool {
	if !h.llmReady {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "LLM provider not configured. Set OPENAI_API_KEY or ANTHROPIC_API_KEY, or configure a local model.",
		})
		return false
	}
	return true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"error": "Playbook not found"})
	case errors.Is(err, service.ErrInvalidUpload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "Playbook not ready"})
	case errors.Is(err, service.ErrJobActive):
		c.JSON(http.StatusConflict, gin.H{"error": "Playbook is still being generated"})
	case errors.Is(err, service.ErrArtifactNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Output file not found"})
	default:
		logger.Error(c.Request.Context(), "request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
