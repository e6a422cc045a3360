// Package service runs playbook jobs: it owns the job store, the artifact
// storage and the background task that takes an upload from extraction to
// a rendered workbook.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AnTengye/contractplaybook/backend/analysis"
	"github.com/AnTengye/contractplaybook/backend/config"
	"github.com/AnTengye/contractplaybook/backend/extract"
	"github.com/AnTengye/contractplaybook/backend/model"
	"github.com/AnTengye/contractplaybook/backend/pkg/logger"
	"github.com/dustin/go-humanize"
)

var (
	// ErrInvalidUpload is returned for rejected submissions
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrNotReady is returned when asking for the playbook of an unfinished job
	ErrNotReady = errors.New("playbook not ready")
)

// Job stages and their progress checkpoints
const (
	progressExtract       = 10
	progressAnalyseStart  = 20
	progressAnalyseEnd    = 85
	progressRender        = 90
	progressDone          = 100
	messageExtract        = "Parsing document..."
	messageAnalyse        = "Analyzing contract with AI..."
	messageRender         = "Generating Excel playbook..."
	messageDone           = "Playbook generated successfully!"
	xlsxContentType       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	defaultOutputBaseName = "Agreement"
)

// Analyzer produces the structured analysis of a document
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request, report analysis.ProgressFunc) (*model.Analysis, error)
}

// Renderer writes an analysis as a playbook workbook
type Renderer interface {
	Render(a *model.Analysis, w io.Writer) error
}

// Recorder observes job throughput
type Recorder interface {
	JobSubmitted(kind string)
	JobFinished(status string, elapsed time.Duration)
}

// Upload is one file received from a client. Size may be -1 when unknown.
type Upload struct {
	Filename    string
	Size        int64
	ContentType string
	Reader      io.Reader
}

// ResultRef locates a finished playbook
type ResultRef struct {
	Key      string `json:"key"`
	Filename string `json:"filename"`
}

// PlaybookServiceOptions groups dependencies for PlaybookService
type PlaybookServiceOptions struct {
	Store     *JobStore           // Required
	Artifacts ArtifactStore       // Required
	Extractor extract.Extractor   // Required for document submissions
	Analyzer  Analyzer            // Required
	Renderer  Renderer            // Required
	Upload    config.UploadConfig // Optional: limits, defaults to 50 MB pdf/docx/xlsx
	Logger    *slog.Logger        // Optional
	Metrics   Recorder            // Optional
}

// PlaybookService accepts submissions and runs one background task per job
type PlaybookService struct {
	store     *JobStore
	artifacts ArtifactStore
	extractor extract.Extractor
	analyzer  Analyzer
	renderer  Renderer
	upload    config.UploadConfig
	logger    *slog.Logger
	metrics   Recorder
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewPlaybookService validates opts and builds a PlaybookService
func NewPlaybookService(opts PlaybookServiceOptions) (*PlaybookService, error) {
	if opts.Store == nil {
		return nil, errors.New("job store is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("artifact store is required")
	}
	if opts.Analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if opts.Renderer == nil {
		return nil, errors.New("renderer is required")
	}

	upload := opts.Upload
	if upload.MaxFileSizeMB <= 0 {
		upload.MaxFileSizeMB = 50
	}
	if len(upload.AllowedExtensions) == 0 {
		upload.AllowedExtensions = []string{extract.FormatPDF, extract.FormatDOCX, extract.FormatXLSX}
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}

	return &PlaybookService{
		store:     opts.Store,
		artifacts: opts.Artifacts,
		extractor: opts.Extractor,
		analyzer:  opts.Analyzer,
		renderer:  opts.Renderer,
		upload:    upload,
		logger:    l.With("component", "playbook_service"),
		metrics:   opts.Metrics,
		now:       time.Now,
	}, nil
}

// Submit starts a job for already extracted text and returns its id
// without waiting for the analysis
func (s *PlaybookService) Submit(ctx context.Context, text string, spec model.JobSpec) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: no text provided", ErrInvalidUpload)
	}

	id := s.store.Create(spec)
	s.record("text")
	s.start(ctx, id, func(context.Context, model.Job) (string, error) {
		return text, nil
	})
	return id, nil
}

// SubmitDocument stores the upload, starts a job for it and returns its id
// without waiting for extraction or analysis
func (s *PlaybookService) SubmitDocument(ctx context.Context, up Upload, spec model.JobSpec) (string, error) {
	name := filepath.Base(strings.TrimSpace(up.Filename))
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("%w: no file selected", ErrInvalidUpload)
	}
	format := extract.FormatOf(name)
	if !s.allows(format) {
		return "", fmt.Errorf("%w: file type not supported. Allowed types: %s",
			ErrInvalidUpload, strings.Join(s.upload.AllowedExtensions, ", "))
	}

	limit := int64(s.upload.MaxFileSizeMB) * 1024 * 1024
	if up.Size > limit {
		return "", tooLarge(up.Size, limit)
	}
	data, err := io.ReadAll(io.LimitReader(up.Reader, limit+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return "", tooLarge(int64(len(data)), limit)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidUpload, name)
	}

	spec.Filename = name
	id := s.store.Create(spec)
	job, err := s.store.Get(id)
	if err != nil {
		return "", err
	}

	key := inputKey(job.Tenant, id, name)
	contentType := up.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.artifacts.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		s.fail(ctx, id, fmt.Errorf("failed to store upload: %w", err))
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	s.update(ctx, id, model.JobPatch{InputKey: &key})
	s.record("document")

	s.start(ctx, id, func(ctx context.Context, job model.Job) (string, error) {
		s.update(ctx, id, model.JobPatch{
			Status:   model.Ptr(model.StatusProcessing),
			Progress: model.Ptr(progressExtract),
			Message:  model.Ptr(messageExtract),
		})
		if s.extractor == nil {
			return "", fmt.Errorf("%w: no extractor configured", extract.ErrExtractionFailed)
		}
		return s.extractor.Extract(ctx, extract.Document{
			Name:   name,
			Format: format,
			Data:   data,
			Key:    key,
		})
	})
	return id, nil
}

func tooLarge(size, limit int64) error {
	return fmt.Errorf("%w: file is %s, the limit is %s",
		ErrInvalidUpload, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit)))
}

func (s *PlaybookService) allows(format string) bool {
	for _, ext := range s.upload.AllowedExtensions {
		if strings.EqualFold(strings.TrimPrefix(ext, "."), format) {
			return true
		}
	}
	return false
}

func (s *PlaybookService) record(kind string) {
	if s.metrics != nil {
		s.metrics.JobSubmitted(kind)
	}
}

type textSource func(ctx context.Context, job model.Job) (string, error)

// start runs the job in its own goroutine. The task outlives the request
// that submitted it.
func (s *PlaybookService) start(ctx context.Context, id string, source textSource) {
	ctx = logger.WithJob(context.WithoutCancel(ctx), id)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, id, source)
	}()
}

// run is the job task. Every failure, panics included, ends in the error
// state.
func (s *PlaybookService) run(ctx context.Context, id string, source textSource) {
	started := s.now()
	log := logger.From(ctx, s.logger)

	defer func() {
		if r := recover(); r != nil {
			log.Error("job task panicked", "panic", r)
			s.fail(ctx, id, fmt.Errorf("internal error: %v", r))
			s.finished(model.StatusError, started)
		}
	}()

	job, err := s.store.Get(id)
	if err != nil {
		log.Error("job vanished before start", "error", err)
		return
	}
	if job.InputKey != "" {
		defer s.removeArtifact(ctx, job.InputKey)
	}

	if err := s.execute(ctx, job, source); err != nil {
		log.Warn("job failed", "error", err)
		s.fail(ctx, id, err)
		s.finished(model.StatusError, started)
		return
	}
	log.Info("job completed", "elapsed", s.now().Sub(started))
	s.finished(model.StatusCompleted, started)
}

func (s *PlaybookService) execute(ctx context.Context, job model.Job, source textSource) error {
	text, err := source(ctx, job)
	if err != nil {
		return err
	}

	s.update(ctx, job.ID, model.JobPatch{
		Status:   model.Ptr(model.StatusProcessing),
		Progress: model.Ptr(progressAnalyseStart),
		Message:  model.Ptr(messageAnalyse),
	})
	result, err := s.analyzer.Analyze(ctx, analysis.Request{
		Text:          text,
		AgreementType: job.AgreementType,
		UserRole:      job.UserRole,
		RiskTolerance: job.RiskTolerance,
	}, func(p int, msg string) {
		s.update(ctx, job.ID, model.JobPatch{
			Progress: model.Ptr(scaleProgress(p)),
			Message:  model.Ptr(msg),
		})
	})
	if err != nil {
		return err
	}

	s.update(ctx, job.ID, model.JobPatch{
		Progress: model.Ptr(progressRender),
		Message:  model.Ptr(messageRender),
	})
	var buf bytes.Buffer
	if err := s.renderer.Render(result, &buf); err != nil {
		return fmt.Errorf("failed to render playbook: %w", err)
	}
	filename := s.outputFilename(job.Filename)
	key := outputKey(job.Tenant, job.ID, filename)
	if err := s.artifacts.Put(ctx, key, &buf, int64(buf.Len()), xlsxContentType); err != nil {
		return fmt.Errorf("failed to store playbook: %w", err)
	}

	done := messageDone
	if sum := result.AgreementSummary; sum != nil && sum.TruncationNote != "" {
		done += " " + string(sum.TruncationNote) + "."
	}
	err = s.store.Update(job.ID, model.JobPatch{
		Status:         model.Ptr(model.StatusCompleted),
		Progress:       model.Ptr(progressDone),
		Message:        model.Ptr(done),
		Result:         result,
		OutputKey:      &key,
		OutputFilename: &filename,
	})
	if err != nil {
		s.removeArtifact(ctx, key)
		return err
	}
	return nil
}

// scaleProgress maps analysis progress (0-100) into the analyse stage
func scaleProgress(p int) int {
	p = min(max(p, 0), 100)
	return progressAnalyseStart + p*(progressAnalyseEnd-progressAnalyseStart)/100
}

func (s *PlaybookService) outputFilename(source string) string {
	base := strings.TrimSuffix(source, filepath.Ext(source))
	if base == "" {
		base = defaultOutputBaseName
	}
	return fmt.Sprintf("Playbook_%s_%s.xlsx", base, s.now().Format("20060102_150405"))
}

// update applies a progress patch. A rejected patch means the task and the
// store disagree about the lifecycle, which is a bug worth surfacing.
func (s *PlaybookService) update(ctx context.Context, id string, patch model.JobPatch) {
	if err := s.store.Update(id, patch); err != nil {
		logger.From(ctx, s.logger).Error("job update rejected", "error", err)
	}
}

func (s *PlaybookService) fail(ctx context.Context, id string, cause error) {
	msg := cause.Error()
	s.update(ctx, id, model.JobPatch{
		Status:  model.Ptr(model.StatusError),
		Message: model.Ptr("Error: " + msg),
		Error:   &msg,
	})
}

func (s *PlaybookService) finished(status model.JobStatus, started time.Time) {
	if s.metrics != nil {
		s.metrics.JobFinished(string(status), s.now().Sub(started))
	}
}

func (s *PlaybookService) removeArtifact(ctx context.Context, key string) {
	if err := s.artifacts.Delete(ctx, key); err != nil {
		logger.From(ctx, s.logger).Warn("failed to delete artifact", "key", key, "error", err)
	}
}

// Get returns a snapshot of the job
func (s *PlaybookService) Get(id string) (model.Job, error) {
	return s.store.Get(id)
}

// List returns the tenant's jobs, newest first
func (s *PlaybookService) List(tenant string) []model.Job {
	return s.store.List(tenant)
}

// GetStatus returns the polling view of the job
func (s *PlaybookService) GetStatus(id string) (model.JobStatusView, error) {
	job, err := s.store.Get(id)
	if err != nil {
		return model.JobStatusView{}, err
	}
	return job.StatusView(), nil
}

// GetResult locates the playbook of a completed job
func (s *PlaybookService) GetResult(id string) (ResultRef, error) {
	job, err := s.store.Get(id)
	if err != nil {
		return ResultRef{}, err
	}
	if job.Status != model.StatusCompleted {
		return ResultRef{}, fmt.Errorf("%w: job %s is %s", ErrNotReady, id, job.Status)
	}
	return ResultRef{Key: job.OutputKey, Filename: job.OutputFilename}, nil
}

// OpenResult streams the playbook of a completed job
func (s *PlaybookService) OpenResult(ctx context.Context, id string) (io.ReadCloser, ResultRef, error) {
	ref, err := s.GetResult(id)
	if err != nil {
		return nil, ResultRef{}, err
	}
	rc, err := s.artifacts.Open(ctx, ref.Key)
	if err != nil {
		return nil, ResultRef{}, err
	}
	return rc, ref, nil
}

// Delete removes a finished job and its artifacts
func (s *PlaybookService) Delete(ctx context.Context, id string) error {
	job, err := s.store.Delete(id)
	if err != nil {
		return err
	}
	s.removeArtifacts(ctx, job)
	return nil
}

// Expire drops finished jobs older than olderThan together with their
// artifacts and returns how many were removed
func (s *PlaybookService) Expire(ctx context.Context, olderThan time.Duration) int {
	expired := s.store.Expire(olderThan)
	for _, job := range expired {
		s.removeArtifacts(ctx, job)
	}
	return len(expired)
}

// RemoveArtifacts deletes whatever a job left in storage. It is used as
// the store's eviction hook.
func (s *PlaybookService) RemoveArtifacts(job model.Job) {
	s.removeArtifacts(context.Background(), job)
}

func (s *PlaybookService) removeArtifacts(ctx context.Context, job model.Job) {
	for _, key := range []string{job.InputKey, job.OutputKey} {
		if key != "" {
			s.removeArtifact(ctx, key)
		}
	}
}

// Wait blocks until every running job task has finished
func (s *PlaybookService) Wait() {
	s.wg.Wait()
}
