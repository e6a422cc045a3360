// Package analysis turns extracted agreement text into a structured
// playbook analysis, splitting long documents into chunks.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AnTengye/contractplaybook/backend/config"
	"github.com/AnTengye/contractplaybook/backend/llm"
	"github.com/AnTengye/contractplaybook/backend/model"
	"github.com/AnTengye/contractplaybook/backend/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Progress checkpoints reported by Analyze
const (
	progressSingleParsed = 50
	progressChunksEnd    = 80
	progressMerging      = 90
	progressDone         = 100
)

const defaultCallTimeout = 5 * time.Minute

// Request is one document to analyse together with the user's context
type Request struct {
	Text          string
	AgreementType string
	UserRole      string
	RiskTolerance string
}

// ProgressFunc receives progress in percent (0-100, non-decreasing) with a
// human readable message
type ProgressFunc func(progress int, message string)

// PlanRecorder observes how documents are split
type PlanRecorder interface {
	ChunksPlanned(n int, truncated bool)
}

// OrchestratorOptions groups dependencies for Orchestrator
type OrchestratorOptions struct {
	Client      llm.Client            // Required
	Analysis    config.AnalysisConfig // Required: chunking thresholds
	CallTimeout time.Duration         // Optional: per LLM call, defaults to 5m
	Logger      *slog.Logger          // Optional
	Recorder    PlanRecorder          // Optional
}

// Orchestrator drives chunk planning, LLM calls, parsing and merging
type Orchestrator struct {
	client      llm.Client
	planner     *ChunkPlanner
	callTimeout time.Duration
	concurrency int
	logger      *slog.Logger
	recorder    PlanRecorder
}

// NewOrchestrator validates opts and builds an Orchestrator
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, errors.New("llm client is required")
	}
	planner, err := NewChunkPlanner(opts.Analysis)
	if err != nil {
		return nil, err
	}

	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	concurrency := opts.Analysis.MaxConcurrentChunks
	if concurrency < 1 {
		concurrency = 1
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}

	return &Orchestrator{
		client:      opts.Client,
		planner:     planner,
		callTimeout: callTimeout,
		concurrency: concurrency,
		logger:      l.With("component", "orchestrator"),
		recorder:    opts.Recorder,
	}, nil
}

// Analyze produces the final analysis for req. Any failed call or
// unparseable response aborts the whole analysis; partial results are
// discarded.
func (o *Orchestrator) Analyze(ctx context.Context, req Request, report ProgressFunc) (*model.Analysis, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyDocument
	}
	if report == nil {
		report = func(int, string) {}
	}
	log := logger.From(ctx, o.logger)

	plan := o.planner.Plan(req.Text)
	if o.recorder != nil {
		o.recorder.ChunksPlanned(len(plan.Chunks), plan.Truncated)
	}
	var truncation string
	if plan.Truncated {
		log.Warn("document exceeds character ceiling, truncated",
			"original_chars", plan.OriginalLength,
			"ceiling", o.planner.ceiling,
		)
		truncation = truncationNote(plan.OriginalLength, o.planner.ceiling)
		report(0, truncation)
	}
	log.Info("analysis planned", "chunks", len(plan.Chunks), "chars", plan.OriginalLength)

	if len(plan.Chunks) == 1 {
		result, err := o.analyzeChunk(ctx, req, plan.Chunks[0], 0, 1)
		if err != nil {
			return nil, err
		}
		report(progressSingleParsed, "Analysis received, finalizing...")
		complete(result, req)
		result.AgreementSummary.TruncationNote = model.Text(truncation)
		report(progressDone, "Analysis complete")
		return result, nil
	}

	var (
		parts []*model.Analysis
		err   error
	)
	if o.concurrency > 1 {
		parts, err = o.analyzeConcurrently(ctx, req, plan.Chunks, report)
	} else {
		parts, err = o.analyzeSequentially(ctx, req, plan.Chunks, report)
	}
	if err != nil {
		return nil, err
	}

	report(progressMerging, "Merging section results...")
	merged := Merge(parts)
	if merged.AgreementSummary.AgreementType == "" {
		merged.AgreementSummary.AgreementType = model.Text(req.AgreementType)
	}
	merged.AgreementSummary.TruncationNote = model.Text(truncation)
	log.Info("analysis merged",
		"clauses", len(merged.Clauses),
		"definitions", len(merged.Definitions),
	)
	report(progressDone, "Analysis complete")
	return merged, nil
}

func (o *Orchestrator) analyzeSequentially(ctx context.Context, req Request, chunks []string, report ProgressFunc) ([]*model.Analysis, error) {
	n := len(chunks)
	parts := make([]*model.Analysis, n)
	for i, chunk := range chunks {
		part, err := o.analyzeChunk(ctx, req, chunk, i, n)
		if err != nil {
			return nil, err
		}
		parts[i] = part
		report(chunkProgress(i+1, n), fmt.Sprintf("Analyzed section %d of %d", i+1, n))
	}
	return parts, nil
}

// analyzeConcurrently runs up to o.concurrency chunk calls at once. Results
// are stored by chunk index, so merge order never depends on arrival order.
func (o *Orchestrator) analyzeConcurrently(ctx context.Context, req Request, chunks []string, report ProgressFunc) ([]*model.Analysis, error) {
	n := len(chunks)
	parts := make([]*model.Analysis, n)

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			part, err := o.analyzeChunk(gctx, req, chunk, i, n)
			if err != nil {
				return err
			}
			parts[i] = part

			mu.Lock()
			defer mu.Unlock()
			done++
			report(chunkProgress(done, n), fmt.Sprintf("Analyzed %d of %d sections", done, n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

func (o *Orchestrator) analyzeChunk(ctx context.Context, req Request, chunk string, index, total int) (*model.Analysis, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	raw, err := o.client.Generate(callCtx, SystemPrompt, UserPrompt(req, index, total, chunk))
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, llm.ErrTimeout) {
			err = fmt.Errorf("%w after %s: %v", llm.ErrTimeout, o.callTimeout, err)
		}
		return nil, chunkError(index, total, err)
	}

	part, err := ParseResponse(raw)
	if err != nil {
		return nil, chunkError(index, total, err)
	}
	return part, nil
}

func chunkError(index, total int, err error) error {
	if total == 1 {
		return err
	}
	return fmt.Errorf("section %d of %d: %w", index+1, total, err)
}

func chunkProgress(done, total int) int {
	return progressChunksEnd * done / total
}

// complete fills the derived sections a single-shot response left out and
// holds the model's own sections to the same limits a merge produces
func complete(a *model.Analysis, req Request) {
	a.Definitions = DedupeDefinitions(a.Definitions)
	if a.AgreementSummary == nil {
		a.AgreementSummary = SynthesizeSummary(a.Clauses)
	}
	if a.AgreementSummary.AgreementType == "" {
		a.AgreementSummary.AgreementType = model.Text(req.AgreementType)
	}
	if a.QuickReference == nil {
		a.QuickReference = BuildQuickReference(a.Clauses)
		return
	}
	q := a.QuickReference
	q.DealBreakers = capList(q.DealBreakers)
	q.HighPriorityItems = capList(q.HighPriorityItems)
	q.StandardAcceptableTerms = capList(q.StandardAcceptableTerms)
	q.CommonNegotiationPoints = capList(q.CommonNegotiationPoints)
}

func capList(list model.TextList) model.TextList {
	if len(list) > QuickReferenceLimit {
		return list[:QuickReferenceLimit]
	}
	return list
}

func truncationNote(original, ceiling int) string {
	return fmt.Sprintf("Document truncated: only the first %d of %d characters were analysed (%d omitted)",
		ceiling, original, original-ceiling)
}
