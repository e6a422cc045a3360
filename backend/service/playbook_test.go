package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AnTengye/contractplaybook/backend/analysis"
	"github.com/AnTengye/contractplaybook/backend/config"
	"github.com/AnTengye/contractplaybook/backend/extract"
	"github.com/AnTengye/contractplaybook/backend/model"
	"github.com/AnTengye/contractplaybook/backend/render"
	"github.com/xuri/excelize/v2"
)

// echoAnalyzer returns one clause per call without touching an LLM
type echoAnalyzer struct{}

func (echoAnalyzer) Analyze(ctx context.Context, req analysis.Request, report analysis.ProgressFunc) (*model.Analysis, error) {
	report(50, "halfway")
	return &model.Analysis{
		AgreementSummary: &model.AgreementSummary{AgreementType: model.Text(req.AgreementType)},
		Clauses:          []model.Clause{{ClauseTitle: "Term", RiskLevel: model.RiskGreen}},
		QuickReference:   &model.QuickReference{},
	}, nil
}

type analyzerFunc func(ctx context.Context, req analysis.Request, report analysis.ProgressFunc) (*model.Analysis, error)

func (f analyzerFunc) Analyze(ctx context.Context, req analysis.Request, report analysis.ProgressFunc) (*model.Analysis, error) {
	return f(ctx, req, report)
}

type llmFunc func(ctx context.Context, system, user string) (string, error)

func (f llmFunc) Generate(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

type extractorFunc func(ctx context.Context, doc extract.Document) (string, error)

func (f extractorFunc) Extract(ctx context.Context, doc extract.Document) (string, error) {
	return f(ctx, doc)
}

type fakeRecorder struct {
	mu        sync.Mutex
	submitted []string
	finished  []string
}

func (r *fakeRecorder) JobSubmitted(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, kind)
}

func (r *fakeRecorder) JobFinished(status string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, status)
}

func testSpec() model.JobSpec {
	return model.JobSpec{Tenant: "acme", AgreementType: "MSA"}
}

func newTestService(t *testing.T, a Analyzer) (*PlaybookService, *JobStore, *fakeClock) {
	t.Helper()
	return newTestServiceWith(t, PlaybookServiceOptions{Analyzer: a})
}

func newTestServiceWith(t *testing.T, opts PlaybookServiceOptions) (*PlaybookService, *JobStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := NewJobStore(JobStoreOptions{Now: clock.Now})
	artifacts, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	opts.Store = store
	opts.Artifacts = artifacts
	if opts.Renderer == nil {
		opts.Renderer = render.NewExcelRenderer()
	}
	svc, err := NewPlaybookService(opts)
	if err != nil {
		t.Fatalf("NewPlaybookService failed: %v", err)
	}
	svc.now = clock.Now
	return svc, store, clock
}

var partPattern = regexp.MustCompile(`part (\d+) of (\d+)`)

func TestSubmitChunkedEndToEnd(t *testing.T) {
	var calls sync.Map
	client := llmFunc(func(ctx context.Context, system, user string) (string, error) {
		m := partPattern.FindStringSubmatch(user)
		if m == nil {
			return "", errors.New("expected a chunked prompt")
		}
		n, _ := strconv.Atoi(m[1])
		calls.Store(n, true)
		return fmt.Sprintf(`{"clauses":[{"section_reference":"%d","clause_title":"Clause %d","risk_level":"yellow"}],"definitions":[]}`, n, n), nil
	})
	orch, err := analysis.NewOrchestrator(analysis.OrchestratorOptions{
		Client: client,
		Analysis: config.AnalysisConfig{
			SingleShotThreshold: 20000,
			ChunkSize:           15000,
			MaxDocumentChars:    400000,
			SnapToWhitespace:    true,
			MaxConcurrentChunks: 1,
		},
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	svc, _, _ := newTestService(t, orch)

	id, err := svc.Submit(context.Background(), strings.Repeat("a", 45000), testSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	svc.Wait()

	job, err := svc.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.Status != model.StatusCompleted || job.Progress != 100 {
		t.Fatalf("Expected completed at 100%%, got %s at %d (%s)", job.Status, job.Progress, job.Error)
	}
	if job.Message != messageDone {
		t.Errorf("Unexpected final message %q", job.Message)
	}
	if len(job.Result.Clauses) != 3 {
		t.Fatalf("Expected 3 merged clauses, got %d", len(job.Result.Clauses))
	}
	for i, c := range job.Result.Clauses {
		if want := fmt.Sprintf("Clause %d", i+1); string(c.ClauseTitle) != want {
			t.Errorf("Clause %d: expected %q, got %q", i, want, c.ClauseTitle)
		}
	}
	for i := 1; i <= 3; i++ {
		if _, ok := calls.Load(i); !ok {
			t.Errorf("Expected a call for part %d", i)
		}
	}

	rc, ref, err := svc.OpenResult(context.Background(), id)
	if err != nil {
		t.Fatalf("OpenResult failed: %v", err)
	}
	defer rc.Close()
	if !strings.HasPrefix(ref.Filename, "Playbook_Agreement_") || !strings.HasSuffix(ref.Filename, ".xlsx") {
		t.Errorf("Unexpected output filename %s", ref.Filename)
	}
	f, err := excelize.OpenReader(rc)
	if err != nil {
		t.Fatalf("Stored playbook is not a workbook: %v", err)
	}
	defer f.Close()
	if v, _ := f.GetCellValue(render.SheetClauses, "C4"); v != "Clause 3" {
		t.Errorf("Expected third clause in the workbook, got %q", v)
	}
}

func TestTruncatedDocumentIsFlagged(t *testing.T) {
	client := llmFunc(func(ctx context.Context, system, user string) (string, error) {
		return `{"clauses":[{"clause_title":"Term","risk_level":"green"}]}`, nil
	})
	orch, err := analysis.NewOrchestrator(analysis.OrchestratorOptions{
		Client: client,
		Analysis: config.AnalysisConfig{
			SingleShotThreshold: 400,
			ChunkSize:           300,
			MaxDocumentChars:    1000,
			MaxConcurrentChunks: 1,
		},
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	svc, _, _ := newTestService(t, orch)

	id, err := svc.Submit(context.Background(), strings.Repeat("b ", 1500), testSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	svc.Wait()

	job, err := svc.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.Status != model.StatusCompleted {
		t.Fatalf("Expected completed, got %s (%s)", job.Status, job.Error)
	}
	if !strings.HasPrefix(job.Message, messageDone) || !strings.Contains(job.Message, "2000 omitted") {
		t.Errorf("Expected final message to mention the truncation, got %q", job.Message)
	}
	if !strings.Contains(string(job.Result.AgreementSummary.TruncationNote), "first 1000 of 3000 characters") {
		t.Errorf("Unexpected truncation note %q", job.Result.AgreementSummary.TruncationNote)
	}

	rc, _, err := svc.OpenResult(context.Background(), id)
	if err != nil {
		t.Fatalf("OpenResult failed: %v", err)
	}
	defer rc.Close()
	f, err := excelize.OpenReader(rc)
	if err != nil {
		t.Fatalf("Stored playbook is not a workbook: %v", err)
	}
	defer f.Close()
	if v, _ := f.GetCellValue(render.SheetOverview, "A3"); !strings.Contains(v, "Document truncated") {
		t.Errorf("Expected truncation note on the overview sheet, got %q", v)
	}
}

func TestSubmitDocumentLifecycle(t *testing.T) {
	var gotDoc extract.Document
	rec := &fakeRecorder{}
	svc, _, _ := newTestServiceWith(t, PlaybookServiceOptions{
		Analyzer: echoAnalyzer{},
		Metrics:  rec,
		Extractor: extractorFunc(func(ctx context.Context, doc extract.Document) (string, error) {
			gotDoc = doc
			return "MASTER SERVICES AGREEMENT", nil
		}),
	})

	id, err := svc.SubmitDocument(context.Background(), Upload{
		Filename: "msa.docx",
		Size:     5,
		Reader:   strings.NewReader("bytes"),
	}, testSpec())
	if err != nil {
		t.Fatalf("SubmitDocument failed: %v", err)
	}
	svc.Wait()

	job, _ := svc.Get(id)
	if job.Status != model.StatusCompleted {
		t.Fatalf("Expected completed, got %s: %s", job.Status, job.Error)
	}
	if gotDoc.Format != extract.FormatDOCX || string(gotDoc.Data) != "bytes" || gotDoc.Key != job.InputKey {
		t.Errorf("Unexpected document passed to extractor: %+v", gotDoc)
	}
	if job.Filename != "msa.docx" || job.AgreementType != "MSA" || job.UserRole != model.DefaultUserRole {
		t.Errorf("Unexpected job spec %+v", job.JobSpec)
	}
	if !strings.HasPrefix(job.OutputFilename, "Playbook_msa_20250101_") {
		t.Errorf("Unexpected output filename %s", job.OutputFilename)
	}
	if _, err := svc.artifacts.Open(context.Background(), job.InputKey); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Expected upload to be deleted after the job, got %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.submitted) != 1 || rec.submitted[0] != "document" {
		t.Errorf("Unexpected submissions %v", rec.submitted)
	}
	if len(rec.finished) != 1 || rec.finished[0] != "completed" {
		t.Errorf("Unexpected finishes %v", rec.finished)
	}
}

func TestSubmitDocumentRejects(t *testing.T) {
	svc, store, _ := newTestServiceWith(t, PlaybookServiceOptions{
		Analyzer: echoAnalyzer{},
		Upload:   config.UploadConfig{MaxFileSizeMB: 1, AllowedExtensions: []string{"pdf", "docx"}},
	})

	tests := []struct {
		name string
		up   Upload
		want string
	}{
		{"no filename", Upload{Reader: strings.NewReader("x")}, "no file selected"},
		{"bad extension", Upload{Filename: "notes.txt", Reader: strings.NewReader("x")}, "Allowed types: pdf, docx"},
		{"declared too large", Upload{Filename: "a.pdf", Size: 2 << 20, Reader: strings.NewReader("x")}, "limit is 1.0 MiB"},
		{"actually too large", Upload{Filename: "a.pdf", Size: -1, Reader: strings.NewReader(strings.Repeat("x", 1<<20+1))}, "limit is 1.0 MiB"},
		{"empty file", Upload{Filename: "a.pdf", Reader: strings.NewReader("")}, "is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SubmitDocument(context.Background(), tt.up, testSpec())
			if !errors.Is(err, ErrInvalidUpload) {
				t.Fatalf("Expected ErrInvalidUpload, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected %q in %q", tt.want, err.Error())
			}
		})
	}
	if store.Count() != 0 {
		t.Errorf("Expected rejected uploads to create no jobs, got %d", store.Count())
	}
}

func TestSubmitRejectsEmptyText(t *testing.T) {
	svc, _, _ := newTestService(t, echoAnalyzer{})
	if _, err := svc.Submit(context.Background(), "  \n", testSpec()); !errors.Is(err, ErrInvalidUpload) {
		t.Errorf("Expected ErrInvalidUpload, got %v", err)
	}
}

func TestJobFailureBecomesErrorState(t *testing.T) {
	tests := []struct {
		name     string
		analyzer Analyzer
		want     string
	}{
		{
			name: "analysis error",
			analyzer: analyzerFunc(func(ctx context.Context, req analysis.Request, report analysis.ProgressFunc) (*model.Analysis, error) {
				report(40, "working")
				return nil, fmt.Errorf("section 2 of 3: %w", analysis.ErrMalformedResponse)
			}),
			want: "malformed",
		},
		{
			name: "panic",
			analyzer: analyzerFunc(func(ctx context.Context, req analysis.Request, report analysis.ProgressFunc) (*model.Analysis, error) {
				panic("boom")
			}),
			want: "internal error: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			svc, _, _ := newTestServiceWith(t, PlaybookServiceOptions{Analyzer: tt.analyzer, Metrics: rec})

			id, err := svc.Submit(context.Background(), "some agreement", testSpec())
			if err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
			svc.Wait()

			status, err := svc.GetStatus(id)
			if err != nil {
				t.Fatalf("GetStatus failed: %v", err)
			}
			if status.Status != model.StatusError {
				t.Fatalf("Expected error status, got %s", status.Status)
			}
			if !strings.Contains(status.Error, tt.want) || !strings.HasPrefix(status.Message, "Error: ") {
				t.Errorf("Unexpected error view %+v", status)
			}
			if _, err := svc.GetResult(id); !errors.Is(err, ErrNotReady) {
				t.Errorf("Expected ErrNotReady for failed job, got %v", err)
			}

			job, _ := svc.Get(id)
			if job.Result != nil {
				t.Error("Expected no result on a failed job")
			}
			rec.mu.Lock()
			defer rec.mu.Unlock()
			if len(rec.finished) != 1 || rec.finished[0] != "error" {
				t.Errorf("Expected one error finish, got %v", rec.finished)
			}
		})
	}
}

func TestExtractionFailureBecomesErrorState(t *testing.T) {
	svc, _, _ := newTestServiceWith(t, PlaybookServiceOptions{
		Analyzer: echoAnalyzer{},
		Extractor: extractorFunc(func(ctx context.Context, doc extract.Document) (string, error) {
			return "", fmt.Errorf("%w: may be a scanned image", extract.ErrExtractionFailed)
		}),
	})

	id, err := svc.SubmitDocument(context.Background(), Upload{Filename: "scan.pdf", Reader: strings.NewReader("%PDF")}, testSpec())
	if err != nil {
		t.Fatalf("SubmitDocument failed: %v", err)
	}
	svc.Wait()

	job, _ := svc.Get(id)
	if job.Status != model.StatusError || !strings.Contains(job.Error, "scanned image") {
		t.Errorf("Expected extraction failure, got %s: %s", job.Status, job.Error)
	}
	if job.Progress != progressExtract {
		t.Errorf("Expected progress to stay at the extraction stage, got %d", job.Progress)
	}
}

func TestJobSurvivesCancelledRequest(t *testing.T) {
	release := make(chan struct{})
	var taskErr error
	svc, _, _ := newTestService(t, analyzerFunc(func(ctx context.Context, req analysis.Request, report analysis.ProgressFunc) (*model.Analysis, error) {
		<-release
		taskErr = ctx.Err()
		return echoAnalyzer{}.Analyze(ctx, req, report)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	id, err := svc.Submit(ctx, "agreement", testSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	cancel()
	close(release)
	svc.Wait()

	if taskErr != nil {
		t.Errorf("Expected task context to outlive the request, got %v", taskErr)
	}
	job, _ := svc.Get(id)
	if job.Status != model.StatusCompleted {
		t.Errorf("Expected completed, got %s", job.Status)
	}
}

func TestProgressIsScaledAndMonotonic(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	var svc *PlaybookService
	var id string
	ready := make(chan struct{})
	svc, _, _ = newTestService(t, analyzerFunc(func(ctx context.Context, req analysis.Request, report analysis.ProgressFunc) (*model.Analysis, error) {
		<-ready
		for _, p := range []int{0, 26, 53, 80, 90, 100} {
			report(p, "step")
			view, _ := svc.GetStatus(id)
			mu.Lock()
			seen = append(seen, view.Progress)
			mu.Unlock()
		}
		return echoAnalyzer{}.Analyze(ctx, req, func(int, string) {})
	}))

	var err error
	id, err = svc.Submit(context.Background(), "agreement", testSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	close(ready)
	svc.Wait()

	want := []int{20, 36, 54, 72, 78, 85}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("Expected progress %v, got %v", want, seen)
	}
}

func TestScaleProgress(t *testing.T) {
	tests := []struct{ in, want int }{
		{-10, 20}, {0, 20}, {50, 52}, {100, 85}, {150, 85},
	}
	for _, tt := range tests {
		if got := scaleProgress(tt.in); got != tt.want {
			t.Errorf("scaleProgress(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestGetResultBeforeCompletion(t *testing.T) {
	release := make(chan struct{})
	svc, _, _ := newTestService(t, analyzerFunc(func(ctx context.Context, req analysis.Request, report analysis.ProgressFunc) (*model.Analysis, error) {
		<-release
		return echoAnalyzer{}.Analyze(ctx, req, report)
	}))
	defer svc.Wait()
	defer close(release)

	id, _ := svc.Submit(context.Background(), "agreement", testSpec())
	if _, err := svc.GetResult(id); !errors.Is(err, ErrNotReady) {
		t.Errorf("Expected ErrNotReady while running, got %v", err)
	}
	if err := svc.Delete(context.Background(), id); !errors.Is(err, ErrJobActive) {
		t.Errorf("Expected running job to be protected from delete, got %v", err)
	}
	if _, err := svc.GetStatus("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Expected ErrUnknownJob, got %v", err)
	}
}

func TestDeleteRemovesArtifacts(t *testing.T) {
	svc, _, _ := newTestService(t, echoAnalyzer{})
	id, _ := svc.Submit(context.Background(), "agreement", testSpec())
	svc.Wait()

	ref, err := svc.GetResult(id)
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if err := svc.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := svc.artifacts.Open(context.Background(), ref.Key); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Expected playbook to be removed, got %v", err)
	}
	if _, err := svc.Get(id); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Expected job to be gone, got %v", err)
	}
}

func TestOpenResultStreamsWorkbook(t *testing.T) {
	svc, _, _ := newTestService(t, echoAnalyzer{})
	id, _ := svc.Submit(context.Background(), "agreement", testSpec())
	svc.Wait()

	rc, _, err := svc.OpenResult(context.Background(), id)
	if err != nil {
		t.Fatalf("OpenResult failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if len(data) < 4 || string(data[:2]) != "PK" {
		t.Error("Expected an xlsx (zip) payload")
	}
}

func TestNewPlaybookServiceValidates(t *testing.T) {
	store := NewJobStore(JobStoreOptions{})
	artifacts, _ := NewLocalStore(t.TempDir())
	if _, err := NewPlaybookService(PlaybookServiceOptions{Store: store, Artifacts: artifacts, Renderer: render.NewExcelRenderer()}); err == nil {
		t.Error("Expected error without analyzer")
	}
	if _, err := NewPlaybookService(PlaybookServiceOptions{Store: store, Analyzer: echoAnalyzer{}, Renderer: render.NewExcelRenderer()}); err == nil {
		t.Error("Expected error without artifact store")
	}
}
