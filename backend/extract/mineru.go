package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AnTengye/contractplaybook/backend/config"
)

const maxZipSize = 200 << 20

// URLSigner hands out a URL the MinerU service can download the upload from
type URLSigner interface {
	PresignedURL(ctx context.Context, key string) (string, error)
}

// MineruExtractor delegates extraction to the MinerU cloud API. It needs
// the upload to be reachable through a presigned URL.
type MineruExtractor struct {
	config     *config.MineruConfig
	signer     URLSigner
	httpClient *http.Client
	logger     *slog.Logger
}

// MineruTaskRequest represents the request to create an extraction task
type MineruTaskRequest struct {
	URL          string `json:"url"`
	ModelVersion string `json:"model_version"`
	DataID       string `json:"data_id,omitempty"`
}

// MineruTaskResponse represents the response from task creation
type MineruTaskResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

// MineruTaskStatusResponse represents the task status query response
type MineruTaskStatusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	TraceID string `json:"trace_id"`
	Data    struct {
		TaskID          string `json:"task_id"`
		DataID          string `json:"data_id"`
		State           string `json:"state"` // pending, running, done, failed, converting
		FullZipURL      string `json:"full_zip_url,omitempty"`
		ErrorMsg        string `json:"err_msg,omitempty"`
		ExtractProgress struct {
			ExtractedPages int `json:"extracted_pages"`
			TotalPages     int `json:"total_pages"`
		} `json:"extract_progress,omitempty"`
	} `json:"data"`
}

// NewMineruExtractor creates a MineruExtractor
func NewMineruExtractor(cfg *config.MineruConfig, signer URLSigner, logger *slog.Logger) *MineruExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &MineruExtractor{
		config: cfg,
		signer: signer,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger.With("component", "mineru"),
	}
}

// Extract implements Extractor. Spreadsheets are not supported by MinerU
// and are parsed locally.
func (e *MineruExtractor) Extract(ctx context.Context, doc Document) (string, error) {
	format := doc.Format
	if format == "" {
		format = FormatOf(doc.Name)
	}
	if format == FormatXLSX {
		return NewLocalExtractor().Extract(ctx, doc)
	}
	if format != FormatPDF && format != FormatDOCX {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if doc.Key == "" {
		return "", fmt.Errorf("%w: document %s has no stored copy for MinerU to fetch", ErrExtractionFailed, doc.Name)
	}

	url, err := e.signer.PresignedURL(ctx, doc.Key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	task, err := e.CreateTask(ctx, url, doc.Key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	e.logger.InfoContext(ctx, "mineru task created", "task_id", task.Data.TaskID, "document", doc.Name)

	zipURL, err := e.waitForTask(ctx, task.Data.TaskID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	text, err := e.FetchMarkdown(ctx, zipURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return requireText(doc.Name, text)
}

// CreateTask creates a new extraction task
func (e *MineruExtractor) CreateTask(ctx context.Context, fileURL, dataID string) (*MineruTaskResponse, error) {
	jsonData, err := json.Marshal(MineruTaskRequest{
		URL:          fileURL,
		ModelVersion: e.config.ModelVersion,
		DataID:       dataID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.APIURL+"/extract/task", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result MineruTaskResponse
	if err := e.do(req, &result); err != nil {
		return nil, err
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("MinerU API error: %s", result.Message)
	}
	return &result, nil
}

// GetTaskStatus queries the status of a task
func (e *MineruExtractor) GetTaskStatus(ctx context.Context, taskID string) (*MineruTaskStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/extract/task/%s", e.config.APIURL, taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result MineruTaskStatusResponse
	if err := e.do(req, &result); err != nil {
		return nil, err
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("MinerU API error: %s", result.Message)
	}
	return &result, nil
}

func (e *MineruExtractor) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+e.config.APIToken)
	req.Header.Set("Accept", "*/*")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

// waitForTask polls until the task is done and returns the result zip URL
func (e *MineruExtractor) waitForTask(ctx context.Context, taskID string) (string, error) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for poll := 1; poll <= e.config.MaxPolls; poll++ {
		status, err := e.GetTaskStatus(ctx, taskID)
		if err != nil {
			return "", err
		}

		switch status.Data.State {
		case "done":
			if status.Data.FullZipURL == "" {
				return "", errors.New("MinerU task finished without a result")
			}
			return status.Data.FullZipURL, nil
		case "failed":
			return "", fmt.Errorf("MinerU task failed: %s", status.Data.ErrorMsg)
		}
		e.logger.DebugContext(ctx, "mineru task in progress",
			"task_id", taskID,
			"state", status.Data.State,
			"pages", status.Data.ExtractProgress.ExtractedPages,
			"total_pages", status.Data.ExtractProgress.TotalPages,
		)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
	return "", fmt.Errorf("MinerU task %s not finished after %d polls", taskID, e.config.MaxPolls)
}

// FetchMarkdown downloads the result zip and returns full.md, falling back
// to the text items of content_list.json
func (e *MineruExtractor) FetchMarkdown(ctx context.Context, zipURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download ZIP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download ZIP: status %d", resp.StatusCode)
	}

	zipData, err := io.ReadAll(io.LimitReader(resp.Body, maxZipSize))
	if err != nil {
		return "", fmt.Errorf("failed to read ZIP: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return "", fmt.Errorf("failed to open ZIP: %w", err)
	}

	var contentList *zip.File
	for _, f := range zr.File {
		switch {
		case strings.HasSuffix(f.Name, "full.md"):
			content, err := readZipFile(f)
			if err != nil {
				return "", err
			}
			return string(content), nil
		case strings.HasSuffix(f.Name, "content_list.json"):
			contentList = f
		}
	}
	if contentList == nil {
		return "", errors.New("no full.md or content_list.json in MinerU result")
	}

	content, err := readZipFile(contentList)
	if err != nil {
		return "", err
	}
	var items []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &items); err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", contentList.Name, err)
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
