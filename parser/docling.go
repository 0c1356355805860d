package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DoclingConfig configures the external docling-serve adapter.
type DoclingConfig struct {
	BaseURL      string        // e.g. http://localhost:5001
	Timeout      time.Duration // per-HTTP-request timeout
	PollInterval time.Duration
	MaxWait      time.Duration // overall cap on one conversion
}

// DoclingParser sends the PDF to a docling-serve instance and retrieves
// the converted markdown. Conversion is async: upload returns a task id
// which is polled until the task settles.
type DoclingParser struct {
	cfg    DoclingConfig
	client *http.Client
}

func NewDoclingParser(cfg DoclingConfig) *DoclingParser {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 5 * time.Minute
	}
	return &DoclingParser{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (p *DoclingParser) Name() string { return "docling" }

func (p *DoclingParser) Parse(ctx context.Context, path string) (*Result, error) {
	if p.cfg.BaseURL == "" {
		return nil, fmt.Errorf("docling base URL not configured")
	}

	taskID, err := p.submit(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("submitting to docling: %w", err)
	}

	if err := p.await(ctx, taskID); err != nil {
		return nil, fmt.Errorf("waiting for docling task %s: %w", taskID, err)
	}

	markdown, err := p.fetchResult(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("fetching docling result %s: %w", taskID, err)
	}

	return &Result{
		Markdown: markdown,
		Method:   "docling",
		Metadata: map[string]string{"task_id": taskID},
	}, nil
}

func (p *DoclingParser) submit(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	if err := writer.WriteField("to_formats", "md"); err != nil {
		return "", err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST",
		p.cfg.BaseURL+"/v1alpha/convert/file/async", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("submit failed %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.TaskID == "" {
		return "", fmt.Errorf("submit response had no task id")
	}
	return result.TaskID, nil
}

func (p *DoclingParser) await(ctx context.Context, taskID string) error {
	deadline := time.Now().Add(p.cfg.MaxWait)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.PollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, "GET",
			fmt.Sprintf("%s/v1alpha/status/poll/%s", p.cfg.BaseURL, taskID), nil)
		if err != nil {
			return err
		}
		resp, err := p.client.Do(req)
		if err != nil {
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status poll %d: %s", resp.StatusCode, string(body))
		}

		var status struct {
			TaskStatus string `json:"task_status"`
		}
		if err := json.Unmarshal(body, &status); err != nil {
			return err
		}
		switch status.TaskStatus {
		case "success":
			return nil
		case "failure", "error":
			return fmt.Errorf("conversion failed: %s", status.TaskStatus)
		}
	}
	return fmt.Errorf("conversion timed out after %s", p.cfg.MaxWait)
}

func (p *DoclingParser) fetchResult(ctx context.Context, taskID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/v1alpha/result/%s", p.cfg.BaseURL, taskID), nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("result fetch %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Document struct {
			MDContent string `json:"md_content"`
		} `json:"document"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return string(body), nil // raw text fallback
	}
	return result.Document.MDContent, nil
}
