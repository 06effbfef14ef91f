package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"teacher_scenario_backend/internal/config"
	"teacher_scenario_backend/pkg/tracing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const maxEvaluationBody = 8 << 20

// EvaluationClient 外部评估服务的两个接口
type EvaluationClient interface {
	GetSession(ctx context.Context, sessionID string) (*EvaluationSession, error)
	TriggerAnalysis(ctx context.Context, sessionID string) error
}

// EvaluationSession GET /sessions/{id} 的响应
type EvaluationSession struct {
	ID                string                 `json:"id"`
	Status            string                 `json:"status"`
	EvaluationResults map[string]interface{} `json:"evaluation_results,omitempty"`
	TranscriptContent string                 `json:"transcript_content,omitempty"`
	Duration          float64                `json:"duration,omitempty"`
	CompletedAt       string                 `json:"completed_at,omitempty"`
	CreatedAt         string                 `json:"created_at,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type HTTPEvaluationClient struct {
	baseURL   string
	apiKey    string
	orgID     string
	userAgent string
	timeout   time.Duration
	http      *http.Client
}

// NewEvaluationClient 缺少 API Key 时返回 *ConfigurationError
func NewEvaluationClient(cfg config.EvaluatorConfig) (*HTTPEvaluationClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &ConfigurationError{Field: "evaluator.api_key"}
	}
	if cfg.BaseURL == "" {
		return nil, &ConfigurationError{Field: "evaluator.base_url"}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &HTTPEvaluationClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		orgID:     cfg.OrgID,
		userAgent: cfg.UserAgent,
		timeout:   timeout,
		http:      &http.Client{},
	}, nil
}

func (c *HTTPEvaluationClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.orgID != "" {
		req.Header.Set("X-TT-ORG", c.orgID)
	}
}

func (c *HTTPEvaluationClient) GetSession(ctx context.Context, sessionID string) (*EvaluationSession, error) {
	ctx, span := tracing.Tracer.Start(ctx, "evaluator.GetSession")
	defer span.End()
	span.SetAttributes(attribute.String("evaluator.session_id", sessionID))

	// 单次调用的超时独立于整体轮询预算
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEvaluationBody))
	if err != nil {
		return nil, fmt.Errorf("reading session response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSessionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, "non-2xx response")
		return nil, &RemoteError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var session EvaluationSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("decoding session response: %w", err)
	}
	session.Raw = body
	return &session, nil
}

func (c *HTTPEvaluationClient) TriggerAnalysis(ctx context.Context, sessionID string) error {
	ctx, span := tracing.Tracer.Start(ctx, "evaluator.TriggerAnalysis")
	defer span.End()
	span.SetAttributes(attribute.String("evaluator.session_id", sessionID))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions/analyze", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to trigger analysis: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxEvaluationBody))

	if resp.StatusCode == http.StatusNotFound {
		return ErrSessionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{StatusCode: resp.StatusCode}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
