package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/failure"
)

// CaptchaClient forwards CAPTCHA challenges to an external solving service.
// Solver outages are transient automation failures: the task retry policy
// handles them, not the queue.
type CaptchaClient struct {
	BaseURL string
	HTTP    *http.Client
}

var _ core.CaptchaSolver = (*CaptchaClient)(nil)

// NewCaptchaClient constructs a CaptchaClient.
func NewCaptchaClient(baseURL string, timeout time.Duration) (*CaptchaClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("captcha solver base URL is required")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &CaptchaClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}, nil
}

// Solve submits a challenge and returns the solver token.
func (c *CaptchaClient) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"site_key": siteKey,
		"page_url": pageURL,
	})
	if err != nil {
		return "", fmt.Errorf("marshal captcha request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/solve", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build captcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", failure.New(failure.KindTransientAutomation, fmt.Errorf("captcha solver request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", failure.Newf(failure.KindTransientAutomation, "captcha solver returned status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&out); err != nil {
		return "", failure.New(failure.KindTransientAutomation, fmt.Errorf("decode captcha response: %w", err))
	}
	if out.Token == "" {
		return "", failure.Newf(failure.KindTransientAutomation, "captcha solver returned empty token")
	}
	return out.Token, nil
}
