// Package oracle talks to the field-mapping oracle service and provides a
// best-effort heuristic planner used when the oracle has no learned mapping
// for a directory.
package oracle

import (
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

	"golang.org/x/oauth2/clientcredentials"

	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/domain/model"
	"github.com/listpilot/listpilot/internal/failure"
)

const maxPlanResponseBytes = 256 * 1024

// ClientOptions configures the oracle HTTP client.
type ClientOptions struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
	// OAuth carries optional client-credentials auth for the oracle. When
	// nil, requests go out unauthenticated.
	OAuth      *clientcredentials.Config
	HTTPClient *http.Client
}

// Client calls POST /plan on the oracle service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

var _ core.Planner = (*Client)(nil)

// NewClient constructs an oracle client.
func NewClient(opts ClientOptions) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("oracle base URL is required")
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		if opts.OAuth != nil {
			hc = opts.OAuth.Client(context.Background())
			hc.Timeout = timeout
		} else {
			hc = &http.Client{Timeout: timeout}
		}
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    hc,
		logger:  opts.Logger,
	}, nil
}

// planResponse is the oracle wire response.
type planResponse struct {
	FillActions  []model.FillAction `json:"fill_actions"`
	SubmitAction model.FillAction   `json:"submit_action"`
	Obstacles    []model.Obstacle   `json:"obstacles"`
}

// Plan requests a fill plan for one directory + profile pair. Any transport
// error or 5xx is tagged transient so the task retry policy applies; a 4xx
// is structural (retrying the same request cannot succeed).
func (c *Client) Plan(ctx context.Context, req core.PlanRequest) (*model.FillPlan, error) {
	if req.Directory == nil || req.Profile == nil {
		return nil, failure.Newf(failure.KindValidation, "plan request requires directory and profile")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal plan request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/plan", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build plan request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, failure.New(failure.KindTransientInfra, fmt.Errorf("oracle request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPlanResponseBytes))
	if err != nil {
		return nil, failure.New(failure.KindTransientInfra, fmt.Errorf("read oracle response: %w", err))
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, failure.Newf(failure.KindTransientInfra, "oracle unavailable: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, failure.Newf(failure.KindStructural, "oracle rejected plan request: status %d", resp.StatusCode)
	}

	var pr planResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, failure.New(failure.KindTransientInfra, fmt.Errorf("decode oracle response: %w", err))
	}

	plan := &model.FillPlan{
		DirectoryID: req.Directory.ID,
		Actions:     pr.FillActions,
		Submit:      pr.SubmitAction,
		Obstacles:   pr.Obstacles,
	}
	if err := plan.Validate(); err != nil {
		return nil, failure.New(failure.KindTransientInfra, fmt.Errorf("oracle returned unusable plan: %w", err))
	}

	if c.logger != nil {
		c.logger.DebugContext(ctx, "oracle plan received",
			"directory", req.Directory.Name,
			"actions", len(plan.Actions),
			"obstacles", len(plan.Obstacles),
		)
	}
	return plan, nil
}

// WithFallback wraps a primary planner with a fallback used when the primary
// fails. This is how plan requests degrade gracefully: the pipeline still
// attempts the submission with a best-effort heuristic plan rather than
// giving up because the oracle is down or has no mapping.
type WithFallback struct {
	Primary  core.Planner
	Fallback core.Planner
	Logger   *slog.Logger
}

var _ core.Planner = (*WithFallback)(nil)

// Plan tries the primary planner and falls back on any non-validation error.
func (p *WithFallback) Plan(ctx context.Context, req core.PlanRequest) (*model.FillPlan, error) {
	plan, err := p.Primary.Plan(ctx, req)
	if err == nil {
		return plan, nil
	}
	if failure.KindOf(err) == failure.KindValidation || p.Fallback == nil {
		return nil, err
	}

	if p.Logger != nil {
		p.Logger.WarnContext(ctx, "primary planner failed, using heuristic fallback",
			"directory", dirName(req.Directory),
			"error", err,
		)
	}
	return p.Fallback.Plan(ctx, req)
}

func dirName(d *model.Directory) string {
	if d == nil {
		return ""
	}
	return d.Name
}
