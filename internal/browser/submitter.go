package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/domain/model"
	"github.com/listpilot/listpilot/internal/failure"
)

// SubmitterOptions configures the headless-browser submitter.
type SubmitterOptions struct {
	// ScreenshotDir is where per-submission screenshots are written.
	// Defaults to the OS temp dir.
	ScreenshotDir string
	// PageTimeout bounds one full navigate-fill-submit session. Defaults to 2m.
	PageTimeout time.Duration
	// SettleDelay is how long to wait after submit before reading the result
	// page. Defaults to 2s.
	SettleDelay time.Duration
	Headless    bool
	Solver      core.CaptchaSolver
	Logger      *slog.Logger
}

// Submitter drives a headless Chrome session per fill plan: navigate, fill
// mapped fields, forward CAPTCHAs to the solver, submit, classify. One
// session runs end-to-end synchronously; a page session is not internally
// parallelizable.
type Submitter struct {
	screenshotDir string
	pageTimeout   time.Duration
	settleDelay   time.Duration
	headless      bool
	solver        core.CaptchaSolver
	logger        *slog.Logger
}

var _ core.Submitter = (*Submitter)(nil)

// NewSubmitter constructs a Submitter.
func NewSubmitter(opts SubmitterOptions) *Submitter {
	dir := opts.ScreenshotDir
	if dir == "" {
		dir = os.TempDir()
	}
	pageTimeout := opts.PageTimeout
	if pageTimeout <= 0 {
		pageTimeout = 2 * time.Minute
	}
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = 2 * time.Second
	}
	return &Submitter{
		screenshotDir: dir,
		pageTimeout:   pageTimeout,
		settleDelay:   settle,
		headless:      opts.Headless,
		solver:        opts.Solver,
		logger:        opts.Logger,
	}
}

// responseLog is the structured record captured for every submission,
// success or failure, for the audit trail.
type responseLog struct {
	FinalURL      string `json:"final_url,omitempty"`
	PageTitle     string `json:"page_title,omitempty"`
	MatchedMarker string `json:"matched_marker,omitempty"`
	CaptchaSolved bool   `json:"captcha_solved,omitempty"`
	Heuristic     bool   `json:"heuristic_plan,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	Error         string `json:"error,omitempty"`
}

// Submit executes the fill plan against the directory and classifies the
// outcome. Navigation and page errors come back tagged transient-automation
// so the task retry policy applies; a structural rejection or an ambiguous
// page is reported in the outcome, not as an error.
func (s *Submitter) Submit(ctx context.Context, dir *model.Directory, plan *model.FillPlan) (*core.SubmissionOutcome, error) {
	if dir == nil || plan == nil {
		return nil, failure.Newf(failure.KindValidation, "directory and fill plan are required")
	}
	if err := plan.Validate(); err != nil {
		return nil, failure.New(failure.KindValidation, err)
	}

	// Login-gated directories cannot be automated without credentials; this
	// is a deterministic rejection, not a retry candidate.
	if plan.HasObstacle(model.ObstacleLogin) {
		return &core.SubmissionOutcome{
			Status:       model.ResultStatusFailed,
			ErrorMessage: "directory requires login",
			ResponseLog:  mustLog(responseLog{Error: "directory requires login", Heuristic: plan.Heuristic}),
		}, nil
	}

	start := time.Now()

	allocOpts := chromedp.DefaultExecAllocatorOptions[:]
	if !s.headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, s.pageTimeout)
	defer cancelRun()

	log := responseLog{Heuristic: plan.Heuristic}

	if err := chromedp.Run(runCtx, chromedp.Navigate(dir.SubmitURL)); err != nil {
		return s.failedSession(runCtx, dir, log, start, fmt.Errorf("navigate %s: %w", dir.SubmitURL, err))
	}

	if err := s.fill(runCtx, plan); err != nil {
		return s.failedSession(runCtx, dir, log, start, err)
	}

	if plan.HasObstacle(model.ObstacleCaptcha) {
		solved, err := s.solveCaptcha(runCtx, dir)
		if err != nil {
			return s.failedSession(runCtx, dir, log, start, err)
		}
		log.CaptchaSolved = solved
	}

	if err := chromedp.Run(runCtx,
		chromedp.Click(plan.Submit.Selector, chromedp.ByQuery),
		chromedp.Sleep(s.settleDelay),
	); err != nil {
		return s.failedSession(runCtx, dir, log, start, fmt.Errorf("submit: %w", err))
	}

	var pageHTML, pageTitle, finalURL string
	if err := chromedp.Run(runCtx,
		chromedp.OuterHTML("html", &pageHTML, chromedp.ByQuery),
		chromedp.Title(&pageTitle),
		chromedp.Location(&finalURL),
	); err != nil {
		return s.failedSession(runCtx, dir, log, start, fmt.Errorf("read result page: %w", err))
	}

	verdict := Classify(dir, pageHTML)
	log.FinalURL = finalURL
	log.PageTitle = pageTitle
	log.MatchedMarker = verdict.Marker
	log.DurationMs = time.Since(start).Milliseconds()

	outcome := &core.SubmissionOutcome{
		Status:        verdict.Status,
		ScreenshotRef: s.screenshot(runCtx, dir),
	}
	switch verdict.Status {
	case model.ResultStatusFailed:
		outcome.ErrorMessage = "directory rejected submission: " + verdict.Marker
		log.Error = outcome.ErrorMessage
	case model.ResultStatusNeedsHuman:
		outcome.ErrorMessage = "could not classify submission result"
	}
	outcome.ResponseLog = mustLog(log)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "submission classified",
			"directory", dir.Name,
			"status", outcome.Status,
			"marker", verdict.Marker,
			"duration_ms", log.DurationMs,
		)
	}
	return outcome, nil
}

// fill applies the plan's ordered actions.
func (s *Submitter) fill(ctx context.Context, plan *model.FillPlan) error {
	for _, action := range plan.Actions {
		var task chromedp.Action
		switch action.Kind {
		case model.ActionFill:
			task = chromedp.SendKeys(action.Selector, action.Value, chromedp.ByQuery)
		case model.ActionSelect:
			task = chromedp.SetValue(action.Selector, action.Value, chromedp.ByQuery)
		case model.ActionCheck, model.ActionClick:
			task = chromedp.Click(action.Selector, chromedp.ByQuery)
		default:
			return failure.Newf(failure.KindValidation, "unsupported fill action kind %q", action.Kind)
		}
		if err := chromedp.Run(ctx, task); err != nil {
			return fmt.Errorf("action %s on %s: %w", action.Kind, action.Selector, err)
		}
	}
	return nil
}

// solveCaptcha extracts the widget site key, forwards it to the solver, and
// injects the token into the response field. A missing widget is fine; the
// obstacle was a prediction, not a certainty.
func (s *Submitter) solveCaptcha(ctx context.Context, dir *model.Directory) (bool, error) {
	if s.solver == nil {
		return false, failure.Newf(failure.KindTransientAutomation,
			"directory %s expects a captcha but no solver is configured", dir.Name)
	}

	var siteKey string
	var found bool
	if err := chromedp.Run(ctx,
		chromedp.AttributeValue(`.g-recaptcha`, "data-sitekey", &siteKey, &found, chromedp.ByQuery),
	); err != nil || !found || siteKey == "" {
		return false, nil
	}

	token, err := s.solver.Solve(ctx, siteKey, dir.SubmitURL)
	if err != nil {
		return false, err
	}

	inject := fmt.Sprintf(
		`document.querySelector('[name="g-recaptcha-response"]').value = %q;`, token)
	var ignored any
	if err := chromedp.Run(ctx, chromedp.Evaluate(inject, &ignored)); err != nil {
		return false, failure.New(failure.KindTransientAutomation, fmt.Errorf("inject captcha token: %w", err))
	}
	return true, nil
}

// failedSession wraps a mid-session error as transient automation (unless
// already tagged) and still captures the screenshot and response log so the
// audit trail has the evidence.
func (s *Submitter) failedSession(
	ctx context.Context,
	dir *model.Directory,
	log responseLog,
	start time.Time,
	err error,
) (*core.SubmissionOutcome, error) {
	log.Error = err.Error()
	log.DurationMs = time.Since(start).Milliseconds()

	outcome := &core.SubmissionOutcome{
		Status:        model.ResultStatusRetry,
		ResponseLog:   mustLog(log),
		ScreenshotRef: s.screenshot(ctx, dir),
		ErrorMessage:  err.Error(),
	}

	var fe *failure.Error
	if errors.As(err, &fe) {
		return outcome, err
	}
	return outcome, failure.New(failure.KindTransientAutomation, err)
}

// screenshot captures the current page; best-effort, an empty ref means the
// capture itself failed.
func (s *Submitter) screenshot(ctx context.Context, dir *model.Directory) string {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil || len(buf) == 0 {
		return ""
	}

	name := fmt.Sprintf("%s-%s.png", sanitizeName(dir.Name), uuid.NewString()[:8])
	path := filepath.Join(s.screenshotDir, name)
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "write screenshot failed", "path", path, "error", err)
		}
		return ""
	}
	return path
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}

func mustLog(l responseLog) json.RawMessage {
	raw, err := json.Marshal(l)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
