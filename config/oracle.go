package config

import "time"

// OracleConfig contains field-mapping oracle client configuration.
type OracleConfig struct {
	// BaseURL of the oracle service. Empty disables the remote oracle and
	// the pipeline plans heuristically only.
	BaseURL string `env:"ORACLE_BASE_URL" envDefault:""`

	Timeout time.Duration `env:"ORACLE_TIMEOUT" envDefault:"30s"`

	// Client-credentials auth for the oracle. All three must be set to
	// enable authenticated requests.
	ClientID     string `env:"ORACLE_CLIENT_ID"     envDefault:""`
	ClientSecret string `env:"ORACLE_CLIENT_SECRET" envDefault:""`
	TokenURL     string `env:"ORACLE_TOKEN_URL"     envDefault:""`
}

// Sanitize applies guardrails to oracle configuration.
func (c *OracleConfig) Sanitize() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// AuthConfigured reports whether client-credentials auth is fully specified.
func (c *OracleConfig) AuthConfigured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.TokenURL != ""
}

// BrowserConfig contains submission worker browser configuration.
type BrowserConfig struct {
	// Headless controls whether Chrome runs without a display. Only disable
	// for local debugging.
	Headless bool `env:"BROWSER_HEADLESS" envDefault:"true"`

	// ScreenshotDir is where per-submission screenshots are written.
	ScreenshotDir string `env:"BROWSER_SCREENSHOT_DIR" envDefault:"/var/tmp/listpilot/screenshots"`

	// PageTimeout bounds one navigate-fill-submit session.
	PageTimeout time.Duration `env:"BROWSER_PAGE_TIMEOUT" envDefault:"2m"`

	// SettleDelay is the post-submit wait before reading the result page.
	SettleDelay time.Duration `env:"BROWSER_SETTLE_DELAY" envDefault:"2s"`

	// CaptchaSolverURL of the external solving service. Empty disables
	// captcha solving; captcha-gated directories then fail as transient.
	CaptchaSolverURL string `env:"BROWSER_CAPTCHA_SOLVER_URL" envDefault:""`

	CaptchaTimeout time.Duration `env:"BROWSER_CAPTCHA_TIMEOUT" envDefault:"2m"`
}

// Sanitize applies guardrails to browser configuration.
func (c *BrowserConfig) Sanitize() {
	if c.PageTimeout <= 0 {
		c.PageTimeout = 2 * time.Minute
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.CaptchaTimeout <= 0 {
		c.CaptchaTimeout = 2 * time.Minute
	}
}
