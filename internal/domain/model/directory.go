package model

import "time"

// Directory describes one target listing site: where its submission form
// lives, what is already known about its shape, and how to read the outcome.
type Directory struct {
	ID             string            `json:"id"             db:"id"`
	Name           string            `json:"name"           db:"name"`
	SubmitURL      string            `json:"submit_url"     db:"submit_url"`
	FieldSelectors map[string]string `json:"field_selectors,omitempty" db:"field_selectors"`
	SubmitSelector string            `json:"submit_selector,omitempty" db:"submit_selector"`
	SuccessMarkers []string          `json:"success_markers,omitempty" db:"success_markers"`
	ErrorMarkers   []string          `json:"error_markers,omitempty"   db:"error_markers"`
	ExpectsCaptcha bool              `json:"expects_captcha" db:"expects_captcha"`
	RequiresLogin  bool              `json:"requires_login"  db:"requires_login"`
	// MinInterval is the per-directory rate-limit constraint between submissions.
	MinInterval time.Duration `json:"min_interval,omitempty" db:"min_interval"`
	Rank        int           `json:"rank"       db:"rank"`
	Enabled     bool          `json:"enabled"    db:"enabled"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}

// BusinessProfile is the customer business data snapshot that gets mapped
// onto directory forms. The snapshot travels with the task so a later profile
// edit cannot change what an in-flight submission sends.
type BusinessProfile struct {
	CustomerID  string    `json:"customer_id" db:"customer_id"`
	Name        string    `json:"name"        db:"name"`
	Category    string    `json:"category,omitempty"    db:"category"`
	Description string    `json:"description,omitempty" db:"description"`
	Phone       string    `json:"phone,omitempty"       db:"phone"`
	Email       string    `json:"email,omitempty"       db:"email"`
	Website     string    `json:"website,omitempty"     db:"website"`
	Address     string    `json:"address,omitempty"     db:"address"`
	City        string    `json:"city,omitempty"        db:"city"`
	Region      string    `json:"region,omitempty"      db:"region"`
	PostalCode  string    `json:"postal_code,omitempty" db:"postal_code"`
	Country     string    `json:"country,omitempty"     db:"country"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
