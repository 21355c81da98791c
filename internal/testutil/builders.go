package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/listpilot/listpilot/internal/domain/model"
)

// JobRequestBuilder builds CreateJobRequest fixtures.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a builder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			ID:          uuid.NewString(),
			CustomerID:  "cust-" + uuid.NewString()[:8],
			PackageSize: 3,
			Priority:    50,
			Source:      "test",
		},
	}
}

// WithID sets the job id.
func (b *JobRequestBuilder) WithID(id string) *JobRequestBuilder {
	b.req.ID = id
	return b
}

// WithCustomerID sets the customer id.
func (b *JobRequestBuilder) WithCustomerID(customerID string) *JobRequestBuilder {
	b.req.CustomerID = customerID
	return b
}

// WithPackageSize sets the package size.
func (b *JobRequestBuilder) WithPackageSize(size int) *JobRequestBuilder {
	b.req.PackageSize = size
	return b
}

// WithPriority sets the priority.
func (b *JobRequestBuilder) WithPriority(priority int) *JobRequestBuilder {
	b.req.Priority = priority
	return b
}

// Build returns the constructed request.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// NewDirectory returns a directory fixture with selector-based planning.
func NewDirectory(name string) *model.Directory {
	return &model.Directory{
		ID:        uuid.NewString(),
		Name:      name,
		SubmitURL: fmt.Sprintf("https://%s.example.com/submit", name),
		FieldSelectors: map[string]string{
			"name":  "#business-name",
			"email": "#email",
		},
		SubmitSelector: "#submit",
		SuccessMarkers: []string{"thank you for your submission"},
		ErrorMarkers:   []string{"error"},
		Rank:           1,
		Enabled:        true,
	}
}

// NewProfile returns a business-profile fixture.
func NewProfile(customerID string) *model.BusinessProfile {
	return &model.BusinessProfile{
		CustomerID: customerID,
		Name:       "Acme Plumbing",
		Category:   "plumber",
		Phone:      "555-0101",
		Email:      "contact@acmeplumbing.example",
		Website:    "https://acmeplumbing.example",
		Address:    "1 Main St",
		City:       "Springfield",
		Region:     "IL",
		PostalCode: "62701",
		Country:    "US",
	}
}

// SeedDirectory inserts a directory row. The catalog is read-only in
// production code, so tests insert directly.
func SeedDirectory(t TestingTB, db *sql.DB, dir *model.Directory) {
	t.Helper()

	selectors, _ := json.Marshal(dir.FieldSelectors)
	success, _ := json.Marshal(dir.SuccessMarkers)
	errs, _ := json.Marshal(dir.ErrorMarkers)

	_, err := db.ExecContext(context.Background(), `
		INSERT INTO directories (
			id, name, submit_url, field_selectors, submit_selector,
			success_markers, error_markers, expects_captcha, requires_login,
			min_interval_seconds, rank, enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		dir.ID, dir.Name, dir.SubmitURL, selectors, dir.SubmitSelector,
		success, errs, dir.ExpectsCaptcha, dir.RequiresLogin,
		int(dir.MinInterval.Seconds()), dir.Rank, dir.Enabled,
	)
	if err != nil {
		t.Fatalf("Failed to seed directory %s: %v", dir.Name, err)
	}
}

// SeedProfile inserts a business-profile row.
func SeedProfile(t TestingTB, db *sql.DB, p *model.BusinessProfile) {
	t.Helper()

	_, err := db.ExecContext(context.Background(), `
		INSERT INTO business_profiles (
			customer_id, name, category, description, phone, email, website,
			address, city, region, postal_code, country
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.CustomerID, p.Name, p.Category, p.Description, p.Phone, p.Email,
		p.Website, p.Address, p.City, p.Region, p.PostalCode, p.Country,
	)
	if err != nil {
		t.Fatalf("Failed to seed profile %s: %v", p.CustomerID, err)
	}
}

// SubmitMessageJSON renders a valid queue message body for the given job.
func SubmitMessageJSON(jobID, customerID string, packageSize int) []byte {
	body, _ := json.Marshal(map[string]any{
		"job_id":       jobID,
		"customer_id":  customerID,
		"package_size": packageSize,
	})
	return body
}
