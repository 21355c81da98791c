package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/listpilot/listpilot/internal/domain/model"
)

// ProfileRepo serves business-profile snapshots by customer.
type ProfileRepo struct {
	DB *sql.DB
}

// NewProfileRepo constructs a ProfileRepo.
func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{DB: db}
}

// GetByCustomerID returns the current business profile for a customer.
func (r *ProfileRepo) GetByCustomerID(ctx context.Context, customerID string) (*model.BusinessProfile, error) {
	var p model.BusinessProfile
	err := r.DB.QueryRowContext(ctx, `
		SELECT customer_id, name, category, description, phone, email, website,
		       address, city, region, postal_code, country, updated_at
		FROM business_profiles
		WHERE customer_id = $1
	`, customerID).Scan(
		&p.CustomerID, &p.Name, &p.Category, &p.Description, &p.Phone, &p.Email,
		&p.Website, &p.Address, &p.City, &p.Region, &p.PostalCode, &p.Country,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get business profile: %w", err)
	}
	return &p, nil
}
