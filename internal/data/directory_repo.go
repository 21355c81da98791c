package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/listpilot/listpilot/internal/domain/model"
)

// DirectoryRepo serves the target-directory catalog.
type DirectoryRepo struct {
	DB *sql.DB
}

// NewDirectoryRepo constructs a DirectoryRepo.
func NewDirectoryRepo(db *sql.DB) *DirectoryRepo {
	return &DirectoryRepo{DB: db}
}

const directoryColumns = `
  id,
  name,
  submit_url,
  field_selectors,
  submit_selector,
  success_markers,
  error_markers,
  expects_captcha,
  requires_login,
  min_interval_seconds,
  rank,
  enabled,
  created_at
`

func scanDirectory(scanner jobRowScanner) (*model.Directory, error) {
	var (
		dir                          model.Directory
		fieldSelectors               []byte
		successMarkers, errorMarkers []byte
		minIntervalSeconds           int
	)
	if err := scanner.Scan(
		&dir.ID,
		&dir.Name,
		&dir.SubmitURL,
		&fieldSelectors,
		&dir.SubmitSelector,
		&successMarkers,
		&errorMarkers,
		&dir.ExpectsCaptcha,
		&dir.RequiresLogin,
		&minIntervalSeconds,
		&dir.Rank,
		&dir.Enabled,
		&dir.CreatedAt,
	); err != nil {
		return nil, err
	}

	if len(fieldSelectors) > 0 {
		if err := json.Unmarshal(fieldSelectors, &dir.FieldSelectors); err != nil {
			return nil, fmt.Errorf("decode field_selectors for %s: %w", dir.Name, err)
		}
	}
	if len(successMarkers) > 0 {
		if err := json.Unmarshal(successMarkers, &dir.SuccessMarkers); err != nil {
			return nil, fmt.Errorf("decode success_markers for %s: %w", dir.Name, err)
		}
	}
	if len(errorMarkers) > 0 {
		if err := json.Unmarshal(errorMarkers, &dir.ErrorMarkers); err != nil {
			return nil, fmt.Errorf("decode error_markers for %s: %w", dir.Name, err)
		}
	}
	dir.MinInterval = time.Duration(minIntervalSeconds) * time.Second
	return &dir, nil
}

// ListEnabled returns enabled directories ordered by rank, bounded by limit.
// This is the ordered fan-out list the orchestrator slices by package_size.
func (r *DirectoryRepo) ListEnabled(ctx context.Context, limit int) ([]*model.Directory, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+directoryColumns+`
		FROM directories
		WHERE enabled
		ORDER BY rank ASC, name ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list directories: %w", err)
	}
	defer rows.Close()

	var dirs []*model.Directory
	for rows.Next() {
		dir, scanErr := scanDirectory(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan directory: %w", scanErr)
		}
		dirs = append(dirs, dir)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list directories: %w", err)
	}
	return dirs, nil
}

// GetByName retrieves one directory by its unique name.
func (r *DirectoryRepo) GetByName(ctx context.Context, name string) (*model.Directory, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+directoryColumns+` FROM directories WHERE name = $1`, name)
	dir, err := scanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDirectoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get directory: %w", err)
	}
	return dir, nil
}
