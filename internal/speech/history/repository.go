package history

import (
	"context"
	"errors"

	"github.com/pitabwire/frame/datastore/pool"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no record exists for a job id.
var ErrNotFound = errors.New("history: job not found")

const maxListLimit = 500

// ListFilter narrows a history listing. Zero values match everything.
type ListFilter struct {
	Role   string
	Status string
	Limit  int
	Offset int
}

// Store persists job records.
type Store interface {
	Save(ctx context.Context, rec *JobRecord) error
	GetByJobID(ctx context.Context, jobID string) (*JobRecord, error)
	List(ctx context.Context, f ListFilter) ([]JobRecord, error)
}

// Repository is the gorm-backed Store.
type Repository struct {
	pool pool.Pool
}

// NewRepository creates a new history repository.
func NewRepository(pool pool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) db(ctx context.Context, readOnly bool) *gorm.DB {
	return r.pool.DB(ctx, readOnly)
}

// Migrate creates or updates the history table.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db(ctx, false).AutoMigrate(&JobRecord{})
}

// Save inserts the record, ignoring a second write for the same job.
func (r *Repository) Save(ctx context.Context, rec *JobRecord) error {
	return r.db(ctx, false).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "job_id"}}, DoNothing: true}).
		Create(rec).Error
}

// GetByJobID returns the record for a job.
func (r *Repository) GetByJobID(ctx context.Context, jobID string) (*JobRecord, error) {
	var rec JobRecord
	err := r.db(ctx, true).Where("job_id = ?", jobID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns records newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]JobRecord, error) {
	var records []JobRecord
	q := r.db(ctx, true).Order("requested_at DESC")
	if f.Role != "" {
		q = q.Where("role = ?", f.Role)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	q = q.Limit(clampLimit(f.Limit))
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	err := q.Find(&records).Error
	return records, err
}

func clampLimit(n int) int {
	if n <= 0 {
		return 50
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
