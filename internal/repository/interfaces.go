package repository

import (
	"context"

	"go-spot-counter/pkg/models"
)

// RunRepository keeps summaries of recent counting runs
type RunRepository interface {
	// Save stores or replaces a run summary
	Save(ctx context.Context, run *models.CountResult) error

	// Get retrieves a run by id
	Get(ctx context.Context, id string) (*models.CountResult, error)

	// List returns up to limit runs, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*models.CountResult, error)
}
