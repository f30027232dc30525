package repository

import (
	"context"
	"sync"

	"go-spot-counter/pkg/models"
)

// MemoryRunRepository holds the most recent runs in memory, evicting the
// oldest once capacity is reached. Nothing survives a restart.
type MemoryRunRepository struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	runs     map[string]*models.CountResult
}

// NewMemoryRunRepository creates a repository; capacity <= 0 means 100
func NewMemoryRunRepository(capacity int) *MemoryRunRepository {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryRunRepository{
		capacity: capacity,
		runs:     make(map[string]*models.CountResult, capacity),
	}
}

func (r *MemoryRunRepository) Save(ctx context.Context, run *models.CountResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run == nil || run.RunID == "" {
		return ErrInvalidRun
	}

	summary := run.Summary()
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.RunID]; !exists {
		r.order = append(r.order, run.RunID)
		if len(r.order) > r.capacity {
			oldest := r.order[0]
			r.order = r.order[1:]
			delete(r.runs, oldest)
		}
	}
	r.runs[run.RunID] = summary
	return nil
}

func (r *MemoryRunRepository) Get(ctx context.Context, id string) (*models.CountResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (r *MemoryRunRepository) List(ctx context.Context, limit int) ([]*models.CountResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*models.CountResult, 0, n)
	for i := len(r.order) - 1; i >= 0 && len(out) < n; i-- {
		cp := *r.runs[r.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}
