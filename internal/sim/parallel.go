package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/san-kum/dynbarrier/internal/integrator"
)

// Ensemble runs independent systems concurrently. Each system gets its
// own runner, and with it its own integrator.
type Ensemble struct {
	newRunner func() *Runner
}

func NewEnsemble(newRunner func() *Runner) *Ensemble {
	return &Ensemble{newRunner: newRunner}
}

func (e *Ensemble) Run(ctx context.Context, systems []*integrator.System, cfg Config) ([]*Result, error) {
	results := make([]*Result, len(systems))
	errs := make([]error, len(systems))

	var wg sync.WaitGroup
	for i := range systems {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = e.newRunner().Run(ctx, systems[idx], cfg)
		}(i)
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return results, fmt.Errorf("system %d: %w", i, err)
		}
	}

	return results, nil
}
