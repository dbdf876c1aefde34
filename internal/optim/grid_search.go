package optim

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/dynbarrier/internal/config"
	"github.com/san-kum/dynbarrier/internal/experiment"
)

// GridSearch tries every combination of solver settings and keeps the one
// minimizing a metric among runs that stayed feasible.
type GridSearch struct {
	keys   []string
	ranges [][]float64
}

func NewGridSearch(keys []string, ranges [][]float64) (*GridSearch, error) {
	if len(keys) != len(ranges) {
		return nil, fmt.Errorf("got %d keys but %d ranges", len(keys), len(ranges))
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, fmt.Errorf("empty range for %s", keys[i])
		}
	}
	return &GridSearch{keys: keys, ranges: ranges}, nil
}

// Search builds one experiment per grid point through build and returns the
// best settings with their metric value. Points whose setup or run fails, or
// which end with unresolved constraints, are skipped.
func (g *GridSearch) Search(
	ctx context.Context,
	base *config.Config,
	build func(cfg *config.Config) (*experiment.Experiment, error),
	metricName string,
) (map[string]float64, float64, error) {

	best := math.Inf(1)
	var bestParams map[string]float64

	if err := g.searchRecursive(ctx, 0, base, make(map[string]float64), build, metricName, &best, &bestParams); err != nil {
		return nil, 0, err
	}
	if bestParams == nil {
		return nil, 0, fmt.Errorf("no feasible grid point for %s", metricName)
	}
	return bestParams, best, nil
}

func (g *GridSearch) searchRecursive(
	ctx context.Context,
	depth int,
	base *config.Config,
	current map[string]float64,
	build func(*config.Config) (*experiment.Experiment, error),
	metricName string,
	best *float64,
	bestParams *map[string]float64,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == len(g.keys) {
		cfg := base.Clone()
		for k, v := range current {
			if err := cfg.Set(k, v); err != nil {
				return err
			}
		}
		exp, err := build(cfg)
		if err != nil {
			return nil
		}

		result, err := exp.Run(ctx)
		if err != nil {
			return nil
		}
		for _, r := range result.Reports {
			if len(r.Unresolved) > 0 {
				return nil
			}
		}

		val, ok := result.Metrics[metricName]
		if !ok {
			return fmt.Errorf("metric %s not recorded", metricName)
		}
		if val < *best {
			*best = val
			*bestParams = make(map[string]float64)
			for k, v := range current {
				(*bestParams)[k] = v
			}
		}
		return nil
	}

	key := g.keys[depth]
	for _, val := range g.ranges[depth] {
		next := make(map[string]float64)
		for k, v := range current {
			next[k] = v
		}
		next[key] = val

		if err := g.searchRecursive(ctx, depth+1, base, next, build, metricName, best, bestParams); err != nil {
			return err
		}
	}
	return nil
}
