package experiment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dynbarrier/internal/config"
	"github.com/san-kum/dynbarrier/internal/metrics"
	"github.com/san-kum/dynbarrier/internal/scene"
	"github.com/san-kum/dynbarrier/internal/sim"
)

func TestExperimentRun(t *testing.T) {
	cfg := config.GetPreset("drop", "gentle")
	cfg.Duration = 0.25
	cfg.Snapshot = 5

	exp := New(cfg, nil)
	_, err := exp.Run(context.Background())
	assert.Error(t, err, "run before setup")

	require.NoError(t, exp.Setup(scene.NewRegistry(), metrics.Defaults()))
	assert.Equal(t, "drop", exp.Scene().Name)
	require.NotNil(t, exp.GetRunner())

	res, err := exp.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15, res.TicksTaken)
	assert.Len(t, res.Snapshots, 4)
	assert.Equal(t, 1.0, res.Metrics["feasibility"])
	assert.Contains(t, res.Metrics, "newton_iterations")
}

func TestExperimentSetupErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Scene = "maze"
	assert.Error(t, New(cfg, nil).Setup(scene.NewRegistry(), nil))

	cfg = config.DefaultConfig()
	cfg.Solver.Margin = 0.5
	assert.Error(t, New(cfg, nil).Setup(scene.NewRegistry(), nil))
}

func TestSweep(t *testing.T) {
	cfg := config.GetPreset("drop", "fast")
	cfg.Duration = 0.2
	values := []float64{1, 1.5, 2}

	points, err := Sweep(context.Background(), cfg, "margin", values, scene.NewRegistry(),
		func() []sim.Metric { return []sim.Metric{metrics.NewFeasibility()} }, nil)
	require.NoError(t, err)
	require.Len(t, points, 3)
	for i, p := range points {
		assert.Equal(t, values[i], p.Value)
		assert.Equal(t, 12, p.Result.TicksTaken)
		assert.Equal(t, 1.0, p.Result.Metrics["feasibility"])
	}

	_, err = Sweep(context.Background(), cfg, "warp", values, scene.NewRegistry(), nil, nil)
	assert.Error(t, err)
	_, err = Sweep(context.Background(), cfg, "margin", []float64{0.5}, scene.NewRegistry(), nil, nil)
	assert.Error(t, err)
	_, err = Sweep(context.Background(), cfg, "duration", values, scene.NewRegistry(), nil, nil)
	assert.Error(t, err)
}
