package optim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dynbarrier/internal/config"
	"github.com/san-kum/dynbarrier/internal/experiment"
	"github.com/san-kum/dynbarrier/internal/metrics"
	"github.com/san-kum/dynbarrier/internal/scene"
)

func build(cfg *config.Config) (*experiment.Experiment, error) {
	exp := experiment.New(cfg, nil)
	if err := exp.Setup(scene.NewRegistry(), metrics.Defaults()); err != nil {
		return nil, err
	}
	return exp, nil
}

func TestGridSearch(t *testing.T) {
	base := config.GetPreset("drop", "gentle")
	base.Duration = 0.2

	g, err := NewGridSearch([]string{"margin", "max_newton"}, [][]float64{{1.25, 2}, {8, 16}})
	require.NoError(t, err)

	params, best, err := g.Search(context.Background(), base, build, "newton_iterations")
	require.NoError(t, err)
	assert.Contains(t, params, "margin")
	assert.Contains(t, params, "max_newton")
	assert.Greater(t, best, 0.0)
}

func TestGridSearch_SkipsInvalidPoints(t *testing.T) {
	base := config.GetPreset("drop", "gentle")
	base.Duration = 0.1

	g, err := NewGridSearch([]string{"margin"}, [][]float64{{0.5, 1.5}})
	require.NoError(t, err)

	params, _, err := g.Search(context.Background(), base, build, "newton_iterations")
	require.NoError(t, err)
	assert.Equal(t, 1.5, params["margin"])

	g, _ = NewGridSearch([]string{"margin"}, [][]float64{{0.5}})
	_, _, err = g.Search(context.Background(), base, build, "newton_iterations")
	assert.Error(t, err)
}

func TestGridSearch_Errors(t *testing.T) {
	_, err := NewGridSearch([]string{"margin"}, nil)
	assert.Error(t, err)
	_, err = NewGridSearch([]string{"margin"}, [][]float64{{}})
	assert.Error(t, err)

	base := config.GetPreset("drop", "gentle")
	base.Duration = 0.1
	g, _ := NewGridSearch([]string{"margin"}, [][]float64{{1.5}})
	_, _, err = g.Search(context.Background(), base, build, "smoothness")
	assert.Error(t, err)

	g, _ = NewGridSearch([]string{"warp"}, [][]float64{{1}})
	_, _, err = g.Search(context.Background(), base, build, "newton_iterations")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = g.Search(ctx, base, build, "newton_iterations")
	assert.ErrorIs(t, err, context.Canceled)
}
