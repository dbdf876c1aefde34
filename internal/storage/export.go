package storage

import (
	"encoding/json"
	"io"

	"github.com/san-kum/dynbarrier/internal/config"
	"github.com/san-kum/dynbarrier/internal/sim"
)

type ExportData struct {
	Scene      string              `json:"scene"`
	Duration   float64             `json:"duration"`
	Solver     config.SolverConfig `json:"solver"`
	Params     map[string]float64  `json:"params,omitempty"`
	Ticks      int                 `json:"ticks"`
	Incomplete int                 `json:"incomplete"`
	Times      []float64           `json:"times"`
	Residuals  []float64           `json:"residuals"`
	Betas      []float64           `json:"betas"`
	Newton     []int               `json:"newton"`
	Metrics    map[string]float64  `json:"metrics"`
}

// ExportJSON writes a run summary as indented JSON.
func ExportJSON(w io.Writer, cfg *config.Config, result *sim.Result) error {
	data := ExportData{
		Scene:      cfg.Scene,
		Duration:   cfg.Duration,
		Solver:     cfg.Solver,
		Params:     cfg.Params,
		Ticks:      result.TicksTaken,
		Incomplete: result.Incomplete,
		Times:      make([]float64, len(result.Reports)),
		Residuals:  result.Residuals(),
		Betas:      make([]float64, len(result.Reports)),
		Newton:     make([]int, len(result.Reports)),
		Metrics:    result.Metrics,
	}
	for i, r := range result.Reports {
		data.Times[i] = r.Time
		data.Betas[i] = r.Beta
		data.Newton[i] = r.NewtonIterations
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
