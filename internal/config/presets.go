package config

import "sort"

func preset(scene string, duration float64, params map[string]float64, tweak func(*SolverConfig)) *Config {
	cfg := DefaultConfig()
	cfg.Scene = scene
	cfg.Duration = duration
	cfg.Params = params
	if tweak != nil {
		tweak(&cfg.Solver)
	}
	return cfg
}

func wideMargin(s *SolverConfig) { s.Margin = 2 }

func fixedBeta(s *SolverConfig) {
	s.BetaMode = "fixed"
	s.BetaStep = 0.25
	s.AllowEarlyExit = false
}

func moreNewton(s *SolverConfig) { s.MaxNewton = 32 }

func clampStiffness(s *SolverConfig) {
	s.MinStiffness = 10
	s.MaxStiffness = 1e5
}

var Presets = map[string]map[string]*Config{
	"drop": {
		"gentle":     preset("drop", 2, map[string]float64{"height": 0.1}, nil),
		"fast":       preset("drop", 2, map[string]float64{"height": 0.3, "speed": 8}, nil),
		"tight":      preset("drop", 2, map[string]float64{"height": 0.3, "speed": 8, "gap": 0.005}, wideMargin),
		"fixed_beta": preset("drop", 2, map[string]float64{"speed": 4}, fixedBeta),
	},
	"slide": {
		"sticky":   preset("slide", 1, map[string]float64{"mu": 1}, nil),
		"slippery": preset("slide", 1, map[string]float64{"mu": 0.05}, nil),
	},
	"chain": {
		"short": preset("chain", 3, map[string]float64{"nodes": 5}, nil),
		"long":  preset("chain", 3, map[string]float64{"nodes": 20, "stiffness": 1000}, moreNewton),
	},
	"sheet": {
		"loose": preset("sheet", 2, map[string]float64{"stretch": 1.3, "compression": 0.7}, nil),
		"taut":  preset("sheet", 2, map[string]float64{"stretch": 1.02, "compression": 0.98, "band": 0.01}, nil),
	},
	"collide": {
		"head_on":  preset("collide", 1, map[string]float64{"speed": 6}, nil),
		"extended": preset("collide", 1, map[string]float64{"speed": 6, "extended": 1}, nil),
	},
	"cross": {
		"head_on":  preset("cross", 1, map[string]float64{"speed": 6}, nil),
		"extended": preset("cross", 1, map[string]float64{"speed": 6, "extended": 1}, nil),
	},
	"ramp": {
		"steep":   preset("ramp", 1, map[string]float64{"angle": 35}, nil),
		"rough":   preset("ramp", 1, map[string]float64{"angle": 35, "mu": 0.9}, nil),
		"clamped": preset("ramp", 1, map[string]float64{"speed": 2}, clampStiffness),
	},
}

// GetPreset returns a copy of a preset, or nil when either name is unknown.
func GetPreset(scene, name string) *Config {
	scenePresets, ok := Presets[scene]
	if !ok {
		return nil
	}
	cfg, ok := scenePresets[name]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets(scene string) []string {
	scenePresets, ok := Presets[scene]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(scenePresets))
	for name := range scenePresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
