package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/san-kum/dynbarrier/internal/config"
	"github.com/san-kum/dynbarrier/internal/sim"
)

const (
	metadataFile  = "metadata.json"
	ticksFile     = "ticks.csv"
	snapshotsFile = "snapshots.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID         string              `json:"id"`
	Scene      string              `json:"scene"`
	Preset     string              `json:"preset,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
	Duration   float64             `json:"duration"`
	Solver     config.SolverConfig `json:"solver"`
	Params     map[string]float64  `json:"params,omitempty"`
	Ticks      int                 `json:"ticks"`
	Incomplete int                 `json:"incomplete"`
	Metrics    map[string]float64  `json:"metrics"`
}

// TickRecord is one row of ticks.csv.
type TickRecord struct {
	Tick               int
	Time               float64
	Newton             int
	Outer              int
	PCG                int
	Beta               float64
	Residual           float64
	Energy             float64
	MinGap             float64
	Active             int
	LineSearchFailures int
	Converged          bool
	Unresolved         int
}

var tickHeader = []string{
	"tick", "time", "newton", "outer", "pcg", "beta", "residual", "energy",
	"min_gap", "active", "line_search_failures", "converged", "unresolved",
}

// Save writes a run under a fresh id and returns the id.
func (s *Store) Save(cfg *config.Config, preset string, result *sim.Result) (string, error) {
	runID := fmt.Sprintf("%s_%s", cfg.Scene, uuid.NewString())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:         runID,
		Scene:      cfg.Scene,
		Preset:     preset,
		Timestamp:  time.Now(),
		Duration:   cfg.Duration,
		Solver:     cfg.Solver,
		Params:     cfg.Params,
		Ticks:      result.TicksTaken,
		Incomplete: result.Incomplete,
		Metrics:    result.Metrics,
	}
	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := writeTicks(filepath.Join(runDir, ticksFile), result); err != nil {
		return "", err
	}
	if len(result.Snapshots) > 0 {
		if err := writeSnapshots(filepath.Join(runDir, snapshotsFile), result.Snapshots); err != nil {
			return "", err
		}
	}
	return runID, nil
}

func writeJSON(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTicks(path string, result *sim.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(tickHeader); err != nil {
		return err
	}
	for i, r := range result.Reports {
		row := []string{
			strconv.Itoa(i),
			formatFloat(r.Time),
			strconv.Itoa(r.NewtonIterations),
			strconv.Itoa(r.OuterIterations),
			strconv.Itoa(r.PCGIterations),
			formatFloat(r.Beta),
			formatFloat(r.Residual),
			formatFloat(r.Energy),
			formatFloat(r.MinGap),
			strconv.Itoa(r.ActiveConstraints),
			strconv.Itoa(r.LineSearchFailures),
			strconv.FormatBool(r.Converged),
			strconv.Itoa(len(r.Unresolved)),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeSnapshots(path string, snaps []sim.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"tick", "time", "node", "x", "y", "z"}); err != nil {
		return err
	}
	for _, snap := range snaps {
		for node, p := range snap.Positions {
			row := []string{
				strconv.Itoa(snap.Tick),
				formatFloat(snap.Time),
				strconv.Itoa(node),
				formatFloat(p[0]),
				formatFloat(p[1]),
				formatFloat(p[2]),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// List returns every readable run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Resolve expands a unique run id prefix to the full id.
func (s *Store) Resolve(prefix string) (string, error) {
	runs, err := s.List()
	if err != nil {
		return "", err
	}
	match := ""
	for _, r := range runs {
		if r.ID == prefix {
			return r.ID, nil
		}
		if strings.HasPrefix(r.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("ambiguous run id prefix: %s", prefix)
			}
			match = r.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("run not found: %s", prefix)
	}
	return match, nil
}

func (s *Store) LoadTicks(runID string) ([]TickRecord, error) {
	records, err := readCSV(filepath.Join(s.baseDir, runID, ticksFile))
	if err != nil {
		return nil, err
	}

	ticks := make([]TickRecord, 0, len(records))
	for i, rec := range records {
		if len(rec) != len(tickHeader) {
			return nil, fmt.Errorf("%s row %d: expected %d fields, got %d", ticksFile, i+1, len(tickHeader), len(rec))
		}
		p := parser{row: rec}
		t := TickRecord{
			Tick:               p.integer(0),
			Time:               p.number(1),
			Newton:             p.integer(2),
			Outer:              p.integer(3),
			PCG:                p.integer(4),
			Beta:               p.number(5),
			Residual:           p.number(6),
			Energy:             p.number(7),
			MinGap:             p.number(8),
			Active:             p.integer(9),
			LineSearchFailures: p.integer(10),
			Converged:          p.boolean(11),
			Unresolved:         p.integer(12),
		}
		if p.err != nil {
			return nil, fmt.Errorf("%s row %d: %w", ticksFile, i+1, p.err)
		}
		ticks = append(ticks, t)
	}
	return ticks, nil
}

// LoadSnapshots reads snapshots.csv. A run saved without snapshots
// yields none.
func (s *Store) LoadSnapshots(runID string) ([]sim.Snapshot, error) {
	records, err := readCSV(filepath.Join(s.baseDir, runID, snapshotsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var snaps []sim.Snapshot
	for i, rec := range records {
		if len(rec) != 6 {
			return nil, fmt.Errorf("%s row %d: expected 6 fields, got %d", snapshotsFile, i+1, len(rec))
		}
		p := parser{row: rec}
		tick, tm, node := p.integer(0), p.number(1), p.integer(2)
		pos := mgl64.Vec3{p.number(3), p.number(4), p.number(5)}
		if p.err != nil {
			return nil, fmt.Errorf("%s row %d: %w", snapshotsFile, i+1, p.err)
		}
		if len(snaps) == 0 || snaps[len(snaps)-1].Tick != tick {
			snaps = append(snaps, sim.Snapshot{Tick: tick, Time: tm})
		}
		last := &snaps[len(snaps)-1]
		if node != len(last.Positions) {
			return nil, fmt.Errorf("%s row %d: node %d out of order", snapshotsFile, i+1, node)
		}
		last.Positions = append(last.Positions, pos)
	}
	return snaps, nil
}

// readCSV returns every record after the header.
func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return [][]string{}, nil
	}
	return records[1:], nil
}

// parser keeps the first conversion error of a row.
type parser struct {
	row []string
	err error
}

func (p *parser) number(i int) float64 {
	v, err := strconv.ParseFloat(p.row[i], 64)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *parser) integer(i int) int {
	v, err := strconv.Atoi(p.row[i])
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *parser) boolean(i int) bool {
	v, err := strconv.ParseBool(p.row[i])
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}
