package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/dynbarrier/internal/automation"
	"github.com/san-kum/dynbarrier/internal/config"
	"github.com/san-kum/dynbarrier/internal/experiment"
	"github.com/san-kum/dynbarrier/internal/metrics"
	"github.com/san-kum/dynbarrier/internal/optim"
	"github.com/san-kum/dynbarrier/internal/scene"
	"github.com/san-kum/dynbarrier/internal/storage"
)

var (
	dataDir  string
	logLevel string
	dt       float64
	duration float64
	margin   float64
	// --set solver overrides and --param scene parameters, key=value
	settings []string
	params   []string
	// Config file
	configFile string
	preset     string
	snapshot   int
	jsonOut    bool
	// Sweep
	sweepKey    string
	sweepValues string
	// Monte Carlo and tuning
	mcParams  string
	mcPerturb float64
	mcTrials  int
	mcSeed    int64
	grid      []string
	metric    string
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(20)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "dynbarrier",
		Short:        "barrier-method contact simulation lab",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".dynbarrier", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run [scene]",
		Short: "run simulation",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulation,
	}
	runCmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "timestep")
	runCmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "duration")
	runCmd.Flags().Float64Var(&margin, "margin", config.DefaultMargin, "line search margin")
	runCmd.Flags().StringArrayVar(&settings, "set", nil, "solver setting key=value")
	runCmd.Flags().StringArrayVar(&params, "param", nil, "scene parameter key=value")
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	runCmd.Flags().IntVar(&snapshot, "snapshot", 0, "store positions every n ticks")
	runCmd.Flags().BoolVar(&jsonOut, "json", false, "print the run as JSON instead of saving it")

	presetsCmd := &cobra.Command{
		Use:   "presets [scene]",
		Short: "list available presets for a scene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for scene: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	scenesCmd := &cobra.Command{
		Use:   "scenes",
		Short: "list scenes and their parameters",
		RunE:  listScenes,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot solver history of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep [scene]",
		Short: "run a scene once per value of a solver setting",
		Args:  cobra.ExactArgs(1),
		RunE:  runSweep,
	}
	sweepCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	sweepCmd.Flags().StringVar(&sweepKey, "key", "margin", "solver setting to vary")
	sweepCmd.Flags().StringVar(&sweepValues, "values", "1,1.25,2", "comma separated values")
	sweepCmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "duration")

	batchCmd := &cobra.Command{
		Use:   "batch [scenario.yaml]",
		Short: "run and save every step of a scenario file",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}

	monteCarloCmd := &cobra.Command{
		Use:   "montecarlo [scene]",
		Short: "run randomly perturbed copies of a scene",
		Args:  cobra.ExactArgs(1),
		RunE:  runMonteCarlo,
	}
	monteCarloCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	monteCarloCmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "duration")
	monteCarloCmd.Flags().StringVar(&mcParams, "params", "height", "comma separated scene parameters to perturb")
	monteCarloCmd.Flags().Float64Var(&mcPerturb, "perturb", 0.2, "relative perturbation")
	monteCarloCmd.Flags().IntVar(&mcTrials, "trials", 16, "number of trials")
	monteCarloCmd.Flags().Int64Var(&mcSeed, "seed", time.Now().UnixNano(), "random seed")

	tuneCmd := &cobra.Command{
		Use:   "tune [scene]",
		Short: "grid search solver settings",
		Args:  cobra.ExactArgs(1),
		RunE:  runTune,
	}
	tuneCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	tuneCmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "duration")
	tuneCmd.Flags().StringArrayVar(&grid, "grid", []string{"margin=1.1,1.25,2"}, "setting and its values, key=v1,v2")
	tuneCmd.Flags().StringVar(&metric, "metric", "newton_iterations", "metric to minimize")

	rootCmd.AddCommand(runCmd, presetsCmd, scenesCmd, listCmd, plotCmd, exportCmd, sweepCmd, batchCmd, monteCarloCmd, tuneCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// loadConfig resolves preset, config file and flags, in that order of
// increasing precedence.
func loadConfig(cmd *cobra.Command, name string) (*config.Config, string, error) {
	cfg := config.DefaultConfig()
	cfg.Scene = name
	if preset != "" {
		cfg = config.GetPreset(name, preset)
		if cfg == nil {
			return nil, "", fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(name))
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		if loaded.Scene != name {
			return nil, "", fmt.Errorf("config is for scene %s, not %s", loaded.Scene, name)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("dt") {
		cfg.Solver.Dt = dt
	}
	if flags.Changed("time") {
		cfg.Duration = duration
	}
	if flags.Changed("margin") {
		cfg.Solver.Margin = margin
	}
	if flags.Changed("snapshot") {
		cfg.Snapshot = snapshot
	}
	for _, kv := range settings {
		key, v, err := parsePair(kv)
		if err != nil {
			return nil, "", err
		}
		if err := cfg.Set(key, v); err != nil {
			return nil, "", err
		}
	}
	for _, kv := range params {
		key, v, err := parsePair(kv)
		if err != nil {
			return nil, "", err
		}
		if cfg.Params == nil {
			cfg.Params = make(map[string]float64)
		}
		cfg.Params[key] = v
	}
	return cfg, preset, nil
}

func parsePair(kv string) (string, float64, error) {
	key, raw, ok := strings.Cut(kv, "=")
	if !ok || key == "" {
		return "", 0, fmt.Errorf("expected key=value, got %q", kv)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%s: %w", key, err)
	}
	return key, v, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	name := args[0]

	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, presetName, err := loadConfig(cmd, name)
	if err != nil {
		return err
	}

	exp := experiment.New(cfg, logger)
	if err := exp.Setup(scene.NewRegistry(), metrics.Defaults()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !jsonOut {
		fmt.Printf("running %s simulation...\n", name)
	}
	start := time.Now()
	result, err := exp.Run(ctx)
	if err != nil {
		if result == nil {
			return err
		}
		fmt.Fprintln(os.Stderr, warnStyle.Render(err.Error()))
	}
	elapsed := time.Since(start)

	if jsonOut {
		return storage.ExportJSON(os.Stdout, cfg, result)
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(cfg, presetName, result)
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render("run " + runID))
	printField("completed in", elapsed.Round(time.Millisecond).String())
	printField("ticks", strconv.Itoa(result.TicksTaken))
	status := goodStyle.Render("0")
	if result.Incomplete > 0 {
		status = warnStyle.Render(strconv.Itoa(result.Incomplete))
	}
	fmt.Println(labelStyle.Render("incomplete ticks") + status)
	fmt.Println()
	fmt.Println(headerStyle.Render("metrics"))
	names := make([]string, 0, len(result.Metrics))
	for n := range result.Metrics {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		printField(n, fmt.Sprintf("%.6g", result.Metrics[n]))
	}
	return nil
}

func printField(label, value string) {
	fmt.Println(labelStyle.Render(label) + valueStyle.Render(value))
}

func listScenes(cmd *cobra.Command, args []string) error {
	reg := scene.NewRegistry()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCENE\tPARAMETERS\tPRESETS")
	for _, name := range reg.List() {
		defaults, err := reg.Defaults(name)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(defaults))
		for k := range defaults {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%g", k, defaults[k])
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, strings.Join(parts, " "), strings.Join(config.ListPresets(name), ","))
	}
	return w.Flush()
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCENE\tPRESET\tTIME\tDURATION\tDT\tTICKS\tINCOMPLETE")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2fs\t%.4fs\t%d\t%d\n",
			run.ID,
			run.Scene,
			run.Preset,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Duration,
			run.Solver.Dt,
			run.Ticks,
			run.Incomplete,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runID, err := st.Resolve(args[0])
	if err != nil {
		return err
	}
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	ticks, err := st.LoadTicks(runID)
	if err != nil {
		return err
	}
	if len(ticks) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("scene: %s\n", meta.Scene)
	fmt.Printf("ticks: %d\n\n", len(ticks))

	series := []struct {
		caption string
		value   func(storage.TickRecord) float64
	}{
		{"residual", func(t storage.TickRecord) float64 { return t.Residual }},
		{"beta", func(t storage.TickRecord) float64 { return t.Beta }},
		{"min gap", func(t storage.TickRecord) float64 { return t.MinGap }},
		{"newton iterations", func(t storage.TickRecord) float64 { return float64(t.Newton) }},
	}
	for _, s := range series {
		data := make([]float64, 0, len(ticks))
		for _, t := range ticks {
			v := s.value(t)
			// min gap is +Inf on ticks without candidates
			if math.IsInf(v, 0) {
				continue
			}
			data = append(data, v)
		}
		if len(data) == 0 {
			continue
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(s.caption),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runID, err := st.Resolve(args[0])
	if err != nil {
		return err
	}
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	return writeIndented(os.Stdout, meta)
}

func runSweep(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}

	values, err := parseList(sweepValues)
	if err != nil {
		return err
	}

	points, err := experiment.Sweep(context.Background(), cfg, sweepKey, values, scene.NewRegistry(), metrics.Defaults, logger)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tTICKS\tINCOMPLETE\tNEWTON\tPCG\tFEASIBILITY\tMIN_GAP\n", strings.ToUpper(sweepKey))
	for _, p := range points {
		m := p.Result.Metrics
		fmt.Fprintf(w, "%g\t%d\t%d\t%.2f\t%.2f\t%.3f\t%.4g\n",
			p.Value,
			p.Result.TicksTaken,
			p.Result.Incomplete,
			m["newton_iterations"],
			m["pcg_iterations"],
			m["feasibility"],
			p.Result.MinGap(),
		)
	}
	return w.Flush()
}

func writeIndented(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseList(raw string) ([]float64, error) {
	var values []float64
	for _, part := range strings.Split(raw, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", part, err)
		}
		values = append(values, v)
	}
	return values, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	fmt.Println(headerStyle.Render("scenario " + sc.Name))
	results, runErr := automation.RunScenario(context.Background(), sc, scene.NewRegistry(), logger)
	for i, r := range results {
		runID, err := st.Save(r.Config, sc.Steps[i].Preset, r.Result)
		if err != nil {
			return err
		}
		printField(r.Name, runID)
	}
	return runErr
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}

	mc := &automation.MonteCarloConfig{
		Base:         cfg,
		Params:       strings.Split(mcParams, ","),
		Perturbation: mcPerturb,
		NumTrials:    mcTrials,
		Seed:         mcSeed,
	}
	results, err := automation.RunMonteCarlo(context.Background(), mc, scene.NewRegistry(), logger)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TRIAL\t%s\tFEASIBLE\tMIN_GAP\tNEWTON\n", strings.ToUpper(strings.Join(mc.Params, "\t")))
	for _, r := range results {
		row := []string{strconv.Itoa(r.TrialID)}
		for _, p := range mc.Params {
			row = append(row, fmt.Sprintf("%.4g", r.Params[p]))
		}
		row = append(row, strconv.FormatBool(r.Feasible), fmt.Sprintf("%.4g", r.MinGap), strconv.Itoa(r.Newton))
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	feasible, infeasible := automation.MonteCarloStats(results)
	style := goodStyle
	if infeasible > 0 {
		style = warnStyle
	}
	fmt.Println(style.Render(fmt.Sprintf("%d/%d trials feasible", feasible, feasible+infeasible)))
	return nil
}

func runTune(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(grid))
	ranges := make([][]float64, 0, len(grid))
	for _, g := range grid {
		key, raw, ok := strings.Cut(g, "=")
		if !ok {
			return fmt.Errorf("expected key=v1,v2, got %q", g)
		}
		values, err := parseList(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		keys = append(keys, key)
		ranges = append(ranges, values)
	}
	search, err := optim.NewGridSearch(keys, ranges)
	if err != nil {
		return err
	}

	reg := scene.NewRegistry()
	best, value, err := search.Search(context.Background(), cfg, func(c *config.Config) (*experiment.Experiment, error) {
		exp := experiment.New(c, logger)
		if err := exp.Setup(reg, metrics.Defaults()); err != nil {
			return nil, err
		}
		return exp, nil
	}, metric)
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render("best settings"))
	for _, k := range keys {
		printField(k, fmt.Sprintf("%g", best[k]))
	}
	printField(metric, fmt.Sprintf("%.6g", value))
	return nil
}
