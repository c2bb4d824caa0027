package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/san-kum/batchsim/internal/assets"
	"github.com/san-kum/batchsim/internal/config"
	"github.com/san-kum/batchsim/internal/device"
	"github.com/san-kum/batchsim/internal/export"
	"github.com/san-kum/batchsim/internal/logging"
	"github.com/san-kum/batchsim/internal/manager"
	"github.com/san-kum/batchsim/internal/server"
	"github.com/san-kum/batchsim/internal/storage"
	"github.com/san-kum/batchsim/internal/viz"
)

func main() {
	logger := logging.New(os.Stderr, config.DefaultLogLevel, "batchsim")
	if err := newRootCmd().Execute(); err != nil {
		logger.Error().Err(err).Msg("batchsim failed")
		if kind, ok := manager.KindOf(err); ok {
			logger.Error().Str("kind", kind.String()).Msg("initialization is fatal")
		}
		os.Exit(1)
	}
}

// app holds the root flags and the logger every command shares.
type app struct {
	runsDir  string
	logLevel string
	log      zerolog.Logger
}

func (a *app) setLogger(cmd *cobra.Command, level string) {
	a.log = logging.New(cmd.ErrOrStderr(), level, "batchsim")
}

func (a *app) store() *storage.Store { return storage.New(a.runsDir) }

func newRootCmd() *cobra.Command {
	a := &app{log: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:           "batchsim",
		Short:         "batched multi-world simulation manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.setLogger(cmd, a.logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.runsDir, "runs", ".batchsim", "run storage directory")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", config.DefaultLogLevel, "log level (overrides log_level from config)")

	rootCmd.AddCommand(
		newRunCmd(a),
		newAssetsCmd(),
		newListCmd(a),
		newPlotCmd(a),
		newSnapshotCmd(a),
		newExportCmd(a),
		newPresetsCmd(),
		newLiveCmd(a),
		newConfigCmd(a),
		newServeCmd(a),
	)
	return rootCmd
}

// configFlags are the manager configuration flags shared by the commands
// that build a manager.
type configFlags struct {
	file         string
	preset       string
	numWorlds    int
	execMode     string
	deviceID     int
	renderWidth  int
	renderHeight int
	debugCompile bool
	assetDir     string
	emulate      bool
	workers      int
}

func (c *configFlags) bind(cmd *cobra.Command) {
	def := config.DefaultConfig()
	f := cmd.Flags()
	f.StringVar(&c.file, "config", "", "config file path (yaml or toml)")
	f.StringVar(&c.preset, "preset", "", "use preset configuration")
	f.IntVar(&c.numWorlds, "worlds", def.NumWorlds, "number of worlds")
	f.StringVar(&c.execMode, "mode", string(def.ExecMode), "execution mode (host, device)")
	f.IntVar(&c.deviceID, "device", def.DeviceID, "device id")
	f.IntVar(&c.renderWidth, "width", def.RenderWidth, "render width")
	f.IntVar(&c.renderHeight, "height", def.RenderHeight, "render height")
	f.BoolVar(&c.debugCompile, "debug-compile", def.DebugCompile, "compile the step graph without optimization")
	f.StringVar(&c.assetDir, "assets", def.DataDir, "asset directory")
	f.BoolVar(&c.emulate, "emulate", def.Emulate, "run device mode on the host emulator")
	f.IntVar(&c.workers, "workers", def.Workers, "emulator workers (0 = all cpus)")
}

// resolve layers defaults, preset, config file and explicitly set flags,
// in that order, then rebuilds the app logger at the resulting level.
func (c *configFlags) resolve(a *app, cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if c.preset != "" {
		cfg = config.GetPreset(c.preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", c.preset, config.ListPresets())
		}
	}

	if c.file != "" {
		loaded, err := config.Load(c.file)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("worlds") {
		cfg.NumWorlds = c.numWorlds
	}
	if changed("mode") {
		cfg.ExecMode = config.ExecMode(c.execMode)
	}
	if changed("device") {
		cfg.DeviceID = c.deviceID
	}
	if changed("width") {
		cfg.RenderWidth = c.renderWidth
	}
	if changed("height") {
		cfg.RenderHeight = c.renderHeight
	}
	if changed("debug-compile") {
		cfg.DebugCompile = c.debugCompile
	}
	if changed("assets") {
		cfg.DataDir = c.assetDir
	}
	if changed("emulate") {
		cfg.Emulate = c.emulate
	}
	if changed("workers") {
		cfg.Workers = c.workers
	}
	if changed("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = a.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a.setLogger(cmd, cfg.LogLevel)
	return cfg, nil
}

// hostWriter is implemented by runtimes whose memory the host can write.
type hostWriter interface {
	Write(addr device.Address, data []byte) error
}

func requestResets(m *manager.Manager) error {
	w, ok := m.Runtime().(hostWriter)
	if !ok {
		return fmt.Errorf("runtime %s does not accept host writes", m.BackendName())
	}
	reset, err := m.ResetTensor()
	if err != nil {
		return err
	}
	flags := make([]byte, reset.SizeBytes())
	for i := 0; i < len(flags); i += 4 {
		binary.LittleEndian.PutUint32(flags[i:], 1)
	}
	return w.Write(reset.Addr, flags)
}

type runOptions struct {
	cfg        configFlags
	steps      int
	resetEvery int
	listenAddr string
	exportJSON bool
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "step a batch of worlds and store the run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(a, cmd, opts)
		},
	}
	opts.cfg.bind(cmd)
	cmd.Flags().IntVar(&opts.steps, "steps", 100, "number of steps")
	cmd.Flags().IntVar(&opts.resetEvery, "reset-every", 0, "request a reset of every world each N steps (0 = never)")
	cmd.Flags().StringVar(&opts.listenAddr, "listen", "", "serve metrics and status on this address while running")
	cmd.Flags().BoolVar(&opts.exportJSON, "json", false, "print the stored run as json")
	return cmd
}

func runBatch(a *app, cmd *cobra.Command, opts *runOptions) error {
	if opts.steps < 0 || opts.resetEvery < 0 {
		return fmt.Errorf("steps and reset-every must not be negative")
	}
	cfg, err := opts.cfg.resolve(a, cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	latencies := make([]float64, 0, opts.steps)
	record := manager.ObserverFunc(func(_ uint64, elapsed time.Duration) {
		latencies = append(latencies, elapsed.Seconds())
	})
	board := server.NewStatusBoard()

	m, err := manager.New(ctx, cfg,
		manager.WithLogger(a.log),
		manager.WithObserver(record),
		manager.WithObserver(board.Observer()),
	)
	if err != nil {
		return err
	}
	defer m.Close()
	board.Publish(server.StatusOf(m))

	st := a.store()
	if err := st.Init(); err != nil {
		return err
	}

	if opts.listenAddr != "" {
		srv := server.New(opts.listenAddr, st, board, a.log)
		go func() {
			if err := srv.Run(ctx); err != nil {
				a.log.Error().Err(err).Msg("status server failed")
			}
		}()
	}

	canReset := true
	for i := 0; i < opts.steps; i++ {
		if ctx.Err() != nil {
			a.log.Warn().Int("step", i).Msg("interrupted")
			break
		}
		if opts.resetEvery > 0 && i%opts.resetEvery == 0 && canReset {
			if err := requestResets(m); err != nil {
				a.log.Warn().Err(err).Msg("resets disabled")
				canReset = false
			}
		}
		if err := m.Step(); err != nil {
			return err
		}
	}

	meta := storage.RunMetadata{
		ManagerID:    m.ID(),
		Backend:      m.BackendName(),
		ExecMode:     string(cfg.ExecMode),
		DeviceID:     cfg.DeviceID,
		NumWorlds:    cfg.NumWorlds,
		RenderWidth:  cfg.RenderWidth,
		RenderHeight: cfg.RenderHeight,
		Ticks:        m.Ticks(),
	}
	runID, err := st.Save(meta, latencies)
	if err != nil {
		return err
	}
	a.log.Info().Str("run", runID).Int("steps", len(latencies)).Msg("run saved")

	out := cmd.OutOrStdout()
	if opts.exportJSON {
		return st.ExportJSON(out, runID)
	}

	saved, err := st.Load(runID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "run\t%s\n", saved.ID)
	fmt.Fprintf(w, "backend\t%s\n", saved.Backend)
	fmt.Fprintf(w, "worlds\t%d\n", saved.NumWorlds)
	fmt.Fprintf(w, "steps\t%d\n", saved.Steps)
	fmt.Fprintf(w, "ticks\t%d\n", saved.Ticks)
	fmt.Fprintf(w, "total\t%.4fs\n", saved.TotalSeconds)
	fmt.Fprintf(w, "steps/s\t%.1f\n", saved.StepsPerSec)
	fmt.Fprintf(w, "world steps/s\t%.0f\n", saved.WorldSteps)
	return w.Flush()
}

func newAssetsCmd() *cobra.Command {
	var assetDir string
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "list the scene asset catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listAssets(cmd.OutOrStdout(), assetDir)
		},
	}
	cmd.Flags().StringVar(&assetDir, "assets", config.DefaultDataDir, "asset directory")
	return cmd
}

func listAssets(out io.Writer, assetDir string) error {
	catalog, err := assets.Load(assets.OBJImporter{}, assetDir)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tOBJECT\tPRIMITIVE\tMESHES\tVERTICES\tTRIANGLES\tFILE")
	for _, obj := range catalog.Objects() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			obj.Index,
			obj.Kind,
			obj.Primitive,
			obj.Meshes,
			obj.Vertices,
			obj.Triangles,
			obj.File,
		)
	}
	return w.Flush()
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(cmd.OutOrStdout(), a.store())
		},
	}
}

func listRuns(out io.Writer, st *storage.Store) error {
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tMODE\tWORLDS\tRENDER\tSTEPS\tSTEPS/S")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%dx%d\t%d\t%.1f\n",
			run.ID,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.ExecMode,
			run.NumWorlds,
			run.RenderWidth,
			run.RenderHeight,
			run.Steps,
			run.StepsPerSec,
		)
	}

	return w.Flush()
}

func newPlotCmd(a *app) *cobra.Command {
	var svgFile string
	cmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot step latencies of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return plotRun(a, cmd.OutOrStdout(), args[0], svgFile)
		},
	}
	cmd.Flags().StringVar(&svgFile, "svg", "", "also write the plot as svg")
	return cmd
}

func plotRun(a *app, out io.Writer, runID, svgFile string) error {
	st := a.store()
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	latencies, err := st.LoadSteps(runID)
	if err != nil {
		return err
	}
	if len(latencies) == 0 {
		return fmt.Errorf("no data to plot")
	}

	ms := make([]float64, len(latencies))
	for i, sec := range latencies {
		ms[i] = sec * 1000
	}

	fmt.Fprintf(out, "run: %s\n", meta.ID)
	fmt.Fprintf(out, "backend: %s (%d worlds)\n", meta.Backend, meta.NumWorlds)
	fmt.Fprintf(out, "steps: %d\n\n", len(ms))

	graph := asciigraph.Plot(ms,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("step latency (ms)"),
	)
	fmt.Fprintln(out, graph)

	if svgFile != "" {
		svg := export.LatencyToSVG(ms, 800, 240, "#00ffff")
		if err := os.WriteFile(svgFile, []byte(svg), 0644); err != nil {
			return err
		}
		a.log.Info().Str("path", svgFile).Msg("plot written")
	}
	return nil
}

type snapshotOptions struct {
	cfg     configFlags
	steps   int
	world   int
	scale   int
	outFile string
}

func newSnapshotCmd(a *app) *cobra.Command {
	opts := &snapshotOptions{}
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "step a batch and render one world's depth view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return snapshotDepth(a, cmd, opts)
		},
	}
	opts.cfg.bind(cmd)
	cmd.Flags().IntVar(&opts.steps, "steps", 1, "steps before capturing")
	cmd.Flags().IntVar(&opts.world, "world", 0, "world index")
	cmd.Flags().IntVar(&opts.scale, "scale", 4, "svg pixels per depth sample")
	cmd.Flags().StringVarP(&opts.outFile, "out", "o", "", "write svg here instead of printing braille")
	return cmd
}

func snapshotDepth(a *app, cmd *cobra.Command, opts *snapshotOptions) error {
	cfg, err := opts.cfg.resolve(a, cmd)
	if err != nil {
		return err
	}

	m, err := manager.New(cmd.Context(), cfg, manager.WithLogger(a.log))
	if err != nil {
		return err
	}
	defer m.Close()

	for i := 0; i < opts.steps; i++ {
		if err := m.Step(); err != nil {
			return err
		}
	}

	depth, w, h, ok := viz.NewManagerSource(m).Depth(opts.world)
	if !ok {
		return fmt.Errorf("depth of world %d is not readable on %s", opts.world, m.BackendName())
	}

	if opts.outFile == "" {
		canvas := viz.NewCanvas(max(w/2, 1), max(h/4, 1))
		canvas.DrawDepth(depth, w, h)
		fmt.Fprint(cmd.OutOrStdout(), canvas.String())
		return nil
	}

	svg, err := export.DepthToSVG(depth, w, h, opts.scale)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.outFile, []byte(svg), 0644); err != nil {
		return err
	}
	a.log.Info().Str("path", opts.outFile).Int("world", opts.world).Msg("snapshot written")
	return nil
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a run as json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store().ExportJSON(cmd.OutOrStdout(), args[0])
		},
	}
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "list configuration presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listPresets(cmd.OutOrStdout())
		},
	}
}

func listPresets(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODE\tWORLDS\tRENDER\tEMULATE\tDEBUG")
	for _, name := range config.ListPresets() {
		p := config.GetPreset(name)
		fmt.Fprintf(w, "%s\t%s\t%d\t%dx%d\t%t\t%t\n",
			name, p.ExecMode, p.NumWorlds, p.RenderWidth, p.RenderHeight, p.Emulate, p.DebugCompile)
	}
	return w.Flush()
}

func newLiveCmd(a *app) *cobra.Command {
	var (
		cfg   configFlags
		steps int
		theme string
	)
	cmd := &cobra.Command{
		Use:   "live",
		Short: "step a batch of worlds with a live terminal view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.resolve(a, cmd)
			if err != nil {
				return err
			}

			m, err := manager.New(cmd.Context(), c, manager.WithLogger(a.log))
			if err != nil {
				return err
			}
			defer m.Close()

			model := viz.NewModel(viz.NewManagerSource(m), viz.WithMaxSteps(steps), viz.WithTheme(theme))
			_, err = tea.NewProgram(model).Run()
			return err
		},
	}
	cfg.bind(cmd)
	cmd.Flags().IntVar(&steps, "steps", 0, "stop after this many steps (0 = no limit)")
	cmd.Flags().StringVar(&theme, "theme", "cyberpunk", "color theme")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	var (
		cfg     configFlags
		outFile string
		format  string
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "print or write the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.resolve(a, cmd)
			if err != nil {
				return err
			}

			if outFile != "" {
				if err := config.Save(outFile, c); err != nil {
					return err
				}
				a.log.Info().Str("path", outFile).Msg("config written")
				return nil
			}
			return printConfig(cmd.OutOrStdout(), c, config.Format(format))
		},
	}
	cfg.bind(cmd)
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write to file (.yaml or .toml) instead of stdout")
	cmd.Flags().StringVar(&format, "format", string(config.FormatYAML), "stdout format (yaml, toml)")
	return cmd
}

func printConfig(w io.Writer, cfg *config.Config, f config.Format) error {
	data, err := config.Marshal(cfg, f)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve stored runs and metrics over http",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st := a.store()
			if err := st.Init(); err != nil {
				return err
			}
			a.log.Info().Str("addr", addr).Msg("serving runs")
			return server.New(addr, st, server.NewStatusBoard(), a.log).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "listen", ":9090", "listen address")
	return cmd
}
