package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sarchlab/intersim/config"
	"github.com/sarchlab/intersim/engines"
	"github.com/sarchlab/intersim/logging"
	"github.com/sarchlab/intersim/sim"
	"github.com/sarchlab/intersim/simulation"
)

var runCmd = &cobra.Command{
	Use:   "run [shared|isolated]",
	Short: "Run the intersection with one of the engines.",
	Long: `Run the intersection until the requested number of signal cycles ` +
		`completes. The engine argument overrides the configured one. ` +
		`Values come from defaults, .env, INTERSIM_* variables, the ` +
		`scenario file and finally the flags.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: engines.Kinds,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRunConfig(cmd.Flags(), args)
		if err != nil {
			return err
		}

		every, _ := cmd.Flags().GetInt("every")

		ctx, stop := signal.NotifyContext(cmd.Context(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runSimulation(ctx, cfg, every, cmd.OutOrStdout())
	},
}

func init() {
	addRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(f *pflag.FlagSet) {
	f.Int("green", 0, "ticks a green light lasts")
	f.Int("yellow", 0, "ticks a yellow light lasts")
	f.Int("cycles", 0, "signal cycles to run; 0 runs --ticks ticks")
	f.Int("ticks", 0, "ticks to run when --cycles is 0")
	f.Duration("interval", 0, "wall-clock time between ticks")
	f.Int("capacity", 0, "vehicles a green lane can release per tick")
	f.Float64("arrival", 0, "probability that a vehicle arrives at a lane per tick")
	f.Int64("seed", 0, "seed of the arrival generator")
	f.String("scenario", "", "YAML file that overrides the configuration")
	f.String("env-file", ".env", "file with INTERSIM_* variables")
	f.Int("monitor-port", 0, "serve the monitoring page on this port (implies --monitor)")
	f.Bool("monitor", false, "serve the monitoring page on a random port")
	f.Bool("open-browser", false, "open the monitoring page in a browser")
	f.String("log-level", "", "debug, info, warn or error")
	f.Bool("dev-log", false, "human readable logs")
	f.Int("every", 1, "print the intersection every N ticks; 0 prints only the summary")
}

// loadRunConfig resolves the configuration and applies the flags that were
// set on the command line.
func loadRunConfig(flags *pflag.FlagSet, args []string) (config.Config, error) {
	envFile, _ := flags.GetString("env-file")
	scenario, _ := flags.GetString("scenario")

	cfg, err := config.Load(envFile, scenario)
	if err != nil {
		return cfg, err
	}

	if len(args) == 1 {
		cfg.Engine = args[0]
	}

	intFlags := map[string]*int{
		"green":        &cfg.GreenDuration,
		"yellow":       &cfg.YellowDuration,
		"cycles":       &cfg.MinCycles,
		"ticks":        &cfg.TotalTicks,
		"capacity":     &cfg.CapacityPerTick,
		"monitor-port": &cfg.Monitor.Port,
	}
	for name, field := range intFlags {
		if flags.Changed(name) {
			*field, _ = flags.GetInt(name)
		}
	}

	if flags.Changed("interval") {
		cfg.TickInterval, _ = flags.GetDuration("interval")
	}

	if flags.Changed("arrival") {
		cfg.ArrivalProbability, _ = flags.GetFloat64("arrival")
	}

	if flags.Changed("seed") {
		cfg.Seed, _ = flags.GetInt64("seed")
	}

	if flags.Changed("monitor-port") {
		cfg.Monitor.Enabled = true
	}

	if flags.Changed("monitor") {
		cfg.Monitor.Enabled, _ = flags.GetBool("monitor")
	}

	if flags.Changed("open-browser") {
		cfg.Monitor.OpenBrowser, _ = flags.GetBool("open-browser")
		cfg.Monitor.Enabled = cfg.Monitor.Enabled || cfg.Monitor.OpenBrowser
	}

	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}

	if flags.Changed("dev-log") {
		cfg.Logging.Development, _ = flags.GetBool("dev-log")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func runSimulation(
	ctx context.Context,
	cfg config.Config,
	every int,
	out io.Writer,
) error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development

	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}

	builder := simulation.MakeBuilder().
		WithConfig(cfg).
		WithLogger(logger)
	if cfg.Monitor.Enabled {
		builder = builder.WithMonitor(cfg.Monitor.Port)
	}

	s, err := builder.Build()
	if err != nil {
		return err
	}
	defer s.Terminate()

	if cfg.Monitor.OpenBrowser {
		if err := s.GetMonitor().OpenBrowser(); err != nil {
			logger.Warn("failed to open browser", zap.Error(err))
		}
	}

	report, err := s.Run(ctx, func(snapshot *sim.TrafficSnapshot) {
		if every > 0 && snapshot.Tick%uint64(every) == 0 {
			printSnapshot(out, snapshot)
		}
	})

	printReport(out, s.GetEngine().Kind(), report)

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func printSnapshot(w io.Writer, s *sim.TrafficSnapshot) {
	fmt.Fprintf(w, "\nTick %d | cycle %d | %s (%d ticks left)\n",
		s.Tick, s.Cycle, s.Phase, s.PhaseTiming.TicksRemaining)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LANE\tLIGHT\tQUEUE\tCROSSING\tCROSSED\t")

	for _, lane := range sim.AllLanes {
		crossing := make([]string, 0, len(s.InTransit[lane]))
		for _, t := range s.InTransit[lane] {
			crossing = append(crossing, fmt.Sprintf("#%d", t.ID))
		}

		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t\n",
			lane, s.Colors[lane], s.QueueLengths[lane],
			strings.Join(crossing, " "), s.Stats.PerLane[lane])
	}

	_ = tw.Flush()

	fmt.Fprintf(w, "arrived %d, crossed %d, avg wait %.2fs\n",
		s.TotalArrivals, s.Stats.TotalVehicles, s.Stats.AvgWaitSeconds)

	if s.IsDegraded() {
		fmt.Fprintf(w, "degraded lanes: %v\n", s.DegradedLanes)
	}
}

func printReport(w io.Writer, kind string, r simulation.Report) {
	fmt.Fprintf(w, "\n=== %s engine summary ===\n", kind)
	fmt.Fprintf(w, "cycles:      %d\n", r.Cycles)
	fmt.Fprintf(w, "ticks:       %d\n", r.Ticks)
	fmt.Fprintf(w, "elapsed:     %s\n", r.Elapsed)
	fmt.Fprintf(w, "ticks/s:     %.2f\n", r.TicksPerSecond)

	if r.Final == nil {
		return
	}

	st := r.Final.Stats
	fmt.Fprintf(w, "arrived:     %d\n", r.Final.TotalArrivals)
	fmt.Fprintf(w, "crossed:     %d\n", st.TotalVehicles)
	fmt.Fprintf(w, "waiting:     %d\n", r.Final.QueuedVehicles())
	fmt.Fprintf(w, "avg wait:    %.2fs (max %.2fs, p95 %.2fs)\n",
		st.AvgWaitSeconds, st.MaxWaitSeconds, st.P95WaitSeconds)
}
