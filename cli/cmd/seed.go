package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lightwatch/lightwatch/cli/internal/client"
	"github.com/lightwatch/lightwatch/cli/internal/seeder"
	"github.com/lightwatch/lightwatch/cli/pkg/output"
)

func newSeedCmd(a *app) *cobra.Command {
	var (
		seedCfgFile string
		count       int
		rate        float64
		categories  []string
		services    []string
		seed        int64
		attacks     []string
		pattern     string
		patternSize int
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate fake telemetry",
		Long: `Generate realistic log, metric, security and heartbeat events and post
them to the ingest service.

Configuration cascade (priority order):
  1. Command-line flags
  2. ./seeder.yaml
  3. ~/.lwctl/seeder.yaml
  4. Built-in defaults

Attacks configured in seeder.yaml run before the baseline traffic when
enabled or named with --attack. --pattern injects an ad-hoc burst of one of: ` +
			strings.Join(seeder.Patterns(), ", "),
		Example: `  lwctl seed --count 500 --rate 50
  lwctl seed --categories security --pattern brute_force --pattern-size 20
  lwctl seed --count 0 --pattern metric_spike`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc, err := seeder.LoadConfig(seedCfgFile)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("count") {
				sc.Defaults.Count = count
			}
			if flags.Changed("rate") {
				sc.Defaults.Rate = rate
			}
			if flags.Changed("categories") {
				sc.Defaults.Categories = categories
			}
			if flags.Changed("services") {
				sc.Defaults.Services = services
			}
			if flags.Changed("seed") {
				sc.Defaults.Seed = seed
			}
			if err := sc.Validate(); err != nil {
				return err
			}

			gen := seeder.NewGenerator(sc.Defaults.Seed, sc.Defaults.Services)

			selected := sc.EnabledAttacks()
			if flags.Changed("attack") {
				selected = attacks
			}
			var items []seeder.Item
			for _, name := range selected {
				ac, ok := sc.GetAttack(name)
				if !ok {
					return fmt.Errorf("attack %q is not configured", name)
				}
				burst, err := gen.Attack(ac.Pattern, ac.Service, ac.Count)
				if err != nil {
					return err
				}
				items = append(items, burst...)
			}
			if pattern != "" {
				burst, err := gen.Attack(pattern, "", patternSize)
				if err != nil {
					return err
				}
				items = append(items, burst...)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			runner := seeder.NewRunner(client.NewIngestClient(a.ingestURL, a.token), gen, sc.Defaults.Rate)
			if !quiet {
				runner.OnError = func(category string, err error) {
					output.Error("%s: %v", category, err)
				}
			}

			if a.format == output.FormatTable {
				output.Info("Seeding %s: %d attack events, %d baseline events at %s/s",
					a.ingestURL, len(items), sc.Defaults.Count, formatRate(sc.Defaults.Rate))
			}

			stats, runErr := runner.Run(ctx, items, sc.Defaults.Count, sc.Defaults.Categories)
			if err := output.Print(a.format, stats, func() *output.Table { return statsTable(stats) }); err != nil {
				return err
			}
			if runErr != nil && ctx.Err() == nil {
				return runErr
			}
			if stats.Failed > 0 && stats.Sent == 0 {
				return fmt.Errorf("all %d events failed", stats.Failed)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&seedCfgFile, "seed-config", "", "seeder config file (default: ./seeder.yaml or ~/.lwctl/seeder.yaml)")
	f.IntVarP(&count, "count", "c", 0, "number of baseline events")
	f.Float64VarP(&rate, "rate", "r", 0, "events per second; 0 sends as fast as possible")
	f.StringSliceVar(&categories, "categories", nil, "categories to draw from: "+strings.Join(seeder.Categories, ","))
	f.StringSliceVar(&services, "services", nil, "service names to use")
	f.Int64Var(&seed, "seed", 0, "random seed for reproducible runs")
	f.StringSliceVarP(&attacks, "attack", "a", nil, "attack names from the seeder config")
	f.StringVar(&pattern, "pattern", "", "inject one burst of this pattern")
	f.IntVar(&patternSize, "pattern-size", 10, "events in the --pattern burst")
	f.BoolVarP(&quiet, "quiet", "q", false, "do not print individual failures")
	return cmd
}

func formatRate(r float64) string {
	if r <= 0 {
		return "unlimited"
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

func statsTable(s seeder.Stats) *output.Table {
	t := output.NewTable("RESULT", "COUNT")
	t.AddRow("sent", strconv.Itoa(s.Sent))
	t.AddRow("failed", strconv.Itoa(s.Failed))
	for _, k := range sortedKeys(s.ByCategory) {
		t.AddRow("  "+k, strconv.Itoa(s.ByCategory[k]))
	}
	for _, k := range sortedKeys(s.Errors) {
		t.AddRow("  error "+k, strconv.Itoa(s.Errors[k]))
	}
	t.AddRow("elapsed", s.Elapsed.Round(time.Millisecond).String())
	return t
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
