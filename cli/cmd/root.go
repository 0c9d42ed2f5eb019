package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lightwatch/lightwatch/cli/internal/config"
	"github.com/lightwatch/lightwatch/cli/pkg/output"
)

// app carries what every subcommand needs once flags and the config file
// are resolved.
type app struct {
	cfgFile string
	profile string

	ingestURL   string
	realtimeURL string
	token       string
	outputFlag  string

	cfg    *config.Config
	format output.Format
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "lwctl",
		Short: "LightWatch command-line client",
		Long: `lwctl sends telemetry to the LightWatch ingest service, generates
test traffic, mints access tokens and tails realtime channels.

Endpoint and credential resolution, highest priority first:
  1. --ingest-url, --realtime-url, --token
  2. the selected profile in ~/.lwctl/config.yaml
  3. LWCTL_INGEST_URL, LWCTL_REALTIME_URL
  4. built-in defaults`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.resolve(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: $HOME/.lwctl/config.yaml)")
	flags.StringVar(&a.profile, "profile", "", "profile to use (default: current profile)")
	flags.StringVar(&a.ingestURL, "ingest-url", "", "ingest service URL")
	flags.StringVar(&a.realtimeURL, "realtime-url", "", "realtime service URL")
	flags.StringVarP(&a.token, "token", "t", "", "JWT or API key")
	flags.StringVarP(&a.outputFlag, "output", "o", string(output.FormatTable), "output format: table, json, yaml")

	root.AddCommand(
		newTokenCmd(a),
		newSendCmd(a),
		newSeedCmd(a),
		newTailCmd(a),
		newProfileCmd(a),
	)
	return root
}

func (a *app) resolve(cmd *cobra.Command) error {
	format, err := output.ParseFormat(a.outputFlag)
	if err != nil {
		return err
	}
	a.format = format

	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		output.Warn("Could not load config: %v", err)
		cfg = config.Default()
	}
	a.cfg = cfg

	p := cfg.Resolve(a.profile)
	flags := cmd.Flags()
	if !flags.Changed("ingest-url") {
		a.ingestURL = p.IngestURL
	}
	if !flags.Changed("realtime-url") {
		a.realtimeURL = p.RealtimeURL
	}
	if !flags.Changed("token") {
		a.token = p.Token
	}
	return nil
}

// exactArg accepts one positional argument from valid.
func exactArg(kind string, valid []string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(1)(cmd, args); err != nil {
			return err
		}
		for _, v := range valid {
			if args[0] == v {
				return nil
			}
		}
		return fmt.Errorf("unknown %s %q (want one of %v)", kind, args[0], valid)
	}
}
