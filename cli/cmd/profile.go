package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lightwatch/lightwatch/cli/internal/config"
	"github.com/lightwatch/lightwatch/cli/pkg/output"
)

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage connection profiles",
		Long:  "Save and switch between named sets of endpoints and credentials.",
	}

	save := &cobra.Command{
		Use:   "save <name>",
		Short: "Save the current endpoints and token as a profile",
		Example: `  lwctl profile save prod --ingest-url https://ingest.example.com \
      --realtime-url wss://realtime.example.com --token "$KEY"`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			p := config.Profile{IngestURL: a.ingestURL, RealtimeURL: a.realtimeURL, Token: a.token}
			if err := a.cfg.SaveProfile(args[0], p); err != nil {
				return fmt.Errorf("failed to save profile: %w", err)
			}
			output.Success("Profile '%s' saved to %s", args[0], a.cfg.Path())
			return nil
		},
	}

	use := &cobra.Command{
		Use:   "use <name>",
		Short: "Make a profile current",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if _, err := a.cfg.GetProfile(args[0]); err != nil {
				return err
			}
			a.cfg.CurrentProfile = args[0]
			if err := a.cfg.Save(); err != nil {
				return err
			}
			output.Success("Switched to profile '%s'", args[0])
			return nil
		},
	}

	remove := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a profile",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := a.cfg.RemoveProfile(args[0]); err != nil {
				return err
			}
			output.Success("Profile '%s' removed", args[0])
			return nil
		},
	}

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List profiles",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			type row struct {
				Name        string `json:"name" yaml:"name"`
				Current     bool   `json:"current" yaml:"current"`
				IngestURL   string `json:"ingest_url" yaml:"ingest_url"`
				RealtimeURL string `json:"realtime_url" yaml:"realtime_url"`
				HasToken    bool   `json:"has_token" yaml:"has_token"`
			}

			names := make([]string, 0, len(a.cfg.Profiles))
			for name := range a.cfg.Profiles {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([]row, 0, len(names))
			for _, name := range names {
				p := a.cfg.Resolve(name)
				rows = append(rows, row{
					Name:        name,
					Current:     name == a.cfg.CurrentProfile,
					IngestURL:   p.IngestURL,
					RealtimeURL: p.RealtimeURL,
					HasToken:    p.Token != "",
				})
			}

			return output.Print(a.format, rows, func() *output.Table {
				t := output.NewTable("", "NAME", "INGEST", "REALTIME", "TOKEN")
				for _, r := range rows {
					marker, tok := "", "no"
					if r.Current {
						marker = "*"
					}
					if r.HasToken {
						tok = "yes"
					}
					t.AddRow(marker, r.Name, r.IngestURL, r.RealtimeURL, tok)
				}
				return t
			})
		},
	}

	cmd.AddCommand(save, use, remove, list)
	return cmd
}
