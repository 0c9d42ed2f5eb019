package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lightwatch/lightwatch/cli/internal/client"
	"github.com/lightwatch/lightwatch/cli/pkg/output"
)

var channels = []string{"logs", "metrics", "security", "alerts"}

func newTailCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:       "tail <logs|metrics|security|alerts>",
		Short:     "Follow a realtime channel",
		Long:      "Subscribe to a realtime channel and print every event pushed to it until interrupted.",
		ValidArgs: channels,
		Args:      exactArg("channel", channels),
		Example: `  lwctl tail alerts
  lwctl tail security -o json | jq .source_ip
  lwctl tail logs --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			seen := 0
			rt := client.NewRealtimeClient(a.realtimeURL, a.token)
			return rt.Tail(ctx, args[0], func(msg []byte) error {
				if err := printEvent(a.format, msg); err != nil {
					return err
				}
				seen++
				if limit > 0 && seen >= limit {
					return client.ErrStopTail
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "exit after this many events; 0 follows forever")
	return cmd
}

// printEvent writes one pushed event. JSON output is the raw line; YAML is
// one document per event; table is a one-line summary.
func printEvent(format output.Format, msg []byte) error {
	if format == output.FormatJSON {
		_, err := fmt.Fprintln(output.Stdout, strings.TrimSpace(string(msg)))
		return err
	}

	var ev map[string]any
	if err := json.Unmarshal(msg, &ev); err != nil {
		_, err := fmt.Fprintln(output.Stdout, string(msg))
		return err
	}
	if format == output.FormatYAML {
		return output.YAML(ev)
	}

	_, err := fmt.Fprintln(output.Stdout, summarize(ev))
	return err
}

func summarize(ev map[string]any) string {
	str := func(k string) string {
		if v, ok := ev[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}

	var detail string
	switch {
	case str("alert_name") != "":
		detail = fmt.Sprintf("ALERT %s: %s %s %s %s (threshold %s)",
			str("status"), str("alert_name"), str("metric"), str("operator"), str("value"), str("threshold"))
	case str("level") != "":
		detail = fmt.Sprintf("%-5s %s", strings.ToUpper(str("level")), str("message"))
	case str("source_ip") != "":
		detail = fmt.Sprintf("%s %s from %s", strings.ToUpper(str("severity")), str("type"), str("source_ip"))
	case str("name") != "":
		detail = fmt.Sprintf("%s=%s %s", str("name"), str("value"), str("unit"))
	default:
		detail = str("event_id")
	}

	return strings.TrimRight(fmt.Sprintf("%-30s  %-16s  %s", str("timestamp"), str("service"), detail), " ")
}
