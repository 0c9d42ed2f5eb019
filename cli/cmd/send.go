package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lightwatch/lightwatch/cli/internal/client"
	"github.com/lightwatch/lightwatch/cli/internal/seeder"
	"github.com/lightwatch/lightwatch/cli/pkg/output"
)

func newSendCmd(a *app) *cobra.Command {
	var (
		file string
		data string
	)

	cmd := &cobra.Command{
		Use:       "send <logs|metrics|security|heartbeat>",
		Short:     "Send one event",
		Long:      "Post a single JSON event to the ingest endpoint for a category.",
		ValidArgs: seeder.Categories,
		Args:      exactArg("category", seeder.Categories),
		Example: `  lwctl send logs --data '{"service":"api","level":"error","message":"upstream timeout"}'
  lwctl send metrics --file cpu.json
  cat event.json | lwctl send security --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readEvent(cmd.InOrStdin(), file, data)
			if err != nil {
				return err
			}

			res, err := client.NewIngestClient(a.ingestURL, a.token).Send(cmd.Context(), args[0], body)
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && a.format != output.FormatTable {
					_ = output.Print(a.format, apiErr, nil)
				}
				return fmt.Errorf("send failed: %w", err)
			}

			if a.format == output.FormatTable {
				if res.ID != "" {
					output.Success("Event %s (%s)", res.Status, res.ID)
				} else {
					output.Success("Heartbeat %s for %s", res.Status, res.Service)
				}
				return nil
			}
			return output.Print(a.format, res, nil)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the event from a file, or - for stdin")
	cmd.Flags().StringVarP(&data, "data", "d", "", "inline JSON event")
	cmd.MarkFlagsMutuallyExclusive("file", "data")
	return cmd
}

// readEvent returns the event body from data, file or stdin, and checks it
// is a JSON object. Schema checks are left to the server.
func readEvent(stdin io.Reader, file, data string) ([]byte, error) {
	var body []byte
	switch {
	case data != "":
		body = []byte(data)
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		body = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		body = b
	default:
		return nil, errors.New("either --file or --data is required")
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("event is not a JSON object: %w", err)
	}
	return body, nil
}
