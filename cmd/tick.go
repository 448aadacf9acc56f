package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Runs one scheduler pass and prints the enqueued companies",
		Long: `Lists companies whose next scan is due and submits them to the scan
queue. Queued items only run when this process also runs workers, so tick is
intended for inspection and for deployments that trigger scheduling externally.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Tick(cmd.Context())
			if err != nil {
				return fmt.Errorf("scheduler tick: %w", err)
			}
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(res); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			return nil
		},
	}
}
