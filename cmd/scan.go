package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ir-watcher/internal/orchestrator"
)

type scanOptions struct {
	all         bool
	concurrency int
}

// newScanCmd runs scans synchronously, outside the worker queue.
func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan [company-id...]",
		Short: "Scans companies once and prints the results",
		Long: `Runs the scan pipeline for the given company ids, or for every active
company with --all. Results are printed as JSON lines, one per company.
The command fails when any scan ends in error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScanCommand(cmd, args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.all, "all", false, "scan every active company")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 4, "maximum scans in flight")
	return cmd
}

func runScanCommand(cmd *cobra.Command, args []string, opts *scanOptions) error {
	ctx := cmd.Context()
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	if opts.all == (len(args) > 0) {
		return errors.New("pass company ids or --all, not both")
	}

	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid company id %q", arg)
		}
		ids = append(ids, id)
	}
	if opts.all {
		companies, err := appInstance.Store().ListCompanies(ctx)
		if err != nil {
			return fmt.Errorf("list companies: %w", err)
		}
		for _, c := range companies {
			if c.IsActive {
				ids = append(ids, c.ID)
			}
		}
	}

	logger := appInstance.Logger()
	logger.Info("scan batch started", zap.Int("companies", len(ids)), zap.Int("concurrency", opts.concurrency))
	results := appInstance.RunBatch(ctx, ids, opts.concurrency)

	enc := json.NewEncoder(cmd.OutOrStdout())
	failed := 0
	for _, res := range results {
		if res.Status == orchestrator.StatusError {
			failed++
		}
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	logger.Info("scan batch finished", zap.Int("companies", len(results)), zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("%d of %d scans failed", failed, len(results))
	}
	return nil
}
