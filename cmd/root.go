// Package cmd defines and implements the CLI commands for the irwatcher executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ir-watcher/internal/config"
	"github.com/JakeFAU/realtime-ir-watcher/internal/logging"
	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
	"github.com/JakeFAU/realtime-ir-watcher/internal/orchestrator"
	"github.com/JakeFAU/realtime-ir-watcher/internal/scheduler"
	"github.com/JakeFAU/realtime-ir-watcher/internal/server"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const (
	appKey    appKeyType = "app"
	configKey appKeyType = "config"
)

// skipAppAnnotation marks commands that only need configuration.
const skipAppAnnotation = "skip_app"

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Store() monitor.Store
	RunBatch(ctx context.Context, ids []int64, concurrency int) []orchestrator.Result
	Tick(ctx context.Context) (scheduler.TickResult, error)
}

// newApp is the application factory. It's a variable so we can
// replace it with a mock factory in our tests.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// loadConfig is swapped in tests.
var loadConfig = config.Load

// cli owns the root command and the application it builds, so the
// application is closed even when a subcommand fails.
type cli struct {
	root *cobra.Command
	app  App
}

// newCLI creates and configures the root command.
func newCLI() *cli {
	c := &cli{}
	cmd := &cobra.Command{
		Use:   "irwatcher",
		Short: "Watches investor-relations pages for material changes.",
		Long: `irwatcher scans company investor-relations pages on a schedule, snapshots
their normalized content, downloads linked reports, extracts headline
financial metrics and records graded change events.`,
		SilenceUsage: true,

		// Builds the application after flags are parsed and before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), configKey, &cfg)
			if cmd.Annotations[skipAppAnnotation] != "true" {
				appInstance, err := newApp(ctx, &cfg)
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
				c.app = appInstance
				ctx = context.WithValue(ctx, appKey, appInstance)
			}
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env WEBWATCHER_* overrides apply)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newTickCmd())
	cmd.AddCommand(newMigrateCmd())

	c.root = cmd
	return c
}

// execute runs the selected command and closes the application afterwards.
func (c *cli) execute(ctx context.Context) error {
	err := c.root.ExecuteContext(ctx)
	if c.app != nil {
		if cerr := c.app.Close(context.WithoutCancel(ctx)); cerr != nil {
			c.app.Logger().Warn("close application", zap.Error(cerr))
		}
		c.app = nil
	}
	return err
}

// Execute is the main entry point.
func Execute() {
	if err := newCLI().execute(context.Background()); err != nil {
		logger, lerr := logging.New(false)
		if lerr != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.Fatal("Command execution failed", zap.Error(err))
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
