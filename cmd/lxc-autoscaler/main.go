package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kontainerops/lxc-autoscaler/pkg/aggregator"
	"github.com/kontainerops/lxc-autoscaler/pkg/clockutil"
	"github.com/kontainerops/lxc-autoscaler/pkg/config"
	"github.com/kontainerops/lxc-autoscaler/pkg/controller"
	"github.com/kontainerops/lxc-autoscaler/pkg/executor"
	"github.com/kontainerops/lxc-autoscaler/pkg/gateway"
	"github.com/kontainerops/lxc-autoscaler/pkg/gateway/simgateway"
	"github.com/kontainerops/lxc-autoscaler/pkg/log"
	"github.com/kontainerops/lxc-autoscaler/pkg/metrics"
	"github.com/kontainerops/lxc-autoscaler/pkg/types"
)

var (
	// Version is set via ldflags during build.
	Version = "dev"

	metricsAddr = "127.0.0.1:9090"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "lxc-autoscaler",
	Short:   "Autoscaling control loop for Linux containers on a virtualization cluster",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().String("config", "", "Path to configuration file (searches default paths if omitted)")
	rootCmd.Flags().Bool("validate-config", false, "Validate configuration and exit")
	rootCmd.Flags().Bool("dry-run", false, "Force global.dry_run=true regardless of the configuration file")
}

func run(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	validateOnly, _ := cmd.Flags().GetBool("validate-config")
	forceDryRun, _ := cmd.Flags().GetBool("dry-run")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if forceDryRun {
		cfg.Global.DryRun = true
	}

	if validateOnly {
		fmt.Println("configuration valid")
		return nil
	}

	initLogging(cfg.Global)
	logger := log.WithComponent("main")

	if cfg.Global.PIDFile != "" {
		if err := writePIDFile(cfg.Global.PIDFile); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		defer os.Remove(cfg.Global.PIDFile)
	}

	// The concrete cluster-management HTTP client (transport, auth, retries)
	// is an external collaborator outside this module's scope; the
	// in-memory reference Gateway stands in for it here. It starts empty and
	// nothing in this entry point adds nodes or containers to it.
	gw := gateway.Gateway(simgateway.New())
	limited := gateway.NewLimitedGateway(gw, gateway.DefaultConcurrencyLimit)

	clock := clockutil.Real()
	agg := aggregator.New(limited, clock)
	exec := executor.New(limited, agg, clock, safetyConfigFrom(cfg))

	var policies atomic.Pointer[[]types.ContainerPolicy]
	initial := cfg.Containers
	policies.Store(&initial)
	policySource := func() []types.ContainerPolicy { return *policies.Load() }

	interval := time.Duration(cfg.Global.MonitoringIntervalSecs) * time.Second
	resourceCheckInterval := time.Duration(cfg.Safety.ResourceCheckIntervalS) * time.Second
	ctrl := controller.New(exec, policySource, clock, interval, resourceCheckInterval)

	metrics.SetVersion(Version)
	// gateway/aggregator/executor health is reported by the controller's
	// health probe as soon as it runs; until then /readyz correctly
	// reports not_ready.

	go serveMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go watchReload(configPath, forceDryRun, exec, &policies, logger)

	logger.Info().Dur("interval", interval).Bool("dry_run", cfg.Global.DryRun).Msg("starting control loop")
	if err := ctrl.Run(ctx); err != nil {
		return fmt.Errorf("control loop: %w", err)
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

func safetyConfigFrom(cfg *config.Config) executor.SafetyConfig {
	return executor.SafetyConfig{
		MaxConcurrentOperations: cfg.Safety.MaxConcurrentOperations,
		MaxCPUSafetyPct:         cfg.Safety.MaxCPUSafetyPct,
		MaxMemSafetyPct:         cfg.Safety.MaxMemSafetyPct,
		EnableHostProtection:    *cfg.Safety.EnableHostProtection,
		DryRun:                  cfg.Global.DryRun,
	}
}

func initLogging(g config.GlobalConfig) {
	level := log.InfoLevel
	switch g.LogLevel {
	case "DEBUG":
		level = log.DebugLevel
	case "WARNING":
		level = log.WarnLevel
	case "ERROR", "CRITICAL":
		level = log.ErrorLevel
	}

	var output *os.File
	if g.LogFile != "" {
		f, err := os.OpenFile(g.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			output = f
		}
	}

	logCfg := log.Config{Level: level, JSONOutput: g.LogFile != ""}
	if output != nil {
		logCfg.Output = output
	}
	log.Init(logCfg)
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthzHandler())
	mux.HandleFunc("/readyz", metrics.ReadyzHandler())
	mux.HandleFunc("/livez", metrics.LivezHandler())
	if err := http.ListenAndServe(metricsAddr, mux); err != nil {
		log.WithComponent("metrics").Error().Err(err).Msg("metrics listener stopped")
	}
}

// watchReload re-parses the configuration on SIGHUP and swaps in the new
// container policy set and safety configuration before the next tick. On
// parse failure the previous configuration remains active.
func watchReload(configPath string, forceDryRun bool, exec *executor.Executor, policies *atomic.Pointer[[]types.ContainerPolicy], logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for range sigCh {
		newCfg, err := config.Load(configPath)
		if err != nil {
			logger.Error().Err(err).Msg("config reload failed, keeping previous configuration")
			continue
		}
		if forceDryRun {
			newCfg.Global.DryRun = true
		}

		initLogging(newCfg.Global)
		exec.UpdateSafetyConfig(safetyConfigFrom(newCfg))
		containers := newCfg.Containers
		policies.Store(&containers)

		logger.Info().Int("containers", len(containers)).Msg("configuration reloaded")
	}
}
