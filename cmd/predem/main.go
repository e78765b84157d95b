package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/predem/internal/cliconfig"
	"github.com/bft-labs/predem/pkg/log"
	"github.com/bft-labs/predem/pkg/predem"
	"github.com/bft-labs/predem/plugins/inbox"
)

const helpDescription = `
Capture, persist and deliver crash reports and telemetry.

predem keeps every record on disk until the collection service has
acknowledged it. Other processes hand events over by dropping JSON files
into the inbox directory; the agent records them durably and ships them in
batches with retry and backoff.

Highlights:
  - Records survive crashes, restarts and network outages.
  - Oldest telemetry is dropped first when the store grows too large;
    crash reports are kept.
  - Delivery backs off while the host is busy.
  - Configure via file (TOML or YAML), environment (PREDEM_*), or flags.
`

var exampleUsage = strings.TrimSpace(`
  predem --dir /var/lib/predem --service-url https://collector.example.com --app-key <key>
  predem --config $HOME/.predem/config.yaml --once
  predem --env-file .env
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath, envFile string

	logger := cliconfig.Logger(cfg.LogLevel)

	root := &cobra.Command{
		Use:          "predem",
		Short:        "Capture, persist and deliver crash reports and telemetry",
		Long:         strings.TrimSpace(helpDescription),
		Example:      exampleUsage,
		Version:      fmt.Sprintf("%s (sdk %s) %s/%s", getVersion(), predem.SDKVersion, runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				// Does not override variables already set.
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("load env file: %w", err)
				}
			}

			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			// Build set of changed flags
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			} else if cfgPath != "" {
				return fmt.Errorf("config file not found: %s", cfgPath)
			}

			// Environment overrides the file; flags override both.
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			logger = cliconfig.Logger(cfg.LogLevel)

			// Log configuration (masking the app key)
			logCfg := cfg
			if len(logCfg.AppKey) > 0 {
				logCfg.AppKey = "*****"
			}
			logger.Info().Interface("config", logCfg).Msg("configuration")

			return run(cmd.Context(), cfg, log.NewZerologAdapterWithLogger(logger))
		},
	}

	f := root.Flags()
	f.StringVar(&cfgPath, "config", "", "path to config file, .toml or .yaml (default: $HOME/.predem/config.toml)")
	f.StringVar(&envFile, "env-file", "", "load PREDEM_* variables from a dotenv file")
	f.StringVar(&cfg.Dir, "dir", cfg.Dir, "data directory (default: $HOME/.predem/data)")
	f.StringVar(&cfg.ServiceURL, "service-url", cfg.ServiceURL, "collection service base URL; records are only persisted when empty")
	f.StringVar(&cfg.AppKey, "app-key", cfg.AppKey, "application key for authentication")
	f.StringVar(&cfg.AppVersion, "app-version", cfg.AppVersion, "application version reported with every batch")
	f.StringVar(&cfg.InboxDir, "inbox-dir", cfg.InboxDir, "inbox directory (default: <dir>/inbox)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	f.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "maximum records per request")
	f.IntVar(&cfg.MaxBatchBytes, "max-batch-bytes", cfg.MaxBatchBytes, "maximum payload bytes per request")
	f.IntVar(&cfg.RetryCeiling, "retry-ceiling", cfg.RetryCeiling, "failed attempts before a record is abandoned")

	f.DurationVar(&cfg.BaseInterval, "base-interval", cfg.BaseInterval, "wait between delivery cycles")
	f.DurationVar(&cfg.MaxBackoff, "max-backoff", cfg.MaxBackoff, "maximum wait after failed cycles")
	f.DurationVar(&cfg.WakeDelay, "wake-delay", cfg.WakeDelay, "delay coalescing new records before a cycle")
	f.DurationVar(&cfg.HardInterval, "hard-interval", cfg.HardInterval, "deliver despite resource gating after this long")
	f.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "HTTP timeout")

	f.Float64Var(&cfg.NetworkSampleRate, "network-sample-rate", cfg.NetworkSampleRate, "fraction of network events kept")
	f.Float64Var(&cfg.NetworkEventsPerSecond, "network-events-per-second", cfg.NetworkEventsPerSecond, "network event rate limit")
	f.Float64Var(&cfg.CPUThreshold, "cpu-threshold", cfg.CPUThreshold, "max CPU load fraction before delaying delivery")

	f.IntVar(&cfg.RetentionHighMB, "retention-high-mb", cfg.RetentionHighMB, "store size in MiB above which old telemetry is dropped")
	f.IntVar(&cfg.RetentionLowMB, "retention-low-mb", cfg.RetentionLowMB, "store size in MiB to shrink to")

	f.BoolVar(&cfg.DisableCrashReporting, "disable-crash-reporting", cfg.DisableCrashReporting, "do not capture crashes of this process")
	f.BoolVar(&cfg.DisableMetrics, "disable-metrics", cfg.DisableMetrics, "drop session and user events")
	f.BoolVar(&cfg.NoInbox, "no-inbox", cfg.NoInbox, "do not watch the inbox directory")
	f.BoolVar(&cfg.NoRetention, "no-retention", cfg.NoRetention, "never drop undelivered records")
	f.BoolVar(&cfg.NoGating, "no-gating", cfg.NoGating, "deliver regardless of host load")
	f.BoolVar(&cfg.Once, "once", cfg.Once, "deliver everything pending and exit")

	if err := root.Execute(); err != nil {
		logger.Error().Err(err).Msg("predem")
		os.Exit(1)
	}
}

func run(parent context.Context, cfg cliconfig.Config, logger predem.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	libCfg := predem.Config{
		Dir:                    cfg.Dir,
		ServiceURL:             cfg.ServiceURL,
		AppKey:                 cfg.AppKey,
		AppVersion:             cfg.AppVersion,
		DisableCrashReporting:  cfg.DisableCrashReporting,
		DisableMetrics:         cfg.DisableMetrics,
		NetworkSampleRate:      cfg.NetworkSampleRate,
		NetworkEventsPerSecond: cfg.NetworkEventsPerSecond,
		BatchSize:              cfg.BatchSize,
		MaxBatchBytes:          cfg.MaxBatchBytes,
		RetryCeiling:           cfg.RetryCeiling,
		BaseInterval:           cfg.BaseInterval,
		MaxBackoff:             cfg.MaxBackoff,
		WakeDelay:              cfg.WakeDelay,
		HTTPTimeout:            cfg.HTTPTimeout,
		HardInterval:           cfg.HardInterval,
	}

	opts := []predem.Option{
		predem.WithLogger(logger),
		predem.WithRetentionConfig(predem.RetentionConfig{
			Enabled:       !cfg.NoRetention,
			HighWatermark: int64(cfg.RetentionHighMB) << 20,
			LowWatermark:  int64(cfg.RetentionLowMB) << 20,
		}),
		predem.WithResourceGatingConfig(predem.ResourceGatingConfig{
			// A one-shot drain should not wait on host load.
			Enabled:      !cfg.NoGating && !cfg.Once,
			CPUThreshold: cfg.CPUThreshold,
		}),
	}
	if !cfg.NoInbox {
		opts = append(opts, inbox.WithInbox(inbox.Config{Dir: cfg.InboxDir}))
	}

	agent, err := predem.New(libCfg, opts...)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	defer agent.Close()

	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}

	if cfg.Once {
		err := agent.Drain(ctx)
		if stopErr := agent.Stop(); stopErr != nil {
			return fmt.Errorf("stop agent: %w", stopErr)
		}
		if errors.Is(err, predem.ErrNotConfigured) {
			return errors.New("--once needs a service URL")
		}
		return err
	}

	<-ctx.Done()
	logger.Info("received signal, stopping")

	if err := agent.Stop(); err != nil {
		return fmt.Errorf("stop agent: %w", err)
	}
	return nil
}
