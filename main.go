package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-notify/config"
	"github.com/aquasecurity/vuln-notify/engine"
	"github.com/aquasecurity/vuln-notify/health"
	"github.com/aquasecurity/vuln-notify/metrics"
	"github.com/aquasecurity/vuln-notify/notify"
	"github.com/aquasecurity/vuln-notify/nvd"
	"github.com/aquasecurity/vuln-notify/seen"
	"github.com/aquasecurity/vuln-notify/utils"
)

const shutdownTimeout = 10 * time.Second

var cfgFile string

// flagKeys maps config keys to the persistent flags overriding them.
var flagKeys = map[string]string{
	"log_level": "log-level",
	"seen_file": "seen-file",
}

var rootCmd = &cobra.Command{
	Use:           "vuln-notify",
	Short:         "Post newly published NVD CVEs to a Discord or Slack channel",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBot,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single poll cycle and exit",
	RunE:  runOnce,
}

var seenCmd = &cobra.Command{
	Use:   "seen",
	Short: "List the CVE IDs already processed",
	RunE:  listSeen,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./vuln-notify.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().String("seen-file", "", "path of the processed CVE IDs file")
	rootCmd.AddCommand(onceCmd, seenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

// loadConfig merges flags, the environment and the config file, then installs the logger.
func loadConfig(cmd *cobra.Command, validate bool) (config.Config, error) {
	v := viper.New()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return config.Config{}, xerrors.Errorf("config error: %w", err)
	}
	if err = utils.InitLogger(cfg.LogLevel); err != nil {
		return config.Config{}, err
	}
	if validate {
		if err = cfg.Validate(); err != nil {
			return config.Config{}, xerrors.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key, name := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			return xerrors.Errorf("unknown flag --%s", name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return xerrors.Errorf("flag binding error: %w", err)
		}
	}
	return nil
}

func newDestination(cfg config.Config) notify.Destination {
	if cfg.Destination == config.DestinationSlack {
		return notify.NewSlack(cfg.SlackToken, cfg.ChannelID)
	}
	return notify.NewDiscordBot(cfg.DiscordToken, cfg.ChannelID)
}

func newEngine(cfg config.Config, m *metrics.Metrics) *engine.Engine {
	fetcher := nvd.NewFetcher(nvd.WithBaseURL(cfg.NVDURL), nvd.WithAPIKey(cfg.NVDAPIKey))
	store := seen.NewStore(cfg.SeenFile)
	set := store.Load()
	slog.Info("Loaded seen CVEs", "path", store.Path(), "count", set.Len())

	return engine.New(fetcher, notify.NewPublisher(newDestination(cfg)), store, set,
		engine.WithInterval(cfg.PollInterval),
		engine.WithMinSeverity(cfg.MinCVSS),
		engine.WithMetrics(m),
	)
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	slog.Info("Starting vuln-notify", "config", cfg.String())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	eng := newEngine(cfg, m)
	srv := health.NewServer(cfg.Addr(), eng, m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return xerrors.Errorf("health server shutdown error: %w", err)
		}
		return nil
	})

	if err = g.Wait(); err != nil {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := newEngine(cfg, metrics.New()).RunCycle(ctx)
	if err != nil {
		return xerrors.Errorf("cycle error: %w", err)
	}
	slog.Info("Cycle finished", "fetched", res.Fetched, "new", res.New, "sent", res.Sent,
		"failed", res.Failed, "below_threshold", res.BelowThreshold)
	return nil
}

func listSeen(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}

	set := seen.NewStore(cfg.SeenFile).Load()
	out := cmd.OutOrStdout()
	for _, id := range set.IDs() {
		fmt.Fprintln(out, id)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d CVEs tracked in %s\n", set.Len(), cfg.SeenFile)
	return nil
}
