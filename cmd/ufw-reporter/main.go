package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/adapters/filter"
	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/adapters/input"
	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/adapters/output"
	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/adapters/storage"
	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/app"
	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/ports"
)

var (
	cfgFile string

	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "ufw-reporter",
	Short: "Report UFW-blocked IP addresses to AbuseIPDB",
	Long: `ufw-reporter follows the UFW firewall log and reports the source
address of every blocked connection to AbuseIPDB.

Each address is reported at most once per cool-down interval (12h by
default); private, reserved and allowlisted addresses are never reported.
The report cache survives restarts.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the firewall log and report blocked IPs",
	Long: `Start following the configured log file from its current end and
report every new block event.

Examples:
  ufw-reporter run
  ufw-reporter run --log /var/log/ufw.log --cache /var/lib/ufw-reporter/cache
  ufw-reporter run --dry-run --log-level debug
  UFW_REPORTER_REPORT_API_KEY=... ufw-reporter run --metrics`,
	RunE: runReporter,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ufw-reporter %s\n", Version)
		fmt.Printf("Commit:  %s\n", Commit)
		fmt.Printf("Built:   %s\n", BuildTime)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml)")
	rootCmd.PersistentFlags().StringP("log", "l", "", "firewall log file to watch")
	rootCmd.PersistentFlags().String("cache", "", "report cache file")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("dry-run", false, "log reports instead of sending them")
	runCmd.Flags().Bool("metrics", false, "serve Prometheus metrics and health endpoints")

	_ = viper.BindPFlag("log.path", rootCmd.PersistentFlags().Lookup("log"))
	_ = viper.BindPFlag("cache.path", rootCmd.PersistentFlags().Lookup("cache"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("report.dry_run", rootCmd.PersistentFlags().Lookup("dry-run"))
	_ = viper.BindPFlag("metrics.enabled", runCmd.Flags().Lookup("metrics"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newCacheCmd())
	rootCmd.AddCommand(newCheckCmd())
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Error loading .env file")
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/ufw-reporter")
	}

	app.SetDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn().Err(err).Msg("Error reading config file")
		}
	}

	viper.SetEnvPrefix("UFW_REPORTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func setupLogging(cfg *app.Config) {
	zerolog.TimeFieldFormat = time.RFC3339

	switch cfg.LogLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02 15:04:05",
		})
	}
}

// loadConfig resolves and validates the configuration, then configures
// logging from it.
func loadConfig(requireReporter bool) (*app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	if !requireReporter && cfg.APIKey == "" {
		cfg.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setupLogging(cfg)
	return cfg, nil
}

func userAgent() string {
	return fmt.Sprintf("Mozilla/5.0 (compatible; UFW-AbuseIPDB-Reporter/%s; +%s)", Version, app.ProjectURL)
}

func openStore(cfg *app.Config) (ports.CacheStore, error) {
	switch cfg.CacheBackend {
	case app.CacheBackendBolt:
		return storage.NewBoltStore(cfg.CachePath)
	default:
		return storage.NewTextStore(cfg.CachePath), nil
	}
}

func newReporter(cfg *app.Config) (ports.Reporter, error) {
	if cfg.DryRun {
		log.Warn().Msg("Dry run enabled, reports will only be logged")
		return output.NewDryRunReporter(), nil
	}
	return output.NewAbuseIPDBReporter(output.AbuseIPDBConfig{
		APIKey:    cfg.APIKey,
		Endpoint:  cfg.Endpoint,
		UserAgent: userAgent(),
		Timeout:   cfg.Timeout,
	})
}

// buildDispatcher wires the parts shared by "run" and "check".
func buildDispatcher(ctx context.Context, cfg *app.Config, reporter ports.Reporter) (*app.Dispatcher, *app.ReportCache, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	cache := app.NewReportCache(store, cfg.Interval)
	if err := cache.Load(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	table, err := app.ParseCategoryOverrides(cfg.Categories)
	if err != nil {
		cache.Close()
		return nil, nil, err
	}
	tmpl, err := app.ParseCommentTemplate(cfg.CommentTemplate)
	if err != nil {
		cache.Close()
		return nil, nil, err
	}

	var filters []ports.AddressFilter
	if cfg.AllowlistPath != "" {
		allowlist := filter.NewAllowlist(cfg.AllowlistPath)
		if err := allowlist.Load(ctx); err != nil {
			cache.Close()
			return nil, nil, err
		}
		filters = append(filters, allowlist)
	}

	dispatcher, err := app.NewDispatcher(app.DispatcherConfig{
		Parser:          input.NewUFWParser(cfg.BlockMarker),
		Cache:           cache,
		Categorizer:     app.NewCategorizer(table),
		Reporter:        reporter,
		Filters:         filters,
		CommentTemplate: tmpl,
		Timeout:         cfg.Timeout,
	})
	if err != nil {
		cache.Close()
		return nil, nil, err
	}
	return dispatcher, cache, nil
}

func runReporter(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", Version).
		Str("log", cfg.LogPath).
		Str("cache", cfg.CachePath).
		Dur("interval", cfg.Interval).
		Msg("UFW AbuseIPDB Reporter started")

	reporter, err := newReporter(cfg)
	if err != nil {
		return err
	}

	dispatcher, cache, err := buildDispatcher(ctx, cfg, reporter)
	if err != nil {
		return err
	}
	defer cache.Close()

	tailer := input.NewFileTailer(cfg.LogPath, 1000)
	tailer.SetPollInterval(cfg.PollInterval)
	if err := tailer.Init(); err != nil {
		if !errors.Is(err, domain.ErrLogFileMissing) {
			return err
		}
		if cfg.OnMissing == app.OnMissingExit {
			log.Error().Str("file", cfg.LogPath).Msg("Log file does not exist")
			return err
		}
		log.Warn().Str("file", cfg.LogPath).Msg("Log file does not exist, idling until stopped")
		<-ctx.Done()
		return nil
	}

	monitor := app.NewMonitor(tailer, dispatcher)
	dispatcher.AddSubscriber(monitor.InternalMetrics())

	history := output.NewReportHistory(100)
	dispatcher.AddSubscriber(history)

	if cfg.JournalPath != "" {
		journal, err := output.NewReportJournal(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open report journal: %w", err)
		}
		defer journal.Close()
		dispatcher.AddSubscriber(journal)
	}

	var promMetrics *output.PrometheusMetrics
	if cfg.MetricsEnabled {
		promMetrics = output.NewPrometheusMetrics("ufw_reporter", nil, monitor.InternalMetrics())
		dispatcher.AddObserver(promMetrics)
		dispatcher.AddSubscriber(promMetrics)
		dispatcher.SetMetrics(promMetrics)
		cache.SetMetrics(promMetrics)
		tailer.OnTruncate(promMetrics.IncrementTruncations)
	}

	if cfg.WatchConfig && viper.ConfigFileUsed() != "" {
		hot := app.NewHotReloadConfig(app.HotReloadOptions{
			ConfigPath: viper.ConfigFileUsed(),
			Dispatcher: dispatcher,
			Cache:      cache,
		})
		hot.StartWatching(ctx)
		defer hot.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return monitor.Run(gctx)
	})

	if promMetrics != nil {
		health := output.NewHealthChecker(monitor, tailer, cache, output.DefaultHealthCheckerConfig())
		g.Go(func() error {
			return promMetrics.Serve(gctx, output.MetricsConfig{
				Addr: cfg.MetricsAddr,
				Path: "/metrics",
				Handlers: map[string]http.Handler{
					"/healthz": health,
					"/reports": history,
				},
			})
		})
	}

	err = g.Wait()

	snap := monitor.Metrics()
	log.Info().
		Int64("lines", snap.TotalLines).
		Int64("reported", snap.Reported).
		Int64("failed", snap.FailedReports).
		Int64("skipped", snap.Skipped).
		Msg("Shutting down...")
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
