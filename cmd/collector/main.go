package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/api"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/collector"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/config"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/logging"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/notify"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/prometheus"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/sampler"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/store"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/upsert"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/version"
)

func main() {
	var (
		configPath  string
		showVersion bool
	)
	pflag.StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
	pflag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println(version.Get().String())
		return
	}

	// Load configuration
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	info := version.Get()
	logger.Info("Starting eco-stack collector",
		zap.String("version", info.Version),
		zap.String("gitCommit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
		zap.String("goVersion", info.GoVersion),
		zap.String("platform", info.Platform),
		zap.String("addr", cfg.Server.Addr),
		zap.String("prometheus", cfg.Prometheus.URL),
		zap.String("storage", cfg.Storage.Driver),
	)

	if err := run(logger, cfg); err != nil {
		logger.Fatal("Collector failed", zap.Error(err))
	}

	logger.Info("Collector exited")
}

func run(logger *zap.Logger, cfg *config.Config) error {
	loc, err := cfg.Collection.Location()
	if err != nil {
		return fmt.Errorf("failed to load time zone: %w", err)
	}

	hosts, err := hostContexts(cfg.Collection.ResolvedHosts())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	st, err := store.Open(ctx, store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DatabaseURL: cfg.Storage.DatabaseURL,
	}, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	// Metrics backend
	client, err := prometheus.NewClient(logger.Named("prometheus"), prometheus.Config{
		URL:          cfg.Prometheus.URL,
		Timeout:      cfg.Prometheus.Timeout,
		MaxRetries:   cfg.Prometheus.MaxRetries,
		RetryBackoff: cfg.Prometheus.RetryBackoff,
		QPS:          cfg.Prometheus.QPS,
	})
	if err != nil {
		return fmt.Errorf("failed to create prometheus client: %w", err)
	}

	samplers, err := newSamplers(logger.Named("sampler"), client, cfg.Collection)
	if err != nil {
		return err
	}

	upserter := upsert.NewUpserter(logger.Named("upsert"), st, upsert.Config{
		MaxConflictRetries: cfg.Collection.MaxConflictRetries,
		Location:           loc,
	})

	notifier, err := newNotifier(logger.Named("notify"), cfg.Notifications.MQTT)
	if err != nil {
		return err
	}
	defer notifier.Close()

	runner := collector.NewRunner(logger.Named("collector"), samplers, upserter, notifier, collector.Config{
		Window:     cfg.Collection.GetWindow(),
		Bucket:     cfg.Collection.GetBucket(),
		RunTimeout: cfg.Collection.GetRunTimeout(),
		Location:   loc,
	})

	schedConfig := collector.SchedulerConfig{
		Interval:   cfg.Collection.GetInterval(),
		Location:   loc,
		RunOnStart: cfg.Collection.RunOnStart,
	}
	if cfg.Collection.DailyAt != "" {
		hour, minute, err := cfg.Collection.DailyTime()
		if err != nil {
			return err
		}
		schedConfig.Daily = true
		schedConfig.DailyHour = hour
		schedConfig.DailyMin = minute
	}
	scheduler := collector.NewScheduler(logger.Named("scheduler"), runner, hosts, schedConfig)

	apiServer := api.NewServer(logger.Named("api"), api.Options{
		Store:               st,
		Runs:                runner,
		Trigger:             scheduler,
		ManualRunsPerMinute: cfg.Server.ManualRunsPerMinute,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	scheduler.Start(ctx)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	return runErr
}

func hostContexts(hosts []config.HostConfig) ([]upsert.HostContext, error) {
	out := make([]upsert.HostContext, 0, len(hosts))
	for _, h := range hosts {
		if err := sampler.ValidateHost(h.Address); err != nil {
			return nil, err
		}
		hc := upsert.HostContext{
			Host:         h.Address,
			InstanceID:   h.InstanceID,
			ProjectID:    h.ProjectID,
			HypervisorID: h.HypervisorID,
		}
		if err := hc.Validate(); err != nil {
			return nil, err
		}
		out = append(out, hc)
	}
	return out, nil
}

// newSamplers returns the CPU sampler followed by the memory sampler
func newSamplers(logger *zap.Logger, querier prometheus.Querier, cfg config.CollectionConfig) ([]sampler.Sampler, error) {
	policy, err := sampler.ParseErrorPolicy(cfg.ErrorPolicy)
	if err != nil {
		return nil, err
	}
	aggregation, err := sampler.ParseAggregation(cfg.CPUAggregation)
	if err != nil {
		return nil, err
	}

	return []sampler.Sampler{
		sampler.NewCPUSampler(logger, querier, sampler.CPUConfig{
			Cores:       cfg.CPUCores,
			Aggregation: aggregation,
			Policy:      policy,
		}),
		sampler.NewMemorySampler(logger, querier, policy),
	}, nil
}

func newNotifier(logger *zap.Logger, cfg config.MQTTConfig) (notify.Notifier, error) {
	if !cfg.Enabled {
		return notify.Nop{}, nil
	}

	n, err := notify.NewMQTTNotifier(logger, notify.MQTTConfig{
		BrokerURL: cfg.BrokerURL,
		ClientID:  cfg.ClientID,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Topic:     cfg.Topic,
		QoS:       byte(cfg.QoS),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT notifier: %w", err)
	}
	return n, nil
}
