package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/proofmind/internal/certificates"
	"github.com/MarcoPoloResearchLab/proofmind/internal/config"
	"github.com/MarcoPoloResearchLab/proofmind/internal/metrics"
	"github.com/MarcoPoloResearchLab/proofmind/internal/server"
	"github.com/MarcoPoloResearchLab/proofmind/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "proofmind",
		Short:         "ProofMind certificate registry",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newTokenCommand(),
		newSubmitCommand(),
		newUpdateCommand(),
		newVerifyCommand(),
		newGetCommand(),
		newListCommand(),
		newCategoryCommand(),
		newStatsCommand(),
		newEventsCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Bearer token signing secret (overrides env)")
	cmd.PersistentFlags().String("verifier-id", "", "Identity allowed to record verification verdicts")
	cmd.PersistentFlags().String("redis-address", "", "Redis address for event fan-out (disabled when empty)")
	cmd.PersistentFlags().String("redis-channel", defaults.GetString("redis.channel"), "Redis pub/sub channel for certificate events")
	cmd.PersistentFlags().Bool("metrics-enabled", defaults.GetBool("metrics.enabled"), "Expose Prometheus metrics on /metrics")
	cmd.PersistentFlags().Bool("tracing-enabled", defaults.GetBool("tracing.enabled"), "Export OpenTelemetry spans to stdout")
	cmd.PersistentFlags().String("format", formatJSON, "Output format for commands (json, yaml)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "registry.verifier_id", "verifier-id")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "redis.channel", "redis-channel")
	bindFlag(cmd, "metrics.enabled", "metrics-enabled")
	bindFlag(cmd, "tracing.enabled", "tracing-enabled")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	runtime, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer runtime.Close()

	appConfig := runtime.config
	logger := runtime.logger
	if err := appConfig.ValidateAuth(); err != nil {
		return err
	}

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled: appConfig.TracingEnabled,
		Version: certificates.RegistryVersion,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	tokenManager, err := newTokenIssuer(appConfig)
	if err != nil {
		return err
	}

	var (
		workflowMetrics *metrics.Metrics
		metricsHandler  http.Handler
	)
	if appConfig.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		workflowMetrics = metrics.New(registry)
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := server.NewRealtimeDispatcher()
	var delivery certificates.EventSink = dispatcher
	if runtime.bus != nil {
		// Every instance publishes to Redis and streams what Redis forwards back.
		if err := runtime.bus.StartForwarder(signalCtx, dispatcher); err != nil {
			return err
		}
		delivery = runtime.bus
	}

	certificatesService, err := runtime.newService(delivery, workflowMetrics)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:        tokenManager,
		CertificatesService: certificatesService,
		Realtime:            dispatcher,
		MetricsHandler:      metricsHandler,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Open event streams end when the process is asked to stop.
		BaseContext: func(net.Listener) context.Context { return signalCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("verifier_id", appConfig.VerifierID),
			zap.Bool("redis_enabled", runtime.bus != nil))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
