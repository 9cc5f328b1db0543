package main

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/proofmind/internal/auth"
	"github.com/MarcoPoloResearchLab/proofmind/internal/certificates"
	"github.com/MarcoPoloResearchLab/proofmind/internal/config"
	"github.com/MarcoPoloResearchLab/proofmind/internal/database"
	"github.com/MarcoPoloResearchLab/proofmind/internal/eventbus"
	"github.com/MarcoPoloResearchLab/proofmind/internal/logging"
	"github.com/MarcoPoloResearchLab/proofmind/internal/metrics"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// registryRuntime holds the process-wide collaborators shared by the server and the CLI commands.
type registryRuntime struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
	bus    *eventbus.RedisBus
}

func openRuntime(ctx context.Context) (*registryRuntime, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	runtime := &registryRuntime{config: appConfig, logger: logger, db: db}
	if appConfig.RedisAddress != "" {
		bus, err := eventbus.NewRedisBus(ctx, eventbus.RedisConfig{
			Address: appConfig.RedisAddress,
			Channel: appConfig.RedisChannel,
			Logger:  logger,
		})
		if err != nil {
			runtime.Close()
			return nil, err
		}
		runtime.bus = bus
	}
	return runtime, nil
}

func (r *registryRuntime) newService(events certificates.EventSink, workflowMetrics *metrics.Metrics) (*certificates.Service, error) {
	verifierID, err := certificates.NewOwnerID(r.config.VerifierID)
	if err != nil {
		return nil, err
	}
	return certificates.NewService(certificates.ServiceConfig{
		Database:   r.db,
		Clock:      time.Now,
		IDProvider: certificates.NewUUIDProvider(),
		VerifierID: verifierID,
		Events:     certificates.NewFanoutSink(events, newEventLogSink(r.logger)),
		Metrics:    workflowMetrics,
		Logger:     r.logger,
	})
}

func (r *registryRuntime) Close() {
	if r.bus != nil {
		if err := r.bus.Close(); err != nil {
			r.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if sqlDB, err := r.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = r.logger.Sync()
}

func newTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	if err := appConfig.ValidateAuth(); err != nil {
		return nil, err
	}
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
}

type eventLogSink struct {
	logger *zap.Logger
}

func newEventLogSink(logger *zap.Logger) certificates.EventSink {
	return eventLogSink{logger: logger}
}

func (s eventLogSink) Publish(_ context.Context, event certificates.Event) error {
	s.logger.Debug("certificate event emitted",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("owner_id", event.Owner),
		zap.String("proof_id", event.ProofID))
	return nil
}
