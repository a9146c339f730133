package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/otrix/occam-agents/internal/agent"
	"github.com/otrix/occam-agents/internal/agent/builtin"
	"github.com/otrix/occam-agents/internal/api"
	"github.com/otrix/occam-agents/internal/audit"
	"github.com/otrix/occam-agents/internal/clock"
	"github.com/otrix/occam-agents/internal/config"
	"github.com/otrix/occam-agents/internal/crypto"
	"github.com/otrix/occam-agents/internal/events"
	"github.com/otrix/occam-agents/internal/factbox"
	"github.com/otrix/occam-agents/internal/governance"
	"github.com/otrix/occam-agents/internal/orchestrator"
	"github.com/otrix/occam-agents/internal/status"
	"github.com/otrix/occam-agents/internal/vault"
	"github.com/otrix/occam-agents/internal/workflow"
)

func main() {
	// 1. Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("starting OCCAM compliance agent orchestrator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.NewReal()

	// 3. Crypto
	encryptor, err := crypto.NewFieldEncryptor(
		[]string{cfg.Vault.MasterKeyBase64},
		1,
		cfg.Vault.MasterKeyBase64,
	)
	if err != nil {
		logger.Fatal("failed to initialize field encryptor", zap.Error(err))
	}

	// 4. Redis (FactBox cache, Governance rate counters, Vault rotation lock)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// 5. Audit Log (Ledger + SearchIndex + Archive)
	ledger, err := audit.NewLedger(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect audit ledger to postgres", zap.Error(err))
	}
	defer ledger.Close()

	searchIndex, err := audit.NewSearchIndex(cfg.Elasticsearch)
	if err != nil {
		logger.Warn("failed to connect elasticsearch, search will be unavailable", zap.Error(err))
	}

	archive, err := audit.NewArchive(ctx, cfg.S3, clk)
	if err != nil {
		logger.Fatal("failed to initialize audit archive", zap.Error(err))
	}

	auditLog := audit.NewLog(ledger, searchIndex, archive, encryptor, clk, logger)

	// 6. Secure Vault
	vaultStore, err := vault.NewStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect vault store to postgres", zap.Error(err))
	}
	rotationLock := vault.NewRotationLock(rdb, 30*time.Second)
	passwordPolicy := vault.NewPasswordPolicy(cfg.Vault)
	secureVault := vault.New(vaultStore, encryptor, rotationLock, passwordPolicy, auditLog, clk, logger)

	// 7. FactBox
	factStore, err := factbox.NewStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect factbox store to postgres", zap.Error(err))
	}
	factCache := factbox.NewCache(rdb, cfg.Redis.FactBoxTTL)
	fb := factbox.New(factStore, factCache, auditLog, clk, logger)

	// 8. Governance
	counters := governance.NewCounters(rdb)
	approvalStore, err := governance.NewApprovalStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect approval store to postgres", zap.Error(err))
	}
	thresholds, err := governance.ThresholdsFromConfig(cfg.Governance)
	if err != nil {
		logger.Fatal("failed to parse governance thresholds", zap.Error(err))
	}
	gov := governance.New(thresholds, counters, approvalStore, auditLog, clk, logger)

	// 9. Agent Registry — register the six builtin reference agents in
	// dependency order (consultancy declares compliance as a dependency).
	registry := agent.NewRegistry(clk)
	if err := registry.Register(builtin.NewComplianceAgent("compliance-agent")); err != nil {
		logger.Fatal("failed to register compliance agent", zap.Error(err))
	}
	if err := registry.Register(builtin.NewConsultancyAgent("consultancy-agent", "compliance-agent")); err != nil {
		logger.Fatal("failed to register consultancy agent", zap.Error(err))
	}
	if err := registry.Register(builtin.NewPaymentAgent("payment-agent")); err != nil {
		logger.Fatal("failed to register payment agent", zap.Error(err))
	}
	if err := registry.Register(builtin.NewFormAgent("form-agent")); err != nil {
		logger.Fatal("failed to register form agent", zap.Error(err))
	}
	if err := registry.Register(builtin.NewAccountAgent("account-agent")); err != nil {
		logger.Fatal("failed to register account agent", zap.Error(err))
	}
	if err := registry.Register(builtin.NewStatusAgent("status-agent")); err != nil {
		logger.Fatal("failed to register status agent", zap.Error(err))
	}

	// 10. Workflow State Machine
	workflowStore, err := workflow.NewStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect workflow store to postgres", zap.Error(err))
	}
	workflows := workflow.New(workflowStore, auditLog, clk, logger)

	// 11. Orchestrator
	orch := orchestrator.New(registry, workflows, gov, fb, secureVault, auditLog, clk, logger, cfg.Orchestrator)

	// 12. Status / Alert Engine, with Log + Slack delivery channels
	channels := []status.Channel{status.NewLogChannel(logger)}
	if cfg.Alerting.SlackWebhookURL != "" {
		channels = append(channels, status.NewSlackChannel(cfg.Alerting.SlackWebhookURL, cfg.Alerting.SlackChannel, logger))
	}
	statusEngine := status.New(workflows, fb, auditLog, clk, logger, cfg.Alerting, channels...)
	scheduler := status.NewScheduler(statusEngine, logger)
	if err := scheduler.Start(cfg.Alerting.SweepInterval); err != nil {
		logger.Fatal("failed to start renewal sweep scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	// 13. Kafka submission consumer
	consumer, err := events.NewSubmissionConsumer(cfg.Kafka, orch, logger)
	if err != nil {
		logger.Fatal("failed to create kafka consumer", zap.Error(err))
	}
	go func() {
		logger.Info("starting kafka submission consumer loop")
		if err := consumer.Start(ctx); err != nil {
			logger.Error("kafka consumer stopped", zap.Error(err))
		}
	}()
	defer consumer.Close()

	// 14. HTTP API
	server := api.NewServer(cfg.Auth, workflows, fb, statusEngine, gov, orch, auditLog, logger)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	// 15. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down OCCAM compliance agent orchestrator")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	cancel()
}
