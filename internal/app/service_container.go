package app

import (
	"context"
	"fmt"
	"time"

	"lottery-backend/internal/clients"
	"lottery-backend/internal/commitment"
	"lottery-backend/internal/config"
	"lottery-backend/internal/epoch"
	"lottery-backend/internal/events"
	"lottery-backend/internal/handlers"
	"lottery-backend/internal/interfaces"
	"lottery-backend/internal/repository"
	"lottery-backend/internal/router"
	"lottery-backend/internal/services"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const busHistory = 2000

// ServiceContainer wires adapters, the coordinator and its observers
type ServiceContainer struct {
	Config *config.Config

	// Database; nil when persistence is disabled
	DB *gorm.DB

	// Repositories
	EpochRepo          repository.EpochRepository // nil without a database
	ReconciliationRepo repository.ReconciliationRepository

	// Chain adapters
	Settlement       interfaces.SettlementChainAdapter
	Privacy          interfaces.PrivacyChainAdapter
	MemorySettlement *clients.MemorySettlementChain // memory mode only
	MemoryPrivacy    *clients.MemoryPrivacyChain    // memory mode only
	Confirmer        *clients.ReceiptConfirmer      // remote mode with RPC endpoints
	ZKVMClient       *clients.ZKVMClient

	// Core
	Bus                   *events.Bus
	Coordinator           *services.Coordinator
	ReconciliationService *services.ReconciliationService
	EventRecorder         *services.EventRecorder // nil without a database

	// Push, polling & monitoring
	NATSClient           *clients.NATSClient
	WebSocketPushService *services.WebSocketPushService
	PollingService       *services.PollingService
	MonitoringService    *services.MonitoringService

	AdminAuth *handlers.AdminAuthHandler
}

// NewServiceContainer build every service for cfg. conn may be nil.
func NewServiceContainer(ctx context.Context, cfg *config.Config, conn *gorm.DB) (*ServiceContainer, error) {
	logrus.WithField("mode", cfg.Coordinator.Mode).Info("🚀 Initializing Service Container...")

	c := &ServiceContainer{Config: cfg, DB: conn}

	c.initRepositories()

	if err := c.initAdapters(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize chain adapters: %w", err)
	}

	if err := c.initCoordinator(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize coordinator: %w", err)
	}

	// Event services are optional, log but don't fail
	if err := c.initEventServices(); err != nil {
		logrus.Warnf("⚠️ Event services initialization skipped or failed: %v", err)
	}

	c.PollingService = services.NewPollingService(c.Coordinator, cfg.Coordinator.PollIntervalDuration(), cfg.Coordinator.AutoAdvance)
	c.MonitoringService = services.NewMonitoringService(c.DB, c.ReconciliationService, 10*time.Second)
	c.AdminAuth = handlers.NewAdminAuthHandlerFromEnv(cfg.Admin.Username)

	if c.NATSClient != nil && cfg.NATS.NoticeSubject != "" {
		err := c.NATSClient.SubscribeChainNotices(cfg.NATS.NoticeSubject, func(subject string, data []byte) {
			logrus.WithField("subject", subject).Debug("📨 [NATS] chain notice, polling now")
			c.PollingService.Trigger()
		})
		if err != nil {
			logrus.Warnf("⚠️ [NATS] chain notices unavailable: %v", err)
		}
	}

	logrus.Info("✅ Service Container initialized successfully")
	return c, nil
}

func (c *ServiceContainer) initRepositories() {
	if c.DB == nil {
		c.ReconciliationRepo = repository.NewMemoryReconciliationRepository()
		logrus.Info("📦 Repositories: in-memory (no database)")
		return
	}
	c.EpochRepo = repository.NewEpochRepository(c.DB)
	c.ReconciliationRepo = repository.NewReconciliationRepository(c.DB)
	c.EventRecorder = services.NewEventRecorder(repository.NewBridgeEventRepository(c.DB))
	logrus.Info("📦 Repositories: postgres")
}

func (c *ServiceContainer) initAdapters(ctx context.Context) error {
	cfg := c.Config
	if cfg.Coordinator.Mode == config.ModeMemory {
		c.MemorySettlement = clients.NewMemorySettlementChain()
		c.MemoryPrivacy = clients.NewMemoryPrivacyChain()
		c.Settlement = c.MemorySettlement
		c.Privacy = c.MemoryPrivacy
		logrus.Warn("🧪 [ServiceContainer] memory mode: both chains are simulated in process")
		return nil
	}

	c.Settlement = clients.NewSettlementClient(cfg.Settlement.GatewayURL, clients.SettlementClientOptions{
		Timeout:            seconds(cfg.Settlement.Timeout),
		BreakerMaxFailures: cfg.Settlement.BreakerMaxFailures,
		BreakerTimeout:     seconds(cfg.Settlement.BreakerTimeout),
	})

	var prover interfaces.ProofProvider
	if cfg.ZKVM.BaseURL != "" {
		c.ZKVMClient = clients.NewZKVMClient(cfg.ZKVM.BaseURL)
		prover = clients.ZKVMProver{Client: c.ZKVMClient}
	} else {
		logrus.Warn("⚠️ [ServiceContainer] zkvm.baseUrl not set, withdrawals will fail at proof generation")
	}
	c.Privacy = clients.NewPrivacyClient(cfg.Privacy.NodeURL, prover, clients.PrivacyClientOptions{
		Timeout:            seconds(cfg.Privacy.Timeout),
		BreakerMaxFailures: cfg.Privacy.BreakerMaxFailures,
		BreakerTimeout:     seconds(cfg.Privacy.BreakerTimeout),
	})

	if len(cfg.Settlement.RPCEndpoints) > 0 {
		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		confirmer, err := clients.DialReceiptConfirmer(dialCtx, cfg.Settlement.RPCEndpoints,
			cfg.Settlement.Confirmations, time.Duration(cfg.Settlement.ConfirmInterval)*time.Millisecond)
		if err != nil {
			logrus.Warnf("⚠️ [ServiceContainer] %v", err)
			logrus.Warn("   → settlement transactions are accepted on gateway reply without confirmations")
		} else {
			c.Confirmer = confirmer
		}
	}
	return nil
}

func (c *ServiceContainer) initCoordinator(ctx context.Context) error {
	cfg := c.Config

	engine, err := commitment.NewEngine(commitment.HashFamily(cfg.Coordinator.HashFamily))
	if err != nil {
		return err
	}
	minDeposit, err := cfg.MinDeposit()
	if err != nil {
		return err
	}

	c.Bus = events.NewBus(busHistory)
	if c.EventRecorder != nil {
		if err := c.EventRecorder.ResumeBus(ctx, c.Bus); err != nil {
			return fmt.Errorf("resume event sequence: %w", err)
		}
	}
	c.ReconciliationService = services.NewReconciliationService(c.ReconciliationRepo)

	retry := services.DefaultRetryPolicy()
	retry.Base = cfg.Coordinator.RetryBase()
	retry.Cap = cfg.Coordinator.RetryCap()
	retry.MaxRetries = cfg.Coordinator.MaxRetries
	retry.CallTimeout = cfg.Coordinator.CallTimeoutDuration()
	if cfg.ZKVM.Timeout > 0 {
		retry.ProofTimeout = seconds(cfg.ZKVM.Timeout)
	}

	opts := services.CoordinatorOptions{
		Engine:        engine,
		Retry:         retry,
		AdminIdentity: cfg.Settlement.AdminIdentity,
		Params: epoch.Params{
			MaxParticipants: cfg.Coordinator.MaxParticipants,
			MinDeposit:      minDeposit,
			Duration:        cfg.Coordinator.EpochDurationValue(),
		},
		Recorder: c.ReconciliationService,
		Bus:      c.Bus,
	}
	if c.EpochRepo != nil {
		opts.Store = c.EpochRepo
	}
	if c.Confirmer != nil {
		opts.Confirmer = c.Confirmer
	}
	c.Coordinator = services.NewCoordinator(c.Settlement, c.Privacy, opts)

	if c.EventRecorder != nil {
		c.Coordinator.OnEvent("event_log", c.EventRecorder.Handler())
	}
	c.WebSocketPushService = services.NewWebSocketPushService()
	c.Coordinator.OnEvent("websocket", c.WebSocketPushService.Handler())

	if c.MemorySettlement != nil {
		sim := newMemorySimulator(c.MemorySettlement, c.MemoryPrivacy, uint64(cfg.Coordinator.SimulatedYieldBps))
		c.Coordinator.OnEvent("memory_simulator", sim.Handler())
	}
	return nil
}

// initEventServices NATS publishing of bridge events
func (c *ServiceContainer) initEventServices() error {
	if c.Config.NATS.URL == "" {
		return fmt.Errorf("NATS not configured")
	}

	logrus.Info("📡 Initializing Event Services...")
	natsClient, err := clients.NewNATSClient(c.Config.NATS)
	if err != nil {
		logrus.Errorf("❌ Failed to connect to NATS at %s: %v", c.Config.NATS.URL, err)
		logrus.Error("   → Please ensure NATS server is running on port 4222 (or configured port)")
		return fmt.Errorf("failed to create NATS client: %w", err)
	}
	c.NATSClient = natsClient
	c.Coordinator.OnEvent("nats", events.NATSForwarder(natsClient))
	logrus.Info("✅ Event Services initialized")
	return nil
}

// Start restore persisted state and launch background loops
func (c *ServiceContainer) Start(ctx context.Context) error {
	if c.Config.Coordinator.Mode == config.ModeMemory {
		logrus.Info("ℹ️ [ServiceContainer] memory chains start empty, persisted epochs are not restored")
	} else if err := c.Coordinator.Restore(ctx); err != nil {
		return fmt.Errorf("restore coordinator: %w", err)
	}
	c.PollingService.Start()
	c.MonitoringService.Start()
	return nil
}

// RouterHandlers HTTP handlers bound to this container's services
func (c *ServiceContainer) RouterHandlers() router.Handlers {
	var funder handlers.DepositFunder
	if c.MemorySettlement != nil {
		funder = c.MemorySettlement
	}
	return router.Handlers{
		Epoch:          handlers.NewEpochHandler(c.Coordinator, c.EpochRepo),
		Deposit:        handlers.NewDepositHandler(c.Coordinator, funder),
		Withdrawal:     handlers.NewWithdrawalHandler(c.Coordinator),
		Event:          handlers.NewEventHandler(c.Bus, c.EventRecorder),
		Reconciliation: handlers.NewReconciliationHandler(c.ReconciliationService),
		WebSocket:      handlers.NewWebSocketHandler(c.WebSocketPushService),
		AdminAuth:      c.AdminAuth,
	}
}

// Cleanup stop background loops and close connections
func (c *ServiceContainer) Cleanup() {
	logrus.Info("🧹 Cleaning up Service Container...")

	if c.PollingService != nil {
		c.PollingService.Stop()
	}
	if c.MonitoringService != nil {
		c.MonitoringService.Stop()
	}
	if c.NATSClient != nil {
		c.NATSClient.Close()
	}

	logrus.Info("✅ Service Container cleaned up")
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
