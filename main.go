package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"weex-trading-bot/config"
	"weex-trading-bot/internal/api"
	"weex-trading-bot/internal/bot"
	"weex-trading-bot/internal/compliance"
	"weex-trading-bot/internal/database"
	"weex-trading-bot/internal/guards"
	"weex-trading-bot/internal/lifecycle"
	"weex-trading-bot/internal/logging"
	"weex-trading-bot/internal/protection"
	"weex-trading-bot/internal/reconcile"
	sig "weex-trading-bot/internal/signal"
	"weex-trading-bot/internal/sizing"
	"weex-trading-bot/internal/tracker"
	"weex-trading-bot/internal/vault"
	"weex-trading-bot/internal/weex"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Failed to load configuration", "error", err)
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		Component:  "main",
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	}))
	logger := logging.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Credentials from Vault override the config file when enabled
	if cfg.VaultConfig.Enabled {
		creds, err := vault.LoadCredentials(cfg.VaultConfig)
		if err != nil {
			logging.Fatal("Failed to load credentials from vault", "error", err)
		}
		cfg.WeexConfig.APIKey = creds.APIKey
		cfg.WeexConfig.SecretKey = creds.SecretKey
		cfg.WeexConfig.Passphrase = creds.Passphrase
	}

	var client weex.ExchangeClient
	var sender compliance.Sender
	if cfg.WeexConfig.MockMode {
		mock := weex.NewMockClient(cfg.TradingConfig.InitialEquity)
		for _, symbol := range cfg.TradingConfig.Symbols {
			mock.SetRules(symbol, weex.ContractRules{Symbol: symbol, MinQty: 0.001, QtyStep: 0.001, PriceStep: 0.1, MaxLever: 100})
		}
		client = mock
		sender = mock
		logger.Warn("Running against the in-memory mock exchange")
	} else {
		live := weex.NewClient(weex.ClientConfig{
			APIKey:         cfg.WeexConfig.APIKey,
			SecretKey:      cfg.WeexConfig.SecretKey,
			Passphrase:     cfg.WeexConfig.Passphrase,
			BaseURL:        cfg.WeexConfig.BaseURL,
			RequestTimeout: time.Duration(cfg.WeexConfig.RequestTimeout) * time.Second,
			RateLimitRPS:   cfg.WeexConfig.RateLimitRPS,
		})
		client = live
		sender = live
	}

	execGuard := guards.NewExecutionGuard(guards.ExecutionGuardConfig{
		CooldownSeconds: cfg.GuardConfig.CooldownSeconds,
		MaxNotional:     cfg.GuardConfig.MaxNotional,
	})
	pnlGuard := guards.NewPnLGuard(guards.PnLGuardConfig{
		MaxDrawdownPercent: cfg.GuardConfig.MaxDrawdownPercent,
	})

	calc := protection.NewCalculator(protectionConfig(cfg.ProtectionConfig))
	sizer := sizing.NewSizer(sizing.Config{
		RiskPercent:     cfg.LifecycleConfig.RiskPercent,
		NotionalCeiling: cfg.GuardConfig.MaxNotional,
		Leverage:        cfg.TradingConfig.Leverage,
	})

	auditor := compliance.NewSubmitter(cfg.ComplianceConfig, sender)
	deps := lifecycle.Deps{
		Client:         client,
		Calculator:     calc,
		ExecutionGuard: execGuard,
		PnLGuard:       pnlGuard,
		Sizer:          sizer,
		Auditor:        auditor,
	}

	var repo *database.TradeRepository
	if cfg.DatabaseConfig.Enabled {
		db, err := database.New(ctx, cfg.DatabaseConfig)
		if err != nil {
			logging.Fatal("Failed to connect to database", "error", err)
		}
		defer db.Close()
		repo = database.NewTradeRepository(db)
		deps.Recorder = repo
		auditor.SetArchiver(repo)
	}

	var orderTracker api.OrderTracker
	if cfg.RedisConfig.Enabled {
		rt, err := tracker.NewRedisTracker(ctx, cfg.RedisConfig)
		if err != nil {
			logging.Fatal("Failed to connect to redis", "error", err)
		}
		defer rt.Close()
		deps.Tracker = rt
		orderTracker = rt
	}

	manager := lifecycle.NewManager(cfg.LifecycleConfig, cfg.TradingConfig.Leverage, deps)
	engine := reconcile.NewEngine(cfg.ReconcileConfig, client, manager)

	var hub bot.Broadcaster
	if cfg.ServerConfig.Enabled {
		server := api.NewServer(cfg.ServerConfig, cfg.AuthConfig, api.Deps{
			Manager:   manager,
			PnLGuard:  pnlGuard,
			ExecGuard: execGuard,
			Engine:    engine,
			Repo:      repo,
			Tracker:   orderTracker,
		})
		hub = server.Hub()
		go func() {
			if err := server.Start(ctx); err != nil {
				logger.Error("Ops API stopped", "error", err)
				stop()
			}
		}()
	}

	trader := bot.New(cfg.TradingConfig, bot.Deps{
		Client:    client,
		Manager:   manager,
		Engine:    engine,
		PnLGuard:  pnlGuard,
		Evaluator: sig.NewMomentumEvaluator(),
		Hub:       hub,
	})

	if err := trader.Startup(ctx); err != nil {
		logging.Fatal("Startup failed", "error", err)
	}
	if err := trader.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("Trading loop exited", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

func protectionConfig(cfg config.ProtectionConfig) protection.Config {
	table := make(map[string]protection.Multipliers, len(cfg.RegimeTable))
	for regime, m := range cfg.RegimeTable {
		table[regime] = protection.Multipliers{Stop: m.Stop, Target: m.Target}
	}
	return protection.Config{
		MinRiskReward:   cfg.MinRiskReward,
		ATRFloorPercent: cfg.ATRFloorPercent,
		RegimeTable:     table,
		DefaultStop:     cfg.DefaultStop,
		DefaultTarget:   cfg.DefaultTarget,
	}
}
