// perp-agent runs an LLM-driven perpetual futures trading loop against
// Hyperliquid, in paper or live mode, with an HTTP control plane and
// optional Telegram notifications.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"perp-agent/ai"
	"perp-agent/api"
	"perp-agent/cache"
	"perp-agent/config"
	"perp-agent/decision"
	"perp-agent/events"
	"perp-agent/exchange"
	"perp-agent/ledger"
	"perp-agent/logger"
	"perp-agent/market"
	"perp-agent/notify"
	"perp-agent/store"
	"perp-agent/trader"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	logger.Setup(cfg.LogLevel)
	log := logger.Component("main")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().
		Str("mode", cfg.TradingMode).
		Strs("assets", cfg.TradingAssets).
		Str("model", cfg.AnthropicModel).
		Int("interval_seconds", cfg.IntervalSeconds).
		Msg("perp-agent starting")

	st, err := store.Open(cfg.DataDir, cfg.TradingMode)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	c := cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer c.Close()

	hub := events.NewHub()
	go hub.Run()

	client, err := exchange.NewClient(cfg.WalletPrivateKey, cfg.Testnet)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build exchange client")
	}

	var (
		adapter exchange.Adapter
		ldg     *ledger.Ledger
	)
	if cfg.TradingMode == config.ModeLive {
		live, err := exchange.NewLiveAdapter(client, cfg.AccountAddress)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build live adapter")
		}
		adapter = live
	} else {
		ldg = ledger.New(st, cfg.PaperInitialBalance)
		adapter = exchange.NewPaperAdapter(ldg, client)
	}

	aiClient := ai.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)

	manager := trader.NewManager(trader.Deps{
		Config:  cfg,
		Store:   st,
		Ledger:  ldg,
		Adapter: adapter,
		Market:  market.NewProvider(client, c),
		Decider: decision.NewEngine(aiClient),
		AI:      aiClient,
		Cache:   c,
		Hub:     hub,
	})

	notifier, err := notify.New(cfg.TelegramToken, cfg.TelegramChatID, notify.Commands{
		Status: manager.StatusLine,
		Pause:  manager.Pause,
		Resume: manager.Resume,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Telegram notifier disabled")
	} else {
		manager.SetNotifier(notifier)
		notifier.Start()
		defer notifier.Stop()
		if notifier.Enabled() {
			notifier.Startup(cfg.TradingMode, startupBalance(adapter), cfg.TradingAssets)
		}
	}

	// A running or paused token left by the previous run revives the
	// loop, so a crash or redeploy does not silently stop trading.
	if state := manager.Status().State; state != trader.StateStopped {
		log.Info().Str("state", string(state)).Msg("resuming trading loop from previous run")
		manager.Launch()
	}

	server := api.NewServer(cfg, st, adapter, manager, hub, c)
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("control plane exited")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := manager.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("trading loop shutdown")
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("control plane shutdown")
	}
	log.Info().Msg("goodbye")
}

// startupBalance reads the balance once for the online notification.
// Zero on failure rather than holding up startup.
func startupBalance(adapter exchange.Adapter) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	state, err := adapter.AccountState(ctx, nil)
	if err != nil {
		return 0
	}
	return state.Balance
}
