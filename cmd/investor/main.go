package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tranche_investor/internal/app"
	"tranche_investor/internal/domain/broker"
	"tranche_investor/internal/domain/investment"
	domainTelegram "tranche_investor/internal/domain/telegram"
	"tranche_investor/internal/infra/config"
	idb "tranche_investor/internal/infra/database"
	"tranche_investor/internal/infra/dhan"
	"tranche_investor/internal/infra/logger"
	"tranche_investor/internal/infra/paper"
	"tranche_investor/internal/infra/scheduler"
	"tranche_investor/internal/infra/stream"
	"tranche_investor/internal/infra/telegram"
	"tranche_investor/internal/infra/timers"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	fmt.Println("Weekly tranche investor starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg)
	mainLogger := logger.Base().WithField("component", "main")
	mainLogger.WithFields(logrus.Fields{
		"trading_mode": cfg.TradingMode,
		"timezone":     cfg.Location.String(),
		"admin_id":     cfg.AdminTelegramID,
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	if err := idb.EnsureSchema(ctx, db); err != nil {
		mainLogger.WithError(err).Fatal("Could not prepare database schema")
	}
	mainLogger.Info("Database connection established and schema ensured.")

	repo := idb.NewPostgresInvestmentRepository(db)

	defaultTime, err := investment.ParseClockTime(cfg.DefaultExecutionTime)
	if err != nil {
		mainLogger.WithError(err).Fatal("Invalid default execution time")
	}

	// Brokerage: Dhan always supplies quotes and symbol lookup; paper mode simulates fills.
	dhanClient := dhan.NewClient(dhan.Config{
		ClientID:    cfg.DhanClientID,
		AccessToken: cfg.DhanAccessToken,
		BaseURL:     cfg.DhanBaseURL,
		RatePerSec:  cfg.DhanRatePerSec,
		Timeout:     cfg.BrokerTimeout,
	}, logger.Base())
	var (
		account  broker.Broker           = dhanClient
		resolver broker.SecurityResolver = dhan.NewScripMaster(cfg.DhanScripMasterURL, dhan.DefaultScripMasterTTL, logger.Base())
	)
	if cfg.TradingMode == config.TradingModePaper {
		paperBroker := paper.NewBroker(dhanClient, cfg.PaperBalance, logger.Base())
		account = paperBroker
		resolver = paperBroker.Resolver(resolver)
		mainLogger.WithField("starting_cash", cfg.PaperBalance.StringFixed(2)).Warn("Paper trading mode: orders are simulated")
	}

	settings := app.Settings{
		Location:    cfg.Location,
		Now:         time.Now,
		CallTimeout: cfg.BrokerTimeout,
	}
	locks := app.NewCycleLocks()
	registry := timers.NewRegistry(time.Now, logger.Base())
	dispatcher := app.NewDispatcher(logger.Base(), 0)

	cycleService := app.NewCycleService(repo, account, resolver, registry, locks, settings, logger.Base())
	executionService := app.NewExecutionService(repo, account, dispatcher, locks, settings, logger.Base())
	portfolioService := app.NewPortfolioService(repo, account, settings, logger.Base())
	registry.OnFire(executionService.HandleTimer)

	// Telegram is optional
	var (
		bot       *telebot.Bot
		messenger domainTelegram.Client
	)
	if cfg.TelegramToken != "" {
		botLogger := logger.Base().WithField("component", "telegram")
		pref := telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) { // Global error handler
				entry := botLogger.WithError(err)
				if c != nil && c.Sender() != nil && c.Chat() != nil {
					entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID, "text": c.Text()})
				}
				entry.Error("Telegram handler error")
			},
		}
		bot, err = telebot.NewBot(pref)
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		adapter := telegram.NewTelebotAdapter(bot)
		messenger = adapter
		dispatcher.AddSink(telegram.NewTradeNotifier(adapter, cfg.AdminTelegramID))

		commands := telegram.NewAdminCommands(cycleService, executionService, portfolioService, cfg.Location, defaultTime)
		telegram.RegisterBotCommands(bot, commands, cfg.AdminTelegramID, botLogger)
		telegram.RegisterAdminHandlers(ctx, bot, commands, cfg.AdminTelegramID, botLogger)
		mainLogger.Info("Telegram command handlers registered.")
	}

	// Trade event stream is optional
	var streamServer *stream.Server
	if cfg.StreamAddr != "" {
		hub := stream.NewHub(logger.Base())
		dispatcher.AddSink(hub)
		streamServer = stream.NewServer(cfg.StreamAddr, hub, registry.Len, logger.Base())
	}

	// Restore timers before anything can fire
	report, err := app.NewRecoveryLoader(repo, registry, locks, settings, logger.Base()).Recover(ctx)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not recover pending schedules")
	}
	mainLogger.WithFields(logrus.Fields{
		"armed":     report.Armed,
		"expired":   report.Expired,
		"anomalies": len(report.Anomalies),
	}).Info("Pending schedules recovered")

	investScheduler := scheduler.NewInvestmentScheduler(
		registry,
		cycleService,
		messenger,
		cfg.AdminTelegramID,
		logger.Base(),
		cfg.Location,
		cfg.TimerPollInterval,
		cfg.CronSpecOverdueReport,
		cfg.CronSpecTimerAudit,
	)
	if err := investScheduler.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start scheduler")
	}

	if streamServer != nil {
		go func() {
			if err := streamServer.Start(); err != nil {
				mainLogger.WithError(err).Error("Trade stream server stopped")
			}
		}()
	}
	// Start bot in a goroutine so it doesn't block graceful shutdown handling
	if bot != nil {
		go bot.Start()
	}

	mainLogger.Info("Application setup complete. Waiting for schedules...")
	<-ctx.Done() // Block until a signal is received

	mainLogger.Info("Shutting down application...")
	if bot != nil {
		bot.Stop()
	}
	investScheduler.Stop()
	if streamServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := streamServer.Shutdown(shutdownCtx); err != nil {
			mainLogger.WithError(err).Warn("Trade stream server did not shut down cleanly")
		}
		cancel()
	}
	dispatcher.Wait()
	mainLogger.Info("Application shut down gracefully.")
}
