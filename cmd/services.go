package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"labonnas-pos/internal/auth"
	"labonnas-pos/internal/config"
	"labonnas-pos/internal/database"
	"labonnas-pos/internal/docstore"
	"labonnas-pos/internal/docstore/postgres"
	"labonnas-pos/internal/docstore/sqlite"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/messaging"
	"labonnas-pos/internal/models"
	"labonnas-pos/internal/money"
	"labonnas-pos/internal/server"
	"labonnas-pos/internal/services/caixa"
	"labonnas-pos/internal/services/kitchen"
	"labonnas-pos/internal/services/menu"
	"labonnas-pos/internal/services/notification"
	"labonnas-pos/internal/services/order"
	"labonnas-pos/internal/services/payment"
	"labonnas-pos/internal/services/relay"
	"labonnas-pos/internal/services/table"
	"labonnas-pos/internal/telemetry"
)

// runPOSService serves the operator API. With the broker enabled, order
// changes are relayed to the kitchen display and notifications go to the
// fanout exchange; otherwise the kitchen view runs in-process.
func runPOSService(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	requestID := logger.GenerateRequestID()

	shutdownTracing, err := telemetry.Setup(ctx, "pos-service", cfg.Tracing.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		notifier  notification.Notifier = notification.NewLogNotifier(log)
		publisher *messaging.Publisher
		broker    *messaging.Connection
	)
	if cfg.RabbitMQ.Enabled {
		broker, err = messaging.New(cfg.RabbitMQURL(), log)
		if err != nil {
			return fmt.Errorf("failed to initialize messaging: %w", err)
		}
		defer broker.Close()
		log.Info("rabbitmq_connected", "Connected to RabbitMQ", requestID, nil)

		publisher = messaging.NewPublisher(broker, log)
		notifier = notification.NewBrokerNotifier(publisher, log)
	}

	registry := table.NewRegistry(store, notifier, log)
	if _, err := registry.Setup(ctx, cfg.Restaurant.Tables); err != nil {
		return fmt.Errorf("failed to set up tables: %w", err)
	}
	catalog := menu.NewCatalog(store)
	drafts := order.NewDrafts(store, notifier, log)
	if err := drafts.Restore(ctx); err != nil {
		log.Error("cart_restore_failed", "Failed to restore carts, starting empty", requestID, err, nil)
	}
	lifecycle := order.NewLifecycle(store, registry, drafts, notifier, log)
	ledger := caixa.NewService(store, registry, notifier, cfg.Caixa.PurgeOnClose, log)
	payments := payment.NewService(store, registry, ledger, notifier, log)
	queue := kitchen.NewQueue()

	opts := server.Options{
		Service:        "pos-service",
		Store:          store,
		Tokens:         auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	}
	if broker != nil {
		opts.Broker = broker
	}
	handler := server.NewAPI(opts,
		menu.NewHandler(catalog, log),
		table.NewHandler(registry, log),
		order.NewHandler(lifecycle, drafts, catalog, registry, log),
		payment.NewHandler(payments, log),
		caixa.NewHandler(ledger, log),
		kitchen.NewHandler(queue),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return drafts.Run(ctx) })
	if publisher != nil {
		g.Go(func() error { return relay.New(store, publisher, models.CollectionOrders, log).Run(ctx) })
	}
	g.Go(func() error {
		return kitchen.NewWorker(queue, store, cfg.Kitchen.ResyncInterval, log).RunLocal(ctx)
	})
	g.Go(func() error { return serve(ctx, cfg.Server.Port, handler, log) })

	log.Info("service_started", fmt.Sprintf("POS service started on port %d", cfg.Server.Port), requestID, map[string]interface{}{
		"port":         cfg.Server.Port,
		"store":        cfg.Store.Driver,
		"broker":       cfg.RabbitMQ.Enabled,
		"tables":       cfg.Restaurant.Tables,
		"purge_ledger": cfg.Caixa.PurgeOnClose,
	})
	err = g.Wait()
	drafts.Flush(context.Background())
	return err
}

// runKitchenDisplay serves the kitchen queue. It consumes relayed order
// changes when the broker is enabled and polls the shared store otherwise.
func runKitchenDisplay(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	queue := kitchen.NewQueue()
	worker := kitchen.NewWorker(queue, store, cfg.Kitchen.ResyncInterval, log)
	opts := server.Options{
		Service:        "kitchen-display",
		Store:          store,
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.RabbitMQ.Enabled {
		conn, err := messaging.New(cfg.RabbitMQURL(), log)
		if err != nil {
			return fmt.Errorf("failed to initialize messaging: %w", err)
		}
		defer conn.Close()
		opts.Broker = conn

		consumer := messaging.NewConsumer(conn, log, messaging.KitchenQueue, "kitchen-display", cfg.RabbitMQ.Prefetch)
		g.Go(func() error { return worker.RunBroker(ctx, consumer) })
	} else {
		if cfg.Store.Driver == "memory" {
			return errors.New("kitchen-display needs rabbitmq.enabled or a shared store (postgres or sqlite)")
		}
		g.Go(func() error { return worker.RunPolling(ctx, cfg.Kitchen.PollInterval) })
	}

	handler := server.NewKitchenDisplay(opts, kitchen.NewHandler(queue))
	g.Go(func() error { return serve(ctx, cfg.Server.KitchenPort, handler, log) })
	return g.Wait()
}

func runNotificationSubscriber(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if !cfg.RabbitMQ.Enabled {
		return errors.New("notification-subscriber needs rabbitmq.enabled")
	}
	formatter, err := money.NewFormatter(cfg.Restaurant.Locale, cfg.Restaurant.Currency)
	if err != nil {
		return err
	}
	conn, err := messaging.New(cfg.RabbitMQURL(), log)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}
	defer conn.Close()

	consumer := messaging.NewConsumer(conn, log, messaging.NotificationsQueue, "notification-subscriber", cfg.RabbitMQ.Prefetch)
	return notification.NewSubscriber(consumer, formatter, os.Stdout, log).Start(ctx)
}

// runSetup creates the table pool and, when menuFile is set, imports the catalog.
func runSetup(ctx context.Context, cfg *config.Config, log *logger.Logger, menuFile string) error {
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	created, err := table.NewRegistry(store, notification.NewLogNotifier(log), log).Setup(ctx, cfg.Restaurant.Tables)
	if err != nil {
		return err
	}
	fields := map[string]interface{}{"tables_created": created}

	if menuFile != "" {
		raw, err := os.ReadFile(menuFile)
		if err != nil {
			return fmt.Errorf("failed to read menu file: %w", err)
		}
		var items []models.MenuItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("failed to decode menu file: %w", err)
		}
		imported, err := menu.NewCatalog(store).Import(ctx, items)
		if err != nil {
			return err
		}
		fields["menu_items"] = imported
	}

	log.Info("setup_completed", "Setup completed", "", fields)
	return nil
}

func runResetTables(ctx context.Context, cfg *config.Config, log *logger.Logger, purgeOrders bool) error {
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := table.NewRegistry(store, notification.NewLogNotifier(log), log)
	cleared, err := registry.SetAllAvailable(ctx, "reset-tables")
	if err != nil {
		return err
	}
	fields := map[string]interface{}{"cleared": cleared}
	if purgeOrders {
		purged, err := registry.PurgeOrders(ctx)
		if err != nil {
			return err
		}
		fields["orders_purged"] = purged
	}
	log.Info("tables_reset", "Tables reset to available", "", fields)
	return nil
}

func runIssueToken(cfg *config.Config, session auth.Session) error {
	if session.UserID == "" || session.Name == "" {
		return errors.New("--user and --name are required")
	}
	if !session.Role.Valid() {
		return fmt.Errorf("unknown role %q", session.Role)
	}
	token, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL).Issue(session)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// openStore opens the configured document store. The returned func closes it
// together with any pool it owns.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (docstore.Store, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		db, err := database.New(ctx, cfg, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("db_connected", "Connected to PostgreSQL database", "", nil)
		store := postgres.New(db)
		return store, func() { store.Close(); db.Close() }, nil
	case "sqlite":
		store, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		store := docstore.NewMemory()
		return store, func() { store.Close() }, nil
	}
}

// serve runs an HTTP server until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, port int, handler http.Handler, log *logger.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("server_stopping", "Shutting down HTTP server", "", map[string]interface{}{"port": port})
	return srv.Shutdown(shutdownCtx)
}
