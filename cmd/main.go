package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"labonnas-pos/internal/auth"
	"labonnas-pos/internal/config"
	"labonnas-pos/internal/logger"
)

func main() {
	var (
		mode       = flag.String("mode", "", "Service mode (pos-service, kitchen-display, notification-subscriber, setup, reset-tables, issue-token)")
		configPath = flag.String("config", "config.yaml", "Path to the configuration file")
		port       = flag.Int("port", 0, "HTTP port (overrides the configured port)")
		menuFile   = flag.String("menu", "", "Menu JSON file to import (setup mode)")
		purge      = flag.Bool("purge-orders", false, "Also delete detached orders (reset-tables mode)")
		userID     = flag.String("user", "", "User id (issue-token mode)")
		userName   = flag.String("name", "", "Display name (issue-token mode)")
		role       = flag.String("role", "", "Role: admin, gerente, caixa, garcom or cozinha (issue-token mode)")
	)
	flag.Parse()

	if *mode == "" {
		fmt.Fprintf(os.Stderr, "Error: --mode flag is required\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(*mode, cfg.Log.Level)
	requestID := logger.GenerateRequestID()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("graceful_shutdown", "Received shutdown signal", requestID, nil)
		cancel()
	}()

	switch *mode {
	case "pos-service":
		if *port > 0 {
			cfg.Server.Port = *port
		}
		err = runPOSService(ctx, cfg, log)
	case "kitchen-display":
		if *port > 0 {
			cfg.Server.KitchenPort = *port
		}
		err = runKitchenDisplay(ctx, cfg, log)
	case "notification-subscriber":
		err = runNotificationSubscriber(ctx, cfg, log)
	case "setup":
		err = runSetup(ctx, cfg, log, *menuFile)
	case "reset-tables":
		err = runResetTables(ctx, cfg, log, *purge)
	case "issue-token":
		err = runIssueToken(cfg, auth.Session{UserID: *userID, Name: *userName, Role: auth.Role(*role)})
	default:
		log.Error("validation_failed", fmt.Sprintf("Unknown mode: %s", *mode), requestID, nil, nil)
		os.Exit(1)
	}

	if err != nil {
		log.Error("service_failed", fmt.Sprintf("%s failed", *mode), requestID, err, nil)
		os.Exit(1)
	}
	log.Info("service_stopped", "Service stopped gracefully", requestID, nil)
}
