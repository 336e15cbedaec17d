package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock-datahub/src/config"
	datasource "stock-datahub/src/data_source"
	"stock-datahub/src/grpc_control"
	"stock-datahub/src/interfaces"
	"stock-datahub/src/logger"
	"stock-datahub/src/server"
	"stock-datahub/src/storage"
	"stock-datahub/src/utils"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "", "path to config file (defaults and environment only when empty)")
	flag.Parse()

	// Load config from YAML file
	config, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(config.MConfig, config.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Cache store
	db, err := storage.NewDatabase(config.MConfig, appLogger.Named("storage"))
	if err != nil {
		appLogger.Critical("Failed to init db: %v", err)
	}
	defer db.Close()
	if err := db.Initialize(ctx); err != nil {
		appLogger.Critical("Failed to migrate db: %v", err)
	}

	// 2. Providers enabled by the data source mode
	primary, secondary, err := datasource.NewProviders(config.MConfig, appLogger)
	if err != nil {
		appLogger.Critical("Failed to init providers: %v", err)
	}

	// 3. Trading calendars of the watchlist
	scheduler := utils.NewMarketScheduler(config.DataSource.Watchlist, appLogger.Named("scheduler"))
	if scheduler.AnyMarketOpen(time.Now()) {
		appLogger.Info("Market is open; today's bars are not complete until the close")
	}

	// 4. Unified data source and the dashboard API
	source := datasource.NewUnifiedDataSource(config.MConfig, db, primary, secondary, appLogger.Named("unified")).
		WithCalendar(scheduler.CalendarFor)

	var srv interfaces.IDataExchanger = server.NewAPIServer(config.MConfig, source, appLogger.Named("api"))
	source.SetPublisher(srv)

	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Error("Server failed: %v", err)
			cancel()
		}
	}()

	// 5. gRPC health
	if config.GrpcPort != 0 {
		control := grpc_control.NewControlService(config.MConfig, db, primary, secondary, appLogger.Named("ControlService"))
		addr := fmt.Sprintf("%s:%d", config.GrpcHost, config.GrpcPort)
		go func() {
			if err := control.Serve(ctx, addr); err != nil {
				appLogger.Error("gRPC server failed: %v", err)
			}
		}()
	}

	// 6. Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
	case <-ctx.Done():
	}

	appLogger.Info("Shutting down...")
	cancel()
	if err := srv.Stop(); err != nil {
		appLogger.Error("Server shutdown failed: %v", err)
	}
}
