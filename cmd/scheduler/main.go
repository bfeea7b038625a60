package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/acme/sms-campaign-dispatch/internal/app"
	"github.com/acme/sms-campaign-dispatch/internal/scheduler"
	"github.com/acme/sms-campaign-dispatch/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-scheduler", container.Config.App.Version)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	repos, err := container.Repositories()
	if err != nil {
		log.Fatalf("failed to build repositories: %v", err)
	}
	services, err := container.Services()
	if err != nil {
		log.Fatalf("failed to build services: %v", err)
	}
	limiters, err := container.Limiters()
	if err != nil {
		log.Fatalf("failed to build limiters: %v", err)
	}

	sched := scheduler.New(container.Config.Scheduler, repos.Campaigns, services.Campaign, limiters.Dispatch, container.Logger)
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("scheduler terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
