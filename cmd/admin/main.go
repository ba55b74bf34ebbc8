package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"parkslot/internal/catalog"
	"parkslot/internal/config"
	"parkslot/internal/provisioning"
	"parkslot/internal/terminal"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger().Level(zerolog.WarnLevel)

	cfg, err := config.Load(os.Getenv("PARKSLOT_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := catalog.NewClient(cfg.Client.BaseURL, cfg.ClientTimeout())
	if cfg.Redis.Address != "" && cfg.CacheTTL() > 0 {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		client.UseRedisCache(rdb, cfg.CacheTTL())
	}

	if err := client.HealthCheck(ctx); err != nil {
		logger.Fatal().Err(err).Str("base_url", cfg.Client.BaseURL).Msg("parking api is not reachable")
	}

	limits := provisioning.Limits{MaxFloors: cfg.MaxFloors(), MaxSlotsPerFloor: cfg.MaxSlotsPerFloor()}
	c := &console{
		accounts:    client,
		provisioner: provisioning.NewProvisioner(client, cfg.Provisioning.Mode, limits, &logger),
		inspector:   provisioning.NewInspector(client),
		p:           terminal.NewPrompter(os.Stdin, os.Stdout),
		exportDir:   ".",
	}
	if err := c.run(ctx); err != nil && !errors.Is(err, terminal.ErrQuit) && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("admin console stopped")
	}
}
