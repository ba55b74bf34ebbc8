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

	"parkslot/internal/booking"
	"parkslot/internal/catalog"
	"parkslot/internal/config"
	"parkslot/internal/session"
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
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if ttl := cfg.CacheTTL(); ttl > 0 {
			client.UseRedisCache(rdb, ttl)
		}
	}

	if err := client.HealthCheck(ctx); err != nil {
		logger.Fatal().Err(err).Str("base_url", cfg.Client.BaseURL).Msg("parking api is not reachable")
	}

	var store session.Store
	switch cfg.Session.Store {
	case config.SessionStoreRedis:
		host, _ := os.Hostname()
		store = session.NewRedisStore(rdb, host)
	case config.SessionStoreMemory:
		store = session.NewMemoryStore(time.Now)
	default:
		store = session.NewFileStore(cfg.Session.Path, time.Now)
	}
	sessions := session.NewManager(store, client, session.WithTTL(cfg.SessionTTL()), session.WithLogger(&logger))

	var reserver booking.Reserver = client
	if cfg.Booking.ReservationMode == config.ReservationSequential {
		reserver = booking.NewSequentialReserver(client, &logger)
	}

	var policy booking.TimePolicy = booking.AutoOffset{Offset: cfg.ReservationOffset()}
	if cfg.Booking.TimeMode == config.TimeModeExplicit {
		policy = booking.Explicit{}
	}

	wizard := booking.NewWizard(booking.Deps{
		Catalog:  client,
		Reserver: reserver,
		Sessions: sessions,
		Policy:   policy,
	}, booking.WithLogger(&logger))

	k := &kiosk{wizard: wizard, p: terminal.NewPrompter(os.Stdin, os.Stdout)}
	if err := k.run(ctx); err != nil && !errors.Is(err, terminal.ErrQuit) && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("kiosk stopped")
	}
}
