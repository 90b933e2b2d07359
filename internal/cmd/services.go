package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/trivialive/internal/adjudication"
	"github.com/trivialive/internal/answer"
	"github.com/trivialive/internal/buzz"
	"github.com/trivialive/internal/changefeed"
	"github.com/trivialive/internal/clue"
	"github.com/trivialive/internal/dbconfig"
	"github.com/trivialive/internal/game"
	"github.com/trivialive/internal/gateway"
	"github.com/trivialive/internal/player"
	"github.com/trivialive/internal/realtime"
	"github.com/trivialive/internal/stats"
	"github.com/trivialive/internal/wager"
)

// Services is the wired dependency graph: repositories, the adjudication
// app, the realtime bus, and the gateway surface.
type Services struct {
	Gateway    *gateway.Service
	Manager    *gateway.ConnectionManager
	Changefeed *changefeed.Listener
	Bus        *realtime.NATSBus
	Stats      *stats.Service
}

func setupServices(ctx context.Context, cfg *Config, dbCfg dbconfig.Config, pool *pgxpool.Pool, db *sql.DB) (*Services, error) {
	// Repository layer
	games := game.NewRepository(pool)
	if err := games.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	players := player.NewRepository(pool)
	clues := clue.NewRepository(pool)
	buzzes := buzz.NewRepository(pool)
	wagers := wager.NewRepository(pool)
	answers := answer.NewRepository(db)

	// Broadcast bus
	bus, err := realtime.NewNATSBus(realtime.NATSConfig{
		URL:           cfg.NATS.URL,
		MaxReconnects: -1,
		ReconnectWait: cfg.NATS.ReconnectWait,
	})
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()

	// Adjudication app publishing through per-game channels
	app := adjudication.NewApp(games, clues, players, buzzes, wagers, answers,
		func(gameID uuid.UUID) adjudication.Broadcaster {
			return realtime.NewChannel(bus, gameID, clock)
		})

	// Store changefeed for recovery
	feed, err := changefeed.NewListener(games, changefeed.Config{
		DatabaseURL:      dbCfg.DSN(),
		NotifyChannel:    cfg.Changefeed.Channel,
		FallbackInterval: cfg.Changefeed.FallbackInterval,
		PingInterval:     cfg.Changefeed.PingInterval,
	})
	if err != nil {
		bus.Close()
		return nil, err
	}

	// Reaction-time stats are optional; the game runs fine without Redis.
	var statsSvc *stats.Service
	if cfg.Redis.Enabled {
		statsCfg := stats.DefaultConfig()
		statsCfg.Addr = cfg.Redis.Addr
		statsCfg.Password = cfg.Redis.Password
		statsCfg.DB = cfg.Redis.DB
		statsSvc, err = stats.NewService(statsCfg)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, reaction stats disabled")
			statsSvc = nil
		}
	}

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	svc := gateway.NewService(games, players, clues, buzzes, app, bus, clock, feed, statsSvc, manager)

	return &Services{
		Gateway:    svc,
		Manager:    manager,
		Changefeed: feed,
		Bus:        bus,
		Stats:      statsSvc,
	}, nil
}
