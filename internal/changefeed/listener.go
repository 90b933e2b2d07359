package changefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/trivialive/internal/models"
)

// Config controls the Postgres change-notification listener.
type Config struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to re-read watched rows for missed notifications
	PingInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		DatabaseURL:      "",
		NotifyChannel:    "game_changes",
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

// GameFetcher reads the authoritative game row for a notification.
type GameFetcher interface {
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
}

// Handler receives the freshly fetched game row after a change.
type Handler func(*models.Game)

// Listener receives game-row change notifications over LISTEN/NOTIFY. The
// notification payload is only a game id; the row itself is always re-fetched
// so handlers never act on a stale or partial payload. A fallback ticker
// re-reads every watched row to cover notifications dropped during
// reconnects.
type Listener struct {
	games    GameFetcher
	listener *pq.Listener
	cfg      Config

	mu      sync.Mutex
	nextID  int
	watches map[uuid.UUID]map[int]Handler
}

func NewListener(games GameFetcher, cfg Config) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for game change notifications")

	return &Listener{
		games:    games,
		listener: l,
		cfg:      cfg,
		watches:  make(map[uuid.UUID]map[int]Handler),
	}, nil
}

// Watch registers a handler for one game's changes and returns a cancel
// function. Multiple watchers per game are supported; each session on a game
// registers its own.
func (l *Listener) Watch(gameID uuid.UUID, h func(*models.Game)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	if l.watches[gameID] == nil {
		l.watches[gameID] = make(map[int]Handler)
	}
	l.watches[gameID][id] = h

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.watches[gameID], id)
		if len(l.watches[gameID]) == 0 {
			delete(l.watches, gameID)
		}
	}
}

func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("changefeed started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("changefeed shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// nil notification means the connection was lost; the
				// fallback poll covers anything missed while reconnecting
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.C:
			l.refreshWatched(ctx)
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

// handleNotification processes one pg notification. Extra carries the game
// id; the row is re-fetched before dispatch.
func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	gameID, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid game ID in notification: %w", err)
	}

	l.mu.Lock()
	_, watched := l.watches[gameID]
	l.mu.Unlock()
	if !watched {
		return nil
	}

	return l.dispatch(ctx, gameID)
}

// refreshWatched re-reads every watched game row. This is the safety net for
// missed notifications; handlers are expected to be idempotent.
func (l *Listener) refreshWatched(ctx context.Context) {
	l.mu.Lock()
	gameIDs := make([]uuid.UUID, 0, len(l.watches))
	for id := range l.watches {
		gameIDs = append(gameIDs, id)
	}
	l.mu.Unlock()

	for _, gameID := range gameIDs {
		if err := l.dispatch(ctx, gameID); err != nil {
			log.Error().Err(err).Str("game_id", gameID.String()).Msg("fallback refresh failed")
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, gameID uuid.UUID) error {
	g, err := l.games.GetGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("failed to fetch game: %w", err)
	}

	l.mu.Lock()
	handlers := make([]Handler, 0, len(l.watches[gameID]))
	for _, h := range l.watches[gameID] {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()

	for _, h := range handlers {
		h(g)
	}
	return nil
}
