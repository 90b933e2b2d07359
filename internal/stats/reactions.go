package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Config holds Redis connection settings for the reaction-time stats.
type Config struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Reaction is one player's best reaction time for a game.
type Reaction struct {
	PlayerID   uuid.UUID `json:"player_id"`
	ReactionMs int64     `json:"reaction_ms"`
}

// Service keeps a per-game sorted set of each player's best reaction time.
// This is a cosmetic display surface: every caller treats failures as
// loggable and falls back to showing nothing.
type Service struct {
	client *redis.Client
}

// NewService connects to Redis and verifies the connection.
func NewService(cfg Config) (*Service, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &Service{client: client}, nil
}

func (s *Service) Close() error {
	return s.client.Close()
}

// reactionKey returns the Redis key for a game's reaction-time sorted set.
func (s *Service) reactionKey(gameID uuid.UUID) string {
	return fmt.Sprintf("game:%s:reactions", gameID)
}

// RecordReaction stores a reaction time, keeping each player's best (lowest).
func (s *Service) RecordReaction(ctx context.Context, gameID, playerID uuid.UUID, reactionMs int64) error {
	key := s.reactionKey(gameID)
	member := playerID.String()

	current, err := s.client.ZScore(ctx, key, member).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("getting current reaction: %w", err)
	}
	if err == nil && current <= float64(reactionMs) {
		return nil
	}

	if err := s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(reactionMs),
		Member: member,
	}).Err(); err != nil {
		return fmt.Errorf("recording reaction: %w", err)
	}
	return nil
}

// FastestReactions returns up to limit players ordered fastest first.
func (s *Service) FastestReactions(ctx context.Context, gameID uuid.UUID, limit int64) ([]Reaction, error) {
	key := s.reactionKey(gameID)
	entries, err := s.client.ZRangeWithScores(ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing reactions: %w", err)
	}

	reactions := make([]Reaction, 0, len(entries))
	for _, e := range entries {
		member, ok := e.Member.(string)
		if !ok {
			continue
		}
		playerID, err := uuid.Parse(member)
		if err != nil {
			log.Warn().Str("member", member).Msg("skipping malformed reaction entry")
			continue
		}
		reactions = append(reactions, Reaction{PlayerID: playerID, ReactionMs: int64(e.Score)})
	}
	return reactions, nil
}

// ClearGame drops a finished game's reaction set.
func (s *Service) ClearGame(ctx context.Context, gameID uuid.UUID) error {
	if err := s.client.Del(ctx, s.reactionKey(gameID)).Err(); err != nil {
		return fmt.Errorf("clearing reactions: %w", err)
	}
	return nil
}
