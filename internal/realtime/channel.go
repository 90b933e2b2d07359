package realtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Handlers maps each event kind to one receive handler. Handlers run
// synchronously on the subscription goroutine and must not block on store
// I/O; any store write triggered by an event is fired off without awaiting.
type Handlers struct {
	OnUnlock func(BuzzerUnlockPayload)
	OnLock   func(BuzzerLockPayload)
	OnBuzz   func(PlayerBuzzPayload)
	OnFocus  func(FocusPlayerPayload)
	OnFrozen func(PlayerFrozenPayload)
}

// Channel is one game's broadcast channel. Channel identity is one-per-game;
// the subject is derived from the game id. A Channel owns at most one bus
// subscription: subscribing again tears down the previous one first so a
// lingering duplicate never double-delivers.
type Channel struct {
	gameID uuid.UUID
	bus    Bus
	clock  clockwork.Clock

	mu       sync.Mutex
	sub      Subscription
	handlers Handlers
}

// Subject returns the deterministic channel name for a game.
func Subject(gameID uuid.UUID) string {
	return fmt.Sprintf("game.buzzer.%s", gameID)
}

// NewChannel creates a channel for one game session.
func NewChannel(bus Bus, gameID uuid.UUID, clock clockwork.Clock) *Channel {
	return &Channel{
		gameID: gameID,
		bus:    bus,
		clock:  clock,
	}
}

// GameID returns the game this channel belongs to.
func (c *Channel) GameID() uuid.UUID {
	return c.gameID
}

// Subscribe registers handlers and opens the subscription. Last writer wins:
// an existing subscription for the game is closed before the new one opens.
func (c *Channel) Subscribe(handlers Handlers) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("game_id", c.gameID.String()).Msg("failed to close stale subscription")
		}
		c.sub = nil
	}

	c.handlers = handlers
	sub, err := c.bus.Subscribe(Subject(c.gameID), c.dispatch)
	if err != nil {
		return fmt.Errorf("subscribe game channel: %w", err)
	}
	c.sub = sub
	return nil
}

// Close tears down the subscription if one is open.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub == nil {
		return nil
	}
	err := c.sub.Unsubscribe()
	c.sub = nil
	return err
}

// dispatch decodes an envelope and routes it to the registered handler.
// Unknown event kinds are skipped so the wire format can grow additively.
func (c *Channel) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("game_id", c.gameID.String()).Msg("malformed broadcast envelope")
		return
	}

	payload, err := ParseEventPayload(&env)
	if err != nil {
		log.Error().Err(err).Str("event", string(env.Event)).Msg("malformed broadcast payload")
		return
	}
	if payload == nil {
		log.Debug().Str("event", string(env.Event)).Msg("ignoring unknown broadcast event kind")
		return
	}

	c.mu.Lock()
	h := c.handlers
	c.mu.Unlock()

	switch p := payload.(type) {
	case BuzzerUnlockPayload:
		if h.OnUnlock != nil {
			h.OnUnlock(p)
		}
	case BuzzerLockPayload:
		if h.OnLock != nil {
			h.OnLock(p)
		}
	case PlayerBuzzPayload:
		if h.OnBuzz != nil {
			h.OnBuzz(p)
		}
	case FocusPlayerPayload:
		if h.OnFocus != nil {
			h.OnFocus(p)
		}
	case PlayerFrozenPayload:
		if h.OnFrozen != nil {
			h.OnFrozen(p)
		}
	}
}

func (c *Channel) publish(event EventType, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return c.bus.Publish(Subject(c.gameID), data)
}

// nowMs returns the sender-local timestamp carried on events.
func (c *Channel) nowMs() int64 {
	return c.clock.Now().UnixMilli()
}

// PublishUnlock opens the buzz window for a clue. Host side only.
func (c *Channel) PublishUnlock(clueID uuid.UUID) error {
	return c.publish(EventBuzzerUnlock, BuzzerUnlockPayload{
		GameID:    c.gameID,
		ClueID:    clueID,
		Timestamp: c.nowMs(),
	})
}

// PublishLock closes the buzz window. Host side only.
func (c *Channel) PublishLock() error {
	return c.publish(EventBuzzerLock, BuzzerLockPayload{
		GameID:    c.gameID,
		Timestamp: c.nowMs(),
	})
}

// PublishFocus designates the player expected to answer. Host side only;
// source "correction" re-focuses a faster buzz that arrived late.
func (c *Channel) PublishFocus(playerID uuid.UUID, nickname string, source FocusSource) error {
	return c.publish(EventFocusPlayer, FocusPlayerPayload{
		GameID:         c.gameID,
		PlayerID:       playerID,
		PlayerNickname: nickname,
		Source:         source,
	})
}

// PublishBuzz announces this player's buzz. The reaction time is computed by
// the sender before this call so network latency never enters the race.
func (c *Channel) PublishBuzz(clueID, playerID uuid.UUID, nickname string, reactionTimeMs int64) error {
	return c.publish(EventPlayerBuzz, PlayerBuzzPayload{
		GameID:          c.gameID,
		ClueID:          clueID,
		PlayerID:        playerID,
		PlayerNickname:  nickname,
		ReactionTimeMs:  reactionTimeMs,
		ClientTimestamp: c.nowMs(),
	})
}

// PublishFrozen announces an early-buzz penalty for this player.
func (c *Channel) PublishFrozen(clueID, playerID uuid.UUID, nickname string) error {
	return c.publish(EventPlayerFrozen, PlayerFrozenPayload{
		GameID:          c.gameID,
		ClueID:          clueID,
		PlayerID:        playerID,
		PlayerNickname:  nickname,
		ClientTimestamp: c.nowMs(),
	})
}
