package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/trivialive/internal/buzzer"
	"github.com/trivialive/internal/models"
	"github.com/trivialive/internal/realtime"
)

// Role distinguishes the host session from player sessions. The host
// additionally persists buzzes and drives focus; players only react.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// ErrNotInteractive is returned when Buzz is called while the buzzer cannot
// accept a click at all (hidden, inactive, already buzzed, frozen).
var ErrNotInteractive = errors.New("buzzer is not interactive")

// LockoutStore answers the asynchronous lockout check that validates an
// optimistic buzz after the fact.
type LockoutStore interface {
	IsPlayerLockedOut(ctx context.Context, clueID, playerID uuid.UUID) (bool, error)
}

// HostStore is the slice of the persistent store the host session writes
// through while coordinating: buzz records, lockouts, focus, and the lock
// flag.
type HostStore interface {
	CreateBuzz(ctx context.Context, gameID, clueID, playerID uuid.UUID, reactionTimeMs *int64) (*models.Buzz, error)
	AppendLockedOutPlayer(ctx context.Context, clueID, playerID uuid.UUID) ([]uuid.UUID, error)
	UpdateFocus(ctx context.Context, gameID uuid.UUID, clueID, playerID *uuid.UUID) error
	SetBuzzerLocked(ctx context.Context, gameID uuid.UUID, locked bool) error
}

// GameWatcher is the changefeed slice the coordinator subscribes to for
// store-driven recovery.
type GameWatcher interface {
	Watch(gameID uuid.UUID, h func(*models.Game)) func()
}

// ReactionRecorder receives reaction times for display stats. Failures on
// this path are logged and swallowed; it never affects coordination.
type ReactionRecorder interface {
	RecordReaction(ctx context.Context, gameID, playerID uuid.UUID, reactionMs int64) error
}

// Config assembles one session's dependencies. Everything is injected; a
// coordinator holds no process-wide state, so two game sessions in one
// process never observe each other.
type Config struct {
	GameID   uuid.UUID
	PlayerID uuid.UUID
	Nickname string
	Role     Role

	Channel  *realtime.Channel
	Machine  *buzzer.StateMachine
	Clock    clockwork.Clock
	Lockouts LockoutStore
	Host     HostStore // required for RoleHost, ignored otherwise
	Watcher  GameWatcher
	Stats    ReactionRecorder // optional

	// OnStateChange fires after every buzzer state change, outside the
	// coordinator's lock. Optional.
	OnStateChange func(buzzer.State)
	// OnFocusChange fires when the focused player changes. Optional.
	OnFocusChange func(realtime.FocusPlayerPayload)
}

// Coordinator is one participant's event loop over a game's broadcast
// channel, reconciled against store change-notifications. All incoming
// events run through the same handlers regardless of origin; self-delivery
// means a local click only changes state when its own echo returns.
type Coordinator struct {
	cfg     Config
	machine *buzzer.StateMachine
	clock   clockwork.Clock

	mu         sync.Mutex
	state      buzzer.State
	sctx       buzzer.Context
	clueID     *uuid.UUID
	frozenClue *uuid.UUID
	unlockAt   time.Time
	pending    bool
	focusedOn  *uuid.UUID
	fastestSet bool
	fastestMs  int64
	focusSeq   uint64

	persistMu         sync.Mutex
	persistedFocusSeq uint64

	runCtx      context.Context
	cancelRun   context.CancelFunc
	watchCancel func()
}

// New builds a coordinator for one session. Call Start to begin receiving.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		machine: cfg.Machine,
		clock:   cfg.Clock,
		sctx:    buzzer.Context{GamePhase: models.GamePhaseLobby},
	}
	c.state = c.machine.DetermineState(c.sctx)
	return c
}

// State returns the current buzzer state.
func (c *Coordinator) State() buzzer.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FocusedPlayer returns the player currently designated to answer, if any.
func (c *Coordinator) FocusedPlayer() *uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.focusedOn == nil {
		return nil
	}
	id := *c.focusedOn
	return &id
}

// Start subscribes to the broadcast channel and the store changefeed.
func (c *Coordinator) Start(ctx context.Context) error {
	c.runCtx, c.cancelRun = context.WithCancel(ctx)

	err := c.cfg.Channel.Subscribe(realtime.Handlers{
		OnUnlock: c.onUnlock,
		OnLock:   c.onLock,
		OnBuzz:   c.onBuzz,
		OnFocus:  c.onFocus,
		OnFrozen: c.onFrozen,
	})
	if err != nil {
		return fmt.Errorf("failed to join game channel: %w", err)
	}

	if c.cfg.Watcher != nil {
		c.watchCancel = c.cfg.Watcher.Watch(c.cfg.GameID, c.applyGameState)
	}
	return nil
}

// Close tears down the channel subscription and the changefeed watch.
func (c *Coordinator) Close() error {
	if c.cancelRun != nil {
		c.cancelRun()
	}
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	return c.cfg.Channel.Close()
}

// setStateLocked applies a derived state, logging edges outside the
// adjacency table (out-of-order broadcasts produce them routinely). Returns
// the change callback to run once the lock is released.
func (c *Coordinator) setStateLocked(next buzzer.State) func() {
	if next == c.state {
		return nil
	}
	if err := c.machine.ValidateTransition(c.state, next); err != nil {
		log.Debug().
			Str("from", string(c.state)).
			Str("to", string(next)).
			Msg("non-adjacent buzzer transition from reordered events")
	}
	c.state = next
	if cb := c.cfg.OnStateChange; cb != nil {
		s := next
		return func() { cb(s) }
	}
	return nil
}

func run(cb func()) {
	if cb != nil {
		cb()
	}
}

// Buzz handles the local click. The reaction time is computed against the
// locally recorded unlock instant before anything touches the network, so
// transit latency never enters the race. A click while LOCKED is an early
// buzz and freezes the player immediately; a click while UNLOCKED publishes
// the buzz and waits for its own echo before entering BUZZED.
func (c *Coordinator) Buzz() error {
	c.mu.Lock()

	if !c.machine.IsInteractive(c.state) {
		c.mu.Unlock()
		return ErrNotInteractive
	}
	if c.pending {
		// Already sent for this window; duplicate clicks are no-ops.
		c.mu.Unlock()
		return nil
	}
	if c.clueID == nil {
		c.mu.Unlock()
		return ErrNotInteractive
	}
	clueID := *c.clueID

	if c.state == buzzer.StateLocked {
		// Early buzz: penalize locally and announce.
		c.sctx.IsFrozen = true
		c.frozenClue = &clueID
		cb := c.setStateLocked(c.machine.PostBuzzState(c.state, true))
		c.mu.Unlock()
		run(cb)

		if err := c.cfg.Channel.PublishFrozen(clueID, c.cfg.PlayerID, c.cfg.Nickname); err != nil {
			log.Warn().Err(err).Msg("failed to broadcast early-buzz freeze")
		}
		return nil
	}

	reactionMs := c.clock.Now().Sub(c.unlockAt).Milliseconds()
	c.pending = true
	c.mu.Unlock()

	if err := c.cfg.Channel.PublishBuzz(clueID, c.cfg.PlayerID, c.cfg.Nickname, reactionMs); err != nil {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
		return fmt.Errorf("failed to broadcast buzz: %w", err)
	}
	return nil
}

func (c *Coordinator) onUnlock(p realtime.BuzzerUnlockPayload) {
	c.mu.Lock()
	clueID := p.ClueID
	if c.frozenClue != nil && *c.frozenClue != clueID {
		// A fresh clue lifts the freeze.
		c.sctx.IsFrozen = false
		c.frozenClue = nil
	}
	c.clueID = &clueID
	c.unlockAt = c.clock.Now()
	c.pending = false
	c.sctx.GamePhase = models.GamePhaseInProgress
	c.sctx.HasFocusedClue = true
	c.sctx.IsLocked = false
	c.sctx.HasBuzzed = false
	c.resetFastestLocked()
	c.focusedOn = nil
	cb := c.setStateLocked(c.machine.DetermineState(c.sctx))
	c.mu.Unlock()
	run(cb)
}

func (c *Coordinator) onLock(realtime.BuzzerLockPayload) {
	c.mu.Lock()
	c.sctx.IsLocked = true
	c.sctx.HasBuzzed = false
	c.pending = false
	c.resetFastestLocked()
	cb := c.setStateLocked(c.machine.DetermineState(c.sctx))
	c.mu.Unlock()
	run(cb)
}

// onBuzz is the heart of fastest-buzz reconciliation. Every receiver runs
// the same tracker; the host additionally persists the buzz and drives the
// focus broadcast, emitting a correction when a faster buzz lands after a
// slower one was already focused.
func (c *Coordinator) onBuzz(p realtime.PlayerBuzzPayload) {
	c.mu.Lock()

	own := p.PlayerID == c.cfg.PlayerID

	isNewFastest := !c.fastestSet || p.ReactionTimeMs < c.fastestMs
	correction := isNewFastest && c.focusedOn != nil && *c.focusedOn != p.PlayerID
	if isNewFastest {
		c.fastestSet = true
		c.fastestMs = p.ReactionTimeMs
		pid := p.PlayerID
		c.focusedOn = &pid
	}

	var cb func()
	if own {
		if c.pending {
			c.sctx.HasBuzzed = true
			cb = c.setStateLocked(c.machine.PostBuzzState(c.state, false))
		}
	} else if !c.sctx.HasBuzzed && !c.sctx.IsFrozen {
		// Someone else claimed the window; this buzzer closes.
		c.sctx.IsLocked = true
		cb = c.setStateLocked(c.machine.DetermineState(c.sctx))
	}

	role := c.cfg.Role
	runCtx := c.runCtx
	var seq uint64
	if role == RoleHost && isNewFastest {
		c.focusSeq++
		seq = c.focusSeq
	}
	c.mu.Unlock()
	run(cb)

	// Store work happens off the dispatch path: the UI transition above is
	// never gated behind a round-trip.
	if own && c.cfg.Lockouts != nil {
		go c.validateOwnBuzz(runCtx, p.ClueID)
	}
	if role == RoleHost {
		go c.hostRecordBuzz(runCtx, p)
		if isNewFastest {
			c.hostFocusFastest(runCtx, p, correction, seq)
		}
	}
}

// validateOwnBuzz resolves the optimistic BUZZED transition against the
// authoritative lockout list. A player found locked out is force-corrected
// to FROZEN; the optimistic state loses.
func (c *Coordinator) validateOwnBuzz(ctx context.Context, clueID uuid.UUID) {
	lockedOut, err := c.cfg.Lockouts.IsPlayerLockedOut(ctx, clueID, c.cfg.PlayerID)

	c.mu.Lock()
	c.pending = false
	if err != nil {
		c.mu.Unlock()
		log.Warn().Err(err).Msg("lockout validation failed; keeping optimistic state")
		return
	}
	var cb func()
	if lockedOut {
		c.sctx.IsFrozen = true
		c.sctx.HasBuzzed = false
		cID := clueID
		c.frozenClue = &cID
		cb = c.setStateLocked(c.machine.DetermineState(c.sctx))
	}
	c.mu.Unlock()
	run(cb)
}

func (c *Coordinator) hostRecordBuzz(ctx context.Context, p realtime.PlayerBuzzPayload) {
	ms := p.ReactionTimeMs
	if _, err := c.cfg.Host.CreateBuzz(ctx, c.cfg.GameID, p.ClueID, p.PlayerID, &ms); err != nil {
		log.Error().Err(err).
			Str("player_id", p.PlayerID.String()).
			Msg("failed to persist buzz record")
	}
	if c.cfg.Stats != nil {
		if err := c.cfg.Stats.RecordReaction(ctx, c.cfg.GameID, p.PlayerID, ms); err != nil {
			log.Warn().Err(err).Msg("failed to record reaction stat")
		}
	}
}

// hostFocusFastest announces the new focus and persists it. The broadcast is
// synchronous on the dispatch path (a bus publish, not store I/O) so focus
// events leave the host in buzz-arrival order: a slower buzz's auto-focus can
// never land after the correction for a faster one. Persistence runs on a
// goroutine, sequence-guarded so a stale focus never overwrites a newer row.
func (c *Coordinator) hostFocusFastest(ctx context.Context, p realtime.PlayerBuzzPayload, correction bool, seq uint64) {
	source := realtime.FocusSourceAuto
	if correction {
		source = realtime.FocusSourceCorrection
	}
	if err := c.cfg.Channel.PublishFocus(p.PlayerID, p.PlayerNickname, source); err != nil {
		log.Warn().Err(err).Msg("failed to broadcast focus")
	}

	clueID := p.ClueID
	playerID := p.PlayerID
	go func() {
		c.persistMu.Lock()
		defer c.persistMu.Unlock()
		if seq < c.persistedFocusSeq {
			return
		}
		if err := c.cfg.Host.UpdateFocus(ctx, c.cfg.GameID, &clueID, &playerID); err != nil {
			log.Error().Err(err).Msg("failed to persist focus")
			return
		}
		c.persistedFocusSeq = seq
	}()
}

func (c *Coordinator) onFocus(p realtime.FocusPlayerPayload) {
	c.mu.Lock()
	pid := p.PlayerID
	c.focusedOn = &pid
	cb := c.cfg.OnFocusChange
	c.mu.Unlock()

	if cb != nil {
		cb(p)
	}
}

func (c *Coordinator) onFrozen(p realtime.PlayerFrozenPayload) {
	c.mu.Lock()
	role := c.cfg.Role
	runCtx := c.runCtx
	var cb func()
	if p.PlayerID == c.cfg.PlayerID {
		c.sctx.IsFrozen = true
		c.sctx.HasBuzzed = false
		clueID := p.ClueID
		c.frozenClue = &clueID
		cb = c.setStateLocked(c.machine.DetermineState(c.sctx))
	}
	c.mu.Unlock()
	run(cb)

	// An early buzz joins the clue's lockout list like a wrong answer does,
	// so a frozen player rebuilding from the store stays ineligible.
	if role == RoleHost {
		go c.hostRecordLockout(runCtx, p)
	}
}

func (c *Coordinator) hostRecordLockout(ctx context.Context, p realtime.PlayerFrozenPayload) {
	if _, err := c.cfg.Host.AppendLockedOutPlayer(ctx, p.ClueID, p.PlayerID); err != nil {
		log.Error().Err(err).
			Str("player_id", p.PlayerID.String()).
			Msg("failed to persist early-buzz lockout")
	}
}

// applyGameState reconciles against the authoritative game row. Correction
// runs in the safe direction only: the store may force the buzzer LOCKED but
// never unlock it, and a freeze lifts only when the frozen clue is no longer
// the focused one (clue completed or board moved on).
func (c *Coordinator) applyGameState(g *models.Game) {
	c.mu.Lock()

	c.sctx.GamePhase = g.Phase
	c.sctx.HasFocusedClue = g.FocusedClueID != nil

	if g.FocusedClueID != nil {
		clueID := *g.FocusedClueID
		c.clueID = &clueID
	} else {
		c.clueID = nil
	}

	if c.frozenClue != nil && (g.FocusedClueID == nil || *g.FocusedClueID != *c.frozenClue) {
		c.sctx.IsFrozen = false
		c.frozenClue = nil
	}

	if g.IsBuzzerLocked {
		c.sctx.IsLocked = true
	}
	// A store row claiming unlocked is never honored here: unlocks travel by
	// broadcast only, so recovery cannot widen the window.

	cb := c.setStateLocked(c.machine.DetermineState(c.sctx))
	c.mu.Unlock()
	run(cb)
}

func (c *Coordinator) resetFastestLocked() {
	c.fastestSet = false
	c.fastestMs = 0
}

// Unlock is the host operation opening the buzz window for a clue: focus the
// clue in the store, drop the lock flag, then broadcast.
func (c *Coordinator) Unlock(ctx context.Context, clueID uuid.UUID) error {
	if c.cfg.Role != RoleHost {
		return fmt.Errorf("unlock is a host operation")
	}
	if err := c.cfg.Host.UpdateFocus(ctx, c.cfg.GameID, &clueID, nil); err != nil {
		return fmt.Errorf("failed to focus clue: %w", err)
	}
	if err := c.cfg.Host.SetBuzzerLocked(ctx, c.cfg.GameID, false); err != nil {
		return fmt.Errorf("failed to unlock buzzer: %w", err)
	}
	if err := c.cfg.Channel.PublishUnlock(clueID); err != nil {
		log.Warn().Err(err).Msg("failed to broadcast unlock")
	}
	return nil
}

// Lock is the host operation closing the buzz window.
func (c *Coordinator) Lock(ctx context.Context) error {
	if c.cfg.Role != RoleHost {
		return fmt.Errorf("lock is a host operation")
	}
	if err := c.cfg.Host.SetBuzzerLocked(ctx, c.cfg.GameID, true); err != nil {
		return fmt.Errorf("failed to lock buzzer: %w", err)
	}
	if err := c.cfg.Channel.PublishLock(); err != nil {
		log.Warn().Err(err).Msg("failed to broadcast lock")
	}
	return nil
}

// FocusPlayer is the host operation manually designating a responder.
func (c *Coordinator) FocusPlayer(ctx context.Context, playerID uuid.UUID, nickname string) error {
	if c.cfg.Role != RoleHost {
		return fmt.Errorf("focus is a host operation")
	}
	c.mu.Lock()
	clueID := c.clueID
	c.mu.Unlock()

	if err := c.cfg.Host.UpdateFocus(ctx, c.cfg.GameID, clueID, &playerID); err != nil {
		return fmt.Errorf("failed to persist focus: %w", err)
	}
	if err := c.cfg.Channel.PublishFocus(playerID, nickname, realtime.FocusSourceManual); err != nil {
		log.Warn().Err(err).Msg("failed to broadcast focus")
	}
	return nil
}
