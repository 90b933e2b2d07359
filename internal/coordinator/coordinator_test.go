package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/trivialive/internal/adjudication"
	"github.com/trivialive/internal/answer"
	"github.com/trivialive/internal/buzzer"
	"github.com/trivialive/internal/models"
	"github.com/trivialive/internal/realtime"
	"github.com/trivialive/internal/wager"
)

// fakeBackend is an in-memory store serving both the coordinator interfaces
// and the adjudication app, so end-to-end tests run against one state.
type fakeBackend struct {
	mu          sync.Mutex
	game        *models.Game
	clues       map[uuid.UUID]*models.Clue
	scores      map[uuid.UUID]int
	playerCount int
	buzzes      []models.Buzz
	answers     []answer.CreateAnswerRequest
	wagers      map[uuid.UUID]int // clueID -> amount, single player in these tests
}

func newFakeBackend(hostID, gameID uuid.UUID, playerCount int) *fakeBackend {
	return &fakeBackend{
		game: &models.Game{
			ID:     gameID,
			HostID: hostID,
			Phase:  models.GamePhaseInProgress,
			Round:  models.RoundJeopardy,
		},
		clues:       make(map[uuid.UUID]*models.Clue),
		scores:      make(map[uuid.UUID]int),
		playerCount: playerCount,
		wagers:      make(map[uuid.UUID]int),
	}
}

func (f *fakeBackend) addClue(clueID uuid.UUID, value int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clues[clueID] = &models.Clue{
		ID:     clueID,
		GameID: f.game.ID,
		Round:  models.RoundJeopardy,
		Value:  value,
		State:  models.ClueStateRevealed,
	}
}

func (f *fakeBackend) CreateBuzz(_ context.Context, gameID, clueID, playerID uuid.UUID, reactionTimeMs *int64) (*models.Buzz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := models.Buzz{ID: uuid.New(), GameID: gameID, ClueID: clueID, PlayerID: playerID, ReactionTimeMs: reactionTimeMs, CreatedAt: time.Now()}
	f.buzzes = append(f.buzzes, b)
	return &b, nil
}

func (f *fakeBackend) UpdateFocus(_ context.Context, _ uuid.UUID, clueID, playerID *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.game.FocusedClueID = clueID
	f.game.FocusedPlayerID = playerID
	return nil
}

func (f *fakeBackend) SetBuzzerLocked(_ context.Context, _ uuid.UUID, locked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.game.IsBuzzerLocked = locked
	return nil
}

func (f *fakeBackend) IsPlayerLockedOut(_ context.Context, clueID, playerID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clues[clueID]
	if !ok {
		return false, nil
	}
	for _, id := range c.LockedOutPlayerIDs {
		if id == playerID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBackend) GetGame(_ context.Context, _ uuid.UUID) (*models.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.game
	return &cp, nil
}

func (f *fakeBackend) SetCurrentPlayer(_ context.Context, _ uuid.UUID, playerID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := playerID
	f.game.CurrentPlayerID = &p
	return nil
}

func (f *fakeBackend) UpdateRound(_ context.Context, _ uuid.UUID, round models.Round) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.game.Round = round
	return nil
}

func (f *fakeBackend) GetClue(_ context.Context, id uuid.UUID) (*models.Clue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clues[id]
	if !ok {
		return nil, errors.New("clue not found")
	}
	cp := *c
	return &cp, nil
}

func (f *fakeBackend) SetState(_ context.Context, clueID uuid.UUID, state models.ClueState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clues[clueID].State = state
	return nil
}

func (f *fakeBackend) AppendLockedOutPlayer(_ context.Context, clueID, playerID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.clues[clueID]
	for _, id := range c.LockedOutPlayerIDs {
		if id == playerID {
			return c.LockedOutPlayerIDs, nil
		}
	}
	c.LockedOutPlayerIDs = append(c.LockedOutPlayerIDs, playerID)
	return c.LockedOutPlayerIDs, nil
}

func (f *fakeBackend) CountIncompleteByRound(_ context.Context, _ uuid.UUID, _ models.Round) (int, error) {
	return 0, nil
}

func (f *fakeBackend) AddToScore(_ context.Context, playerID uuid.UUID, delta int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[playerID] += delta
	return f.scores[playerID], nil
}

func (f *fakeBackend) CountByGame(_ context.Context, _ uuid.UUID) (int, error) {
	return f.playerCount, nil
}

func (f *fakeBackend) DeleteByClue(_ context.Context, clueID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []models.Buzz
	deleted := 0
	for _, b := range f.buzzes {
		if b.ClueID == clueID {
			deleted++
			continue
		}
		kept = append(kept, b)
	}
	f.buzzes = kept
	return deleted, nil
}

func (f *fakeBackend) UpsertWager(_ context.Context, _, clueID, playerID uuid.UUID, amount int) (*models.Wager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wagers[clueID] = amount
	return &models.Wager{ClueID: clueID, PlayerID: playerID, Amount: amount}, nil
}

func (f *fakeBackend) GetActiveWager(_ context.Context, _, clueID, _ uuid.UUID) (*models.Wager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	amount, ok := f.wagers[clueID]
	if !ok {
		return nil, wager.ErrWagerNotFound
	}
	return &models.Wager{ClueID: clueID, Amount: amount}, nil
}

func (f *fakeBackend) ClearWagersByClue(ctx context.Context, clueID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.wagers, clueID)
	return nil
}

func (f *fakeBackend) CreateAnswer(_ context.Context, req answer.CreateAnswerRequest) (*models.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, req)
	return &models.Answer{ID: uuid.New(), GameID: req.GameID}, nil
}

// wagerDeleter adapts the adjudication WagerRepository DeleteByClue, whose
// signature collides with the buzz DeleteByClue on fakeBackend.
type wagerDeleter struct{ b *fakeBackend }

func (w wagerDeleter) UpsertWager(ctx context.Context, gameID, clueID, playerID uuid.UUID, amount int) (*models.Wager, error) {
	return w.b.UpsertWager(ctx, gameID, clueID, playerID, amount)
}

func (w wagerDeleter) GetActiveWager(ctx context.Context, gameID, clueID, playerID uuid.UUID) (*models.Wager, error) {
	return w.b.GetActiveWager(ctx, gameID, clueID, playerID)
}

func (w wagerDeleter) DeleteByClue(ctx context.Context, clueID uuid.UUID) error {
	return w.b.ClearWagersByClue(ctx, clueID)
}

// focusRecorder collects focus broadcasts in arrival order.
type focusRecorder struct {
	mu     sync.Mutex
	events []realtime.FocusPlayerPayload
}

func (r *focusRecorder) record(p realtime.FocusPlayerPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *focusRecorder) snapshot() []realtime.FocusPlayerPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]realtime.FocusPlayerPayload, len(r.events))
	copy(out, r.events)
	return out
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

type fakeWatcher struct {
	mu sync.Mutex
	h  func(*models.Game)
}

func (w *fakeWatcher) Watch(_ uuid.UUID, h func(*models.Game)) func() {
	w.mu.Lock()
	w.h = h
	w.mu.Unlock()
	return func() {}
}

func (w *fakeWatcher) push(g *models.Game) {
	w.mu.Lock()
	h := w.h
	w.mu.Unlock()
	h(g)
}

func newPlayerCoordinator(t *testing.T, bus realtime.Bus, gameID uuid.UUID, backend *fakeBackend, clock clockwork.Clock, watcher GameWatcher) (*Coordinator, uuid.UUID) {
	t.Helper()
	playerID := uuid.New()
	c := New(Config{
		GameID:   gameID,
		PlayerID: playerID,
		Nickname: "player-" + playerID.String()[:8],
		Role:     RolePlayer,
		Channel:  realtime.NewChannel(bus, gameID, clock),
		Machine:  buzzer.NewStateMachine(),
		Clock:    clock,
		Lockouts: backend,
		Watcher:  watcher,
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start player coordinator: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, playerID
}

func TestBuzzedOnlyOnOwnEcho(t *testing.T) {
	bus := realtime.NewMemoryBus()
	gameID := uuid.New()
	clueID := uuid.New()
	backend := newFakeBackend(uuid.New(), gameID, 1)
	backend.addClue(clueID, 400)
	clock := clockwork.NewFakeClock()

	c, playerID := newPlayerCoordinator(t, bus, gameID, backend, clock, nil)

	// Tap the wire to verify the reaction time is computed before sending.
	var (
		tapMu  sync.Mutex
		buzzes []realtime.PlayerBuzzPayload
	)
	_, err := bus.Subscribe(realtime.Subject(gameID), func(data []byte) {
		var env realtime.Envelope
		if json.Unmarshal(data, &env) != nil || env.Event != realtime.EventPlayerBuzz {
			return
		}
		var p realtime.PlayerBuzzPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			tapMu.Lock()
			buzzes = append(buzzes, p)
			tapMu.Unlock()
		}
	})
	if err != nil {
		t.Fatalf("tap subscribe: %v", err)
	}

	sender := realtime.NewChannel(bus, gameID, clockwork.NewFakeClock())
	if err := sender.PublishUnlock(clueID); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if got := c.State(); got != buzzer.StateUnlocked {
		t.Fatalf("state after unlock = %s, want UNLOCKED", got)
	}

	clock.Advance(180 * time.Millisecond)
	if err := c.Buzz(); err != nil {
		t.Fatalf("Buzz: %v", err)
	}

	// Delivery is synchronous on the in-memory bus: the echo already ran.
	if got := c.State(); got != buzzer.StateBuzzed {
		t.Errorf("state after echo = %s, want BUZZED", got)
	}
	tapMu.Lock()
	defer tapMu.Unlock()
	if len(buzzes) != 1 {
		t.Fatalf("wire buzzes = %d, want 1", len(buzzes))
	}
	if buzzes[0].ReactionTimeMs != 180 {
		t.Errorf("reaction = %dms, want 180", buzzes[0].ReactionTimeMs)
	}
	if buzzes[0].PlayerID != playerID {
		t.Errorf("buzz attributed to %s, want %s", buzzes[0].PlayerID, playerID)
	}
}

func TestEarlyBuzzFreezes(t *testing.T) {
	bus := realtime.NewMemoryBus()
	gameID := uuid.New()
	clueID := uuid.New()
	backend := newFakeBackend(uuid.New(), gameID, 1)
	backend.addClue(clueID, 400)
	clock := clockwork.NewFakeClock()

	c, _ := newPlayerCoordinator(t, bus, gameID, backend, clock, nil)

	sender := realtime.NewChannel(bus, gameID, clockwork.NewFakeClock())
	if err := sender.PublishUnlock(clueID); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := sender.PublishLock(); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if got := c.State(); got != buzzer.StateLocked {
		t.Fatalf("state after lock = %s, want LOCKED", got)
	}

	// LOCKED stays clickable so an early click is detected and penalized.
	if err := c.Buzz(); err != nil {
		t.Fatalf("early Buzz: %v", err)
	}
	if got := c.State(); got != buzzer.StateFrozen {
		t.Errorf("state after early buzz = %s, want FROZEN", got)
	}

	if err := c.Buzz(); !errors.Is(err, ErrNotInteractive) {
		t.Errorf("buzz while frozen: err = %v, want ErrNotInteractive", err)
	}
}

func TestLateFasterBuzzWinsByCorrection(t *testing.T) {
	bus := realtime.NewMemoryBus()
	hostID := uuid.New()
	gameID := uuid.New()
	clueID := uuid.New()
	backend := newFakeBackend(hostID, gameID, 2)
	backend.addClue(clueID, 400)

	rec := &focusRecorder{}
	host := New(Config{
		GameID:        gameID,
		PlayerID:      hostID,
		Nickname:      "host",
		Role:          RoleHost,
		Channel:       realtime.NewChannel(bus, gameID, clockwork.NewFakeClock()),
		Machine:       buzzer.NewStateMachine(),
		Clock:         clockwork.NewFakeClock(),
		Lockouts:      backend,
		Host:          backend,
		OnFocusChange: rec.record,
	})
	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("start host: %v", err)
	}
	defer host.Close()

	if err := host.Unlock(context.Background(), clueID); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	p1 := uuid.New()
	p2 := uuid.New()
	// Remote senders: P1's 210ms buzz is delivered first even though P2's
	// 180ms click was faster; P2's broadcast simply arrived late.
	remote := realtime.NewChannel(bus, gameID, clockwork.NewFakeClock())
	if err := remote.PublishBuzz(clueID, p1, "P1", 210); err != nil {
		t.Fatalf("p1 buzz: %v", err)
	}
	waitFor(t, "initial focus on P1", func() bool {
		evs := rec.snapshot()
		return len(evs) == 1 && evs[0].PlayerID == p1 && evs[0].Source == realtime.FocusSourceAuto
	})

	if err := remote.PublishBuzz(clueID, p2, "P2", 180); err != nil {
		t.Fatalf("p2 buzz: %v", err)
	}
	waitFor(t, "correction focus on P2", func() bool {
		evs := rec.snapshot()
		return len(evs) == 2 && evs[1].PlayerID == p2 && evs[1].Source == realtime.FocusSourceCorrection
	})

	waitFor(t, "persisted focus on P2", func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.game.FocusedPlayerID != nil && *backend.game.FocusedPlayerID == p2
	})
	waitFor(t, "both buzzes persisted", func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.buzzes) == 2
	})
}

func TestBackToBackBuzzesFocusFastest(t *testing.T) {
	bus := realtime.NewMemoryBus()
	hostID := uuid.New()
	gameID := uuid.New()
	clueID := uuid.New()
	backend := newFakeBackend(hostID, gameID, 2)
	backend.addClue(clueID, 400)

	rec := &focusRecorder{}
	host := New(Config{
		GameID:        gameID,
		PlayerID:      hostID,
		Nickname:      "host",
		Role:          RoleHost,
		Channel:       realtime.NewChannel(bus, gameID, clockwork.NewFakeClock()),
		Machine:       buzzer.NewStateMachine(),
		Clock:         clockwork.NewFakeClock(),
		Lockouts:      backend,
		Host:          backend,
		OnFocusChange: rec.record,
	})
	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("start host: %v", err)
	}
	defer host.Close()

	if err := host.Unlock(context.Background(), clueID); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	// Both buzzes land back to back, no settling time in between. The focus
	// broadcasts must still come out in buzz-arrival order: auto for the
	// slower first arrival, then the correction for the faster one.
	p1 := uuid.New()
	p2 := uuid.New()
	remote := realtime.NewChannel(bus, gameID, clockwork.NewFakeClock())
	if err := remote.PublishBuzz(clueID, p1, "P1", 210); err != nil {
		t.Fatalf("p1 buzz: %v", err)
	}
	if err := remote.PublishBuzz(clueID, p2, "P2", 180); err != nil {
		t.Fatalf("p2 buzz: %v", err)
	}

	evs := rec.snapshot()
	if len(evs) != 2 {
		t.Fatalf("focus events = %d, want 2", len(evs))
	}
	if evs[0].PlayerID != p1 || evs[0].Source != realtime.FocusSourceAuto {
		t.Errorf("first focus = %s/%s, want P1/auto", evs[0].PlayerID, evs[0].Source)
	}
	if evs[1].PlayerID != p2 || evs[1].Source != realtime.FocusSourceCorrection {
		t.Errorf("second focus = %s/%s, want P2/correction", evs[1].PlayerID, evs[1].Source)
	}
	if got := host.FocusedPlayer(); got == nil || *got != p2 {
		t.Error("host not converged on P2")
	}

	waitFor(t, "persisted focus on P2", func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.game.FocusedPlayerID != nil && *backend.game.FocusedPlayerID == p2
	})
}

func TestEarlyBuzzJoinsLockoutList(t *testing.T) {
	bus := realtime.NewMemoryBus()
	hostID := uuid.New()
	gameID := uuid.New()
	clueID := uuid.New()
	backend := newFakeBackend(hostID, gameID, 2)
	backend.addClue(clueID, 400)

	host := New(Config{
		GameID:   gameID,
		PlayerID: hostID,
		Nickname: "host",
		Role:     RoleHost,
		Channel:  realtime.NewChannel(bus, gameID, clockwork.NewFakeClock()),
		Machine:  buzzer.NewStateMachine(),
		Clock:    clockwork.NewFakeClock(),
		Lockouts: backend,
		Host:     backend,
	})
	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("start host: %v", err)
	}
	defer host.Close()

	if err := host.Unlock(context.Background(), clueID); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := host.Lock(context.Background()); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	// A remote player clicks early; their session broadcasts the freeze. The
	// host must persist the penalty so the player stays ineligible for this
	// clue even after a reconnect rebuilds from the store.
	early := uuid.New()
	remote := realtime.NewChannel(bus, gameID, clockwork.NewFakeClock())
	if err := remote.PublishFrozen(clueID, early, "eager"); err != nil {
		t.Fatalf("frozen broadcast: %v", err)
	}

	waitFor(t, "early buzzer locked out in store", func() bool {
		lockedOut, err := backend.IsPlayerLockedOut(context.Background(), clueID, early)
		return err == nil && lockedOut
	})
}

func TestDuplicateBuzzDeliveryIsIdempotent(t *testing.T) {
	bus := realtime.NewMemoryBus()
	gameID := uuid.New()
	clueID := uuid.New()
	backend := newFakeBackend(uuid.New(), gameID, 1)
	backend.addClue(clueID, 400)
	clock := clockwork.NewFakeClock()

	c, playerID := newPlayerCoordinator(t, bus, gameID, backend, clock, nil)

	sender := realtime.NewChannel(bus, gameID, clockwork.NewFakeClock())
	if err := sender.PublishUnlock(clueID); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	clock.Advance(150 * time.Millisecond)
	if err := c.Buzz(); err != nil {
		t.Fatalf("Buzz: %v", err)
	}
	first := c.State()

	// Redeliver the same payload; the terminal state must not change.
	if err := sender.PublishBuzz(clueID, playerID, "dup", 150); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if got := c.State(); got != first || got != buzzer.StateBuzzed {
		t.Errorf("state after duplicate delivery = %s, want %s", got, first)
	}
}

func TestLockedOutPlayerForceCorrectedToFrozen(t *testing.T) {
	bus := realtime.NewMemoryBus()
	gameID := uuid.New()
	clueID := uuid.New()
	backend := newFakeBackend(uuid.New(), gameID, 2)
	backend.addClue(clueID, 400)
	clock := clockwork.NewFakeClock()

	c, playerID := newPlayerCoordinator(t, bus, gameID, backend, clock, nil)
	backend.mu.Lock()
	backend.clues[clueID].LockedOutPlayerIDs = []uuid.UUID{playerID}
	backend.mu.Unlock()

	sender := realtime.NewChannel(bus, gameID, clockwork.NewFakeClock())
	if err := sender.PublishUnlock(clueID); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	clock.Advance(100 * time.Millisecond)
	if err := c.Buzz(); err != nil {
		t.Fatalf("Buzz: %v", err)
	}

	// The optimistic BUZZED loses once the async lockout check resolves.
	waitFor(t, "force-correction to FROZEN", func() bool {
		return c.State() == buzzer.StateFrozen
	})
}

func TestStoreRecoveryOnlyLocks(t *testing.T) {
	bus := realtime.NewMemoryBus()
	gameID := uuid.New()
	clueID := uuid.New()
	backend := newFakeBackend(uuid.New(), gameID, 1)
	backend.addClue(clueID, 400)
	watcher := &fakeWatcher{}

	c, _ := newPlayerCoordinator(t, bus, gameID, backend, clockwork.NewFakeClock(), watcher)

	sender := realtime.NewChannel(bus, gameID, clockwork.NewFakeClock())
	if err := sender.PublishUnlock(clueID); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if got := c.State(); got != buzzer.StateUnlocked {
		t.Fatalf("state = %s, want UNLOCKED", got)
	}

	cID := clueID
	watcher.push(&models.Game{
		ID:             gameID,
		Phase:          models.GamePhaseInProgress,
		FocusedClueID:  &cID,
		IsBuzzerLocked: true,
	})
	if got := c.State(); got != buzzer.StateLocked {
		t.Errorf("store lock recovery: state = %s, want LOCKED", got)
	}

	// An unlocked row must never widen the window; unlocks travel only by
	// broadcast.
	watcher.push(&models.Game{
		ID:             gameID,
		Phase:          models.GamePhaseInProgress,
		FocusedClueID:  &cID,
		IsBuzzerLocked: false,
	})
	if got := c.State(); got != buzzer.StateLocked {
		t.Errorf("store unlock ignored: state = %s, want LOCKED", got)
	}
}

func TestEndToEndAdjudication(t *testing.T) {
	bus := realtime.NewMemoryBus()
	hostID := uuid.New()
	gameID := uuid.New()
	clueID := uuid.New()
	backend := newFakeBackend(hostID, gameID, 2)
	backend.addClue(clueID, 400)

	rec := &focusRecorder{}
	hostChannel := realtime.NewChannel(bus, gameID, clockwork.NewFakeClock())
	host := New(Config{
		GameID:        gameID,
		PlayerID:      hostID,
		Nickname:      "host",
		Role:          RoleHost,
		Channel:       hostChannel,
		Machine:       buzzer.NewStateMachine(),
		Clock:         clockwork.NewFakeClock(),
		Lockouts:      backend,
		Host:          backend,
		OnFocusChange: rec.record,
	})
	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("start host: %v", err)
	}
	defer host.Close()

	if err := host.Unlock(context.Background(), clueID); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	p1 := uuid.New()
	p2 := uuid.New()
	remote := realtime.NewChannel(bus, gameID, clockwork.NewFakeClock())
	if err := remote.PublishBuzz(clueID, p1, "P1", 210); err != nil {
		t.Fatalf("p1 buzz: %v", err)
	}
	waitFor(t, "initial focus on P1", func() bool {
		evs := rec.snapshot()
		return len(evs) == 1 && evs[0].PlayerID == p1
	})
	if err := remote.PublishBuzz(clueID, p2, "P2", 180); err != nil {
		t.Fatalf("p2 buzz: %v", err)
	}

	waitFor(t, "final focus on P2 via correction", func() bool {
		evs := rec.snapshot()
		return len(evs) == 2 && evs[1].PlayerID == p2 && evs[1].Source == realtime.FocusSourceCorrection
	})

	app := adjudication.NewApp(backend, backend, backend, backend, wagerDeleter{backend}, backend,
		func(uuid.UUID) adjudication.Broadcaster { return hostChannel })
	if err := app.MarkCorrect(context.Background(), hostID, gameID, clueID, p2, "correct response", 400); err != nil {
		t.Fatalf("MarkCorrect: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if got := backend.scores[p2]; got != 400 {
		t.Errorf("P2 score = %d, want 400", got)
	}
	if got := backend.clues[clueID].State; got != models.ClueStateCompleted {
		t.Errorf("clue state = %s, want completed", got)
	}
	if !backend.game.IsBuzzerLocked {
		t.Error("buzzer not locked after adjudication")
	}
	if backend.game.CurrentPlayerID == nil || *backend.game.CurrentPlayerID != p2 {
		t.Error("currentPlayerId not set to P2")
	}
	if len(backend.buzzes) != 0 {
		t.Errorf("buzz queue not cleared, %d left", len(backend.buzzes))
	}
}
