package adjudication

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/trivialive/internal/answer"
	"github.com/trivialive/internal/models"
	"github.com/trivialive/internal/wager"
)

type fakeGames struct {
	games map[uuid.UUID]*models.Game
}

func (f *fakeGames) GetGame(_ context.Context, id uuid.UUID) (*models.Game, error) {
	g, ok := f.games[id]
	if !ok {
		return nil, errors.New("game not found")
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGames) UpdateFocus(_ context.Context, gameID uuid.UUID, clueID, playerID *uuid.UUID) error {
	g := f.games[gameID]
	g.FocusedClueID = clueID
	g.FocusedPlayerID = playerID
	return nil
}

func (f *fakeGames) SetBuzzerLocked(_ context.Context, gameID uuid.UUID, locked bool) error {
	f.games[gameID].IsBuzzerLocked = locked
	return nil
}

func (f *fakeGames) SetCurrentPlayer(_ context.Context, gameID, playerID uuid.UUID) error {
	p := playerID
	f.games[gameID].CurrentPlayerID = &p
	return nil
}

func (f *fakeGames) UpdateRound(_ context.Context, gameID uuid.UUID, round models.Round) error {
	f.games[gameID].Round = round
	return nil
}

type fakeClues struct {
	clues      map[uuid.UUID]*models.Clue
	incomplete int
}

func (f *fakeClues) GetClue(_ context.Context, id uuid.UUID) (*models.Clue, error) {
	c, ok := f.clues[id]
	if !ok {
		return nil, errors.New("clue not found")
	}
	cp := *c
	return &cp, nil
}

func (f *fakeClues) SetState(_ context.Context, clueID uuid.UUID, state models.ClueState) error {
	f.clues[clueID].State = state
	return nil
}

func (f *fakeClues) AppendLockedOutPlayer(_ context.Context, clueID, playerID uuid.UUID) ([]uuid.UUID, error) {
	c := f.clues[clueID]
	for _, id := range c.LockedOutPlayerIDs {
		if id == playerID {
			return c.LockedOutPlayerIDs, nil
		}
	}
	c.LockedOutPlayerIDs = append(c.LockedOutPlayerIDs, playerID)
	return c.LockedOutPlayerIDs, nil
}

func (f *fakeClues) CountIncompleteByRound(_ context.Context, _ uuid.UUID, _ models.Round) (int, error) {
	return f.incomplete, nil
}

type fakePlayers struct {
	scores map[uuid.UUID]int
	count  int
}

func (f *fakePlayers) AddToScore(_ context.Context, playerID uuid.UUID, delta int) (int, error) {
	f.scores[playerID] += delta
	return f.scores[playerID], nil
}

func (f *fakePlayers) CountByGame(_ context.Context, _ uuid.UUID) (int, error) {
	return f.count, nil
}

type fakeBuzzes struct {
	byClue map[uuid.UUID]int
}

func (f *fakeBuzzes) DeleteByClue(_ context.Context, clueID uuid.UUID) (int, error) {
	n := f.byClue[clueID]
	f.byClue[clueID] = 0
	return n, nil
}

type wagerKey struct {
	gameID, clueID, playerID uuid.UUID
}

type fakeWagers struct {
	amounts map[wagerKey]int
}

func (f *fakeWagers) UpsertWager(_ context.Context, gameID, clueID, playerID uuid.UUID, amount int) (*models.Wager, error) {
	f.amounts[wagerKey{gameID, clueID, playerID}] = amount
	return &models.Wager{ID: uuid.New(), GameID: gameID, ClueID: clueID, PlayerID: playerID, Amount: amount}, nil
}

func (f *fakeWagers) GetActiveWager(_ context.Context, gameID, clueID, playerID uuid.UUID) (*models.Wager, error) {
	amount, ok := f.amounts[wagerKey{gameID, clueID, playerID}]
	if !ok {
		return nil, wager.ErrWagerNotFound
	}
	return &models.Wager{GameID: gameID, ClueID: clueID, PlayerID: playerID, Amount: amount}, nil
}

func (f *fakeWagers) DeleteByClue(_ context.Context, clueID uuid.UUID) error {
	for k := range f.amounts {
		if k.clueID == clueID {
			delete(f.amounts, k)
		}
	}
	return nil
}

type fakeAnswers struct {
	created []answer.CreateAnswerRequest
}

func (f *fakeAnswers) CreateAnswer(_ context.Context, req answer.CreateAnswerRequest) (*models.Answer, error) {
	f.created = append(f.created, req)
	return &models.Answer{ID: uuid.New(), GameID: req.GameID, ClueID: req.ClueID, PlayerID: req.PlayerID}, nil
}

type fakeChannel struct {
	events []string
}

func (f *fakeChannel) PublishUnlock(_ uuid.UUID) error {
	f.events = append(f.events, "unlock")
	return nil
}

func (f *fakeChannel) PublishLock() error {
	f.events = append(f.events, "lock")
	return nil
}

func (f *fakeChannel) last() string {
	if len(f.events) == 0 {
		return ""
	}
	return f.events[len(f.events)-1]
}

type fixture struct {
	app     *App
	games   *fakeGames
	clues   *fakeClues
	players *fakePlayers
	buzzes  *fakeBuzzes
	wagers  *fakeWagers
	answers *fakeAnswers
	channel *fakeChannel

	hostID   uuid.UUID
	gameID   uuid.UUID
	clueID   uuid.UUID
	playerID uuid.UUID
}

func newFixture(t *testing.T, playerCount int, dailyDouble bool) *fixture {
	t.Helper()

	f := &fixture{
		hostID:   uuid.New(),
		gameID:   uuid.New(),
		clueID:   uuid.New(),
		playerID: uuid.New(),
	}

	f.games = &fakeGames{games: map[uuid.UUID]*models.Game{
		f.gameID: {
			ID:            f.gameID,
			HostID:        f.hostID,
			Phase:         models.GamePhaseInProgress,
			Round:         models.RoundJeopardy,
			FocusedClueID: &f.clueID,
		},
	}}
	f.games.games[f.gameID].FocusedPlayerID = &f.playerID

	f.clues = &fakeClues{clues: map[uuid.UUID]*models.Clue{
		f.clueID: {
			ID:            f.clueID,
			GameID:        f.gameID,
			Round:         models.RoundJeopardy,
			Value:         400,
			State:         models.ClueStateRevealed,
			IsDailyDouble: dailyDouble,
		},
	}}

	f.players = &fakePlayers{scores: map[uuid.UUID]int{}, count: playerCount}
	f.buzzes = &fakeBuzzes{byClue: map[uuid.UUID]int{f.clueID: 2}}
	f.wagers = &fakeWagers{amounts: map[wagerKey]int{}}
	f.answers = &fakeAnswers{}
	f.channel = &fakeChannel{}

	f.app = NewApp(f.games, f.clues, f.players, f.buzzes, f.wagers, f.answers,
		func(uuid.UUID) Broadcaster { return f.channel })
	return f
}

func TestMarkCorrect(t *testing.T) {
	f := newFixture(t, 3, false)
	ctx := context.Background()

	if err := f.app.MarkCorrect(ctx, f.hostID, f.gameID, f.clueID, f.playerID, "What is Go?", 400); err != nil {
		t.Fatalf("MarkCorrect: %v", err)
	}

	if got := f.players.scores[f.playerID]; got != 400 {
		t.Errorf("score = %d, want 400", got)
	}
	if got := f.clues.clues[f.clueID].State; got != models.ClueStateCompleted {
		t.Errorf("clue state = %s, want completed", got)
	}
	if f.buzzes.byClue[f.clueID] != 0 {
		t.Error("buzz queue not cleared")
	}
	g := f.games.games[f.gameID]
	if g.FocusedClueID != nil || g.FocusedPlayerID != nil {
		t.Error("focus not cleared")
	}
	if !g.IsBuzzerLocked {
		t.Error("buzzer not locked in store")
	}
	if f.channel.last() != "lock" {
		t.Errorf("last broadcast = %q, want lock", f.channel.last())
	}
	if g.CurrentPlayerID == nil || *g.CurrentPlayerID != f.playerID {
		t.Error("current player not set to responder")
	}
	if len(f.answers.created) != 1 || !f.answers.created[0].IsCorrect {
		t.Fatalf("answers recorded = %+v", f.answers.created)
	}
}

func TestMarkCorrectNotHost(t *testing.T) {
	f := newFixture(t, 3, false)

	err := f.app.MarkCorrect(context.Background(), uuid.New(), f.gameID, f.clueID, f.playerID, "x", 400)
	if !errors.Is(err, ErrNotHost) {
		t.Fatalf("err = %v, want ErrNotHost", err)
	}
	if len(f.answers.created) != 0 {
		t.Error("answer recorded despite host check failure")
	}
	if f.players.scores[f.playerID] != 0 {
		t.Error("score mutated despite host check failure")
	}
}

func TestMarkWrongReopensWindow(t *testing.T) {
	f := newFixture(t, 3, false)
	ctx := context.Background()

	if err := f.app.MarkWrong(ctx, f.hostID, f.gameID, f.clueID, f.playerID, "wrong", 400); err != nil {
		t.Fatalf("MarkWrong: %v", err)
	}

	if got := f.players.scores[f.playerID]; got != -400 {
		t.Errorf("score = %d, want -400", got)
	}
	lockedOut := f.clues.clues[f.clueID].LockedOutPlayerIDs
	if len(lockedOut) != 1 || lockedOut[0] != f.playerID {
		t.Errorf("lockout list = %v", lockedOut)
	}
	if f.buzzes.byClue[f.clueID] != 0 {
		t.Error("buzz queue not cleared")
	}
	g := f.games.games[f.gameID]
	if g.FocusedClueID == nil || *g.FocusedClueID != f.clueID {
		t.Error("clue focus dropped; should stay focused for re-buzz")
	}
	if g.FocusedPlayerID != nil {
		t.Error("focused player not cleared")
	}
	if g.IsBuzzerLocked {
		t.Error("buzzer should be unlocked for remaining players")
	}
	if f.channel.last() != "unlock" {
		t.Errorf("last broadcast = %q, want unlock", f.channel.last())
	}
	if got := f.clues.clues[f.clueID].State; got != models.ClueStateRevealed {
		t.Errorf("clue state = %s, want revealed", got)
	}
}

func TestMarkWrongLockoutExhaustion(t *testing.T) {
	f := newFixture(t, 2, false)
	ctx := context.Background()
	other := uuid.New()

	if err := f.app.MarkWrong(ctx, f.hostID, f.gameID, f.clueID, f.playerID, "wrong", 400); err != nil {
		t.Fatalf("first MarkWrong: %v", err)
	}
	if got := f.clues.clues[f.clueID].State; got != models.ClueStateRevealed {
		t.Fatalf("clue completed after first wrong answer with a player remaining")
	}

	if err := f.app.MarkWrong(ctx, f.hostID, f.gameID, f.clueID, other, "also wrong", 400); err != nil {
		t.Fatalf("second MarkWrong: %v", err)
	}

	if got := f.clues.clues[f.clueID].State; got != models.ClueStateCompleted {
		t.Errorf("clue state = %s, want completed after exhaustion", got)
	}
	g := f.games.games[f.gameID]
	if g.FocusedClueID != nil || g.FocusedPlayerID != nil {
		t.Error("focus not cleared on exhaustion")
	}
	if !g.IsBuzzerLocked {
		t.Error("buzzer not locked on exhaustion")
	}
	if f.channel.last() != "lock" {
		t.Errorf("last broadcast = %q, want lock", f.channel.last())
	}
	if g.CurrentPlayerID != nil {
		t.Error("current player changed by a wrong answer")
	}
}

func TestMarkWrongDailyDouble(t *testing.T) {
	f := newFixture(t, 3, true)
	ctx := context.Background()
	f.wagers.amounts[wagerKey{f.gameID, f.clueID, f.playerID}] = 1500

	if err := f.app.MarkWrong(ctx, f.hostID, f.gameID, f.clueID, f.playerID, "wrong", 400); err != nil {
		t.Fatalf("MarkWrong: %v", err)
	}

	if got := f.players.scores[f.playerID]; got != -1500 {
		t.Errorf("score = %d, want -1500 (wager, not board value)", got)
	}
	if got := f.clues.clues[f.clueID].State; got != models.ClueStateCompleted {
		t.Errorf("clue state = %s, want completed on single attempt", got)
	}
	if len(f.clues.clues[f.clueID].LockedOutPlayerIDs) != 0 {
		t.Error("daily double should not accumulate lockouts")
	}
	if len(f.wagers.amounts) != 0 {
		t.Error("wagers not cleared on completion")
	}
	if f.channel.last() != "lock" {
		t.Errorf("last broadcast = %q, want lock", f.channel.last())
	}
}

func TestMarkCorrectDailyDoubleScoresWager(t *testing.T) {
	f := newFixture(t, 3, true)
	f.wagers.amounts[wagerKey{f.gameID, f.clueID, f.playerID}] = 2000

	if err := f.app.MarkCorrect(context.Background(), f.hostID, f.gameID, f.clueID, f.playerID, "right", 400); err != nil {
		t.Fatalf("MarkCorrect: %v", err)
	}
	if got := f.players.scores[f.playerID]; got != 2000 {
		t.Errorf("score = %d, want 2000 (wager, not board value)", got)
	}
}

func TestEffectiveClueValue(t *testing.T) {
	f := newFixture(t, 3, true)
	ctx := context.Background()

	v, err := f.app.EffectiveClueValue(ctx, f.gameID, f.clueID, f.playerID)
	if err != nil {
		t.Fatalf("EffectiveClueValue: %v", err)
	}
	if v != 400 {
		t.Errorf("value without wager = %d, want 400", v)
	}

	if _, err := f.app.SetWager(ctx, f.hostID, f.gameID, f.clueID, f.playerID, 1200); err != nil {
		t.Fatalf("SetWager: %v", err)
	}
	v, err = f.app.EffectiveClueValue(ctx, f.gameID, f.clueID, f.playerID)
	if err != nil {
		t.Fatalf("EffectiveClueValue: %v", err)
	}
	if v != 1200 {
		t.Errorf("value with wager = %d, want 1200", v)
	}
}

func TestSetWagerRejectsNegative(t *testing.T) {
	f := newFixture(t, 3, true)
	if _, err := f.app.SetWager(context.Background(), f.hostID, f.gameID, f.clueID, f.playerID, -5); err == nil {
		t.Fatal("expected error for negative wager")
	}
}

func TestTransitionToNextRound(t *testing.T) {
	ctx := context.Background()

	t.Run("refuses with incomplete clues", func(t *testing.T) {
		f := newFixture(t, 3, false)
		f.clues.incomplete = 4
		if _, err := f.app.TransitionToNextRound(ctx, f.hostID, f.gameID, false); !errors.Is(err, ErrRoundIncomplete) {
			t.Fatalf("err = %v, want ErrRoundIncomplete", err)
		}
		if got := f.games.games[f.gameID].Round; got != models.RoundJeopardy {
			t.Errorf("round advanced to %s despite refusal", got)
		}
	})

	t.Run("force overrides incomplete clues", func(t *testing.T) {
		f := newFixture(t, 3, false)
		f.clues.incomplete = 4
		next, err := f.app.TransitionToNextRound(ctx, f.hostID, f.gameID, true)
		if err != nil {
			t.Fatalf("TransitionToNextRound: %v", err)
		}
		if next != models.RoundDouble {
			t.Errorf("next = %s, want double", next)
		}
		g := f.games.games[f.gameID]
		if g.FocusedClueID != nil || !g.IsBuzzerLocked {
			t.Error("transition must clear focus and lock the buzzer")
		}
		if f.channel.last() != "lock" {
			t.Errorf("last broadcast = %q, want lock", f.channel.last())
		}
	})

	t.Run("advances a clean round", func(t *testing.T) {
		f := newFixture(t, 3, false)
		f.clues.incomplete = 0
		next, err := f.app.TransitionToNextRound(ctx, f.hostID, f.gameID, false)
		if err != nil {
			t.Fatalf("TransitionToNextRound: %v", err)
		}
		if next != models.RoundDouble {
			t.Errorf("next = %s, want double", next)
		}
	})

	t.Run("final round is terminal", func(t *testing.T) {
		f := newFixture(t, 3, false)
		f.games.games[f.gameID].Round = models.RoundFinal
		if _, err := f.app.TransitionToNextRound(ctx, f.hostID, f.gameID, true); !errors.Is(err, ErrRoundTerminal) {
			t.Fatalf("err = %v, want ErrRoundTerminal", err)
		}
	})

	t.Run("not host", func(t *testing.T) {
		f := newFixture(t, 3, false)
		if _, err := f.app.TransitionToNextRound(ctx, uuid.New(), f.gameID, false); !errors.Is(err, ErrNotHost) {
			t.Fatalf("err = %v, want ErrNotHost", err)
		}
	})
}
