package adjudication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/trivialive/internal/answer"
	"github.com/trivialive/internal/models"
	"github.com/trivialive/internal/realtime"
	"github.com/trivialive/internal/wager"
)

// ErrNotHost is returned when a mutating operation is attempted by anyone
// but the game's host. The check runs before any write.
var ErrNotHost = errors.New("caller is not the game host")

// GameRepository defines what the adjudication app needs from the game repo.
type GameRepository interface {
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	UpdateFocus(ctx context.Context, gameID uuid.UUID, clueID, playerID *uuid.UUID) error
	SetBuzzerLocked(ctx context.Context, gameID uuid.UUID, locked bool) error
	SetCurrentPlayer(ctx context.Context, gameID, playerID uuid.UUID) error
	UpdateRound(ctx context.Context, gameID uuid.UUID, round models.Round) error
}

// ClueRepository defines what the adjudication app needs from the clue repo.
type ClueRepository interface {
	GetClue(ctx context.Context, id uuid.UUID) (*models.Clue, error)
	SetState(ctx context.Context, clueID uuid.UUID, state models.ClueState) error
	AppendLockedOutPlayer(ctx context.Context, clueID, playerID uuid.UUID) ([]uuid.UUID, error)
	CountIncompleteByRound(ctx context.Context, gameID uuid.UUID, round models.Round) (int, error)
}

// PlayerRepository defines what the adjudication app needs from the player repo.
type PlayerRepository interface {
	AddToScore(ctx context.Context, playerID uuid.UUID, delta int) (int, error)
	CountByGame(ctx context.Context, gameID uuid.UUID) (int, error)
}

// BuzzRepository defines what the adjudication app needs from the buzz repo.
type BuzzRepository interface {
	DeleteByClue(ctx context.Context, clueID uuid.UUID) (int, error)
}

// WagerRepository defines what the adjudication app needs from the wager repo.
type WagerRepository interface {
	UpsertWager(ctx context.Context, gameID, clueID, playerID uuid.UUID, amount int) (*models.Wager, error)
	GetActiveWager(ctx context.Context, gameID, clueID, playerID uuid.UUID) (*models.Wager, error)
	DeleteByClue(ctx context.Context, clueID uuid.UUID) error
}

// AnswerRepository defines what the adjudication app needs from the answer repo.
type AnswerRepository interface {
	CreateAnswer(ctx context.Context, req answer.CreateAnswerRequest) (*models.Answer, error)
}

// Broadcaster is the slice of a game channel the adjudication path publishes
// through. Broadcast failures never fail an adjudication: the store is
// authoritative and clients recover from it.
type Broadcaster interface {
	PublishUnlock(clueID uuid.UUID) error
	PublishLock() error
}

// ChannelProvider yields the broadcaster for one game.
type ChannelProvider func(gameID uuid.UUID) Broadcaster

// App is the only component permitted to mutate persisted scoring and
// lockout state. Every mutating operation passes the requireHost gate first.
type App struct {
	games    GameRepository
	clues    ClueRepository
	players  PlayerRepository
	buzzes   BuzzRepository
	wagers   WagerRepository
	answers  AnswerRepository
	channels ChannelProvider
}

// NewApp creates an adjudication app.
func NewApp(games GameRepository, clues ClueRepository, players PlayerRepository, buzzes BuzzRepository, wagers WagerRepository, answers AnswerRepository, channels ChannelProvider) *App {
	return &App{
		games:    games,
		clues:    clues,
		players:  players,
		buzzes:   buzzes,
		wagers:   wagers,
		answers:  answers,
		channels: channels,
	}
}

// requireHost re-fetches the game row and compares host identity. This is
// the single authorization gate reused by every mutating operation.
func (a *App) requireHost(ctx context.Context, callerID, gameID uuid.UUID) (*models.Game, error) {
	g, err := a.games.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load game for host check: %w", err)
	}
	if g.HostID != callerID {
		return nil, ErrNotHost
	}
	return g, nil
}

func (a *App) broadcastLock(gameID uuid.UUID) {
	if err := a.channels(gameID).PublishLock(); err != nil {
		log.Warn().Err(err).Str("game_id", gameID.String()).Msg("failed to broadcast buzzer lock")
	}
}

func (a *App) broadcastUnlock(gameID, clueID uuid.UUID) {
	if err := a.channels(gameID).PublishUnlock(clueID); err != nil {
		log.Warn().Err(err).Str("game_id", gameID.String()).Msg("failed to broadcast buzzer unlock")
	}
}

// EffectiveClueValue returns the value a clue scores for a player: the
// active wager if one exists for the (game, clue, player) triple, otherwise
// the clue's printed value. Both the scoring path and value display use this.
func (a *App) EffectiveClueValue(ctx context.Context, gameID, clueID, playerID uuid.UUID) (int, error) {
	c, err := a.clues.GetClue(ctx, clueID)
	if err != nil {
		return 0, fmt.Errorf("failed to load clue: %w", err)
	}
	w, err := a.wagers.GetActiveWager(ctx, gameID, clueID, playerID)
	if err != nil {
		if errors.Is(err, wager.ErrWagerNotFound) {
			return c.Value, nil
		}
		return 0, fmt.Errorf("failed to look up wager: %w", err)
	}
	return w.Amount, nil
}

// MarkCorrect adjudicates a correct response: records the answer, credits the
// score, clears the clue's buzz queue, completes the clue, clears focus,
// locks the buzzer, and grants the responder Daily Double selection rights.
// The answer record is written first so a retried call is safe.
func (a *App) MarkCorrect(ctx context.Context, hostID, gameID, clueID, playerID uuid.UUID, response string, value int) error {
	g, err := a.requireHost(ctx, hostID, gameID)
	if err != nil {
		return err
	}

	c, err := a.clues.GetClue(ctx, clueID)
	if err != nil {
		return fmt.Errorf("failed to load clue: %w", err)
	}

	scoredValue := value
	if c.IsDailyDouble {
		if w, werr := a.wagers.GetActiveWager(ctx, gameID, clueID, playerID); werr == nil && w != nil {
			scoredValue = w.Amount
		}
	}

	if _, err := a.answers.CreateAnswer(ctx, answer.CreateAnswerRequest{
		GameID:    gameID,
		ClueID:    clueID,
		PlayerID:  playerID,
		Response:  response,
		IsCorrect: true,
		Value:     scoredValue,
		Metadata:  answerMetadata(c, scoredValue),
	}); err != nil {
		return fmt.Errorf("failed to record answer: %w", err)
	}

	newScore, err := a.players.AddToScore(ctx, playerID, scoredValue)
	if err != nil {
		return fmt.Errorf("failed to credit score: %w", err)
	}

	if err := a.completeClue(ctx, g.ID, clueID); err != nil {
		return err
	}

	if err := a.games.SetCurrentPlayer(ctx, gameID, playerID); err != nil {
		return fmt.Errorf("failed to set current player: %w", err)
	}

	log.Info().
		Str("game_id", gameID.String()).
		Str("clue_id", clueID.String()).
		Str("player_id", playerID.String()).
		Int("value", scoredValue).
		Int("new_score", newScore).
		Msg("marked correct")
	return nil
}

// MarkWrong adjudicates an incorrect response. Daily Doubles are single
// attempt: the clue completes immediately. Regular clues lock the player out
// and reopen the buzz window for remaining eligible players; if the lockout
// list now covers every player the clue force-completes with no
// current-player change.
func (a *App) MarkWrong(ctx context.Context, hostID, gameID, clueID, playerID uuid.UUID, response string, value int) error {
	g, err := a.requireHost(ctx, hostID, gameID)
	if err != nil {
		return err
	}

	c, err := a.clues.GetClue(ctx, clueID)
	if err != nil {
		return fmt.Errorf("failed to load clue: %w", err)
	}

	scoredValue := value
	if c.IsDailyDouble {
		if w, werr := a.wagers.GetActiveWager(ctx, gameID, clueID, playerID); werr == nil && w != nil {
			scoredValue = w.Amount
		}
	}

	if _, err := a.answers.CreateAnswer(ctx, answer.CreateAnswerRequest{
		GameID:    gameID,
		ClueID:    clueID,
		PlayerID:  playerID,
		Response:  response,
		IsCorrect: false,
		Value:     scoredValue,
		Metadata:  answerMetadata(c, scoredValue),
	}); err != nil {
		return fmt.Errorf("failed to record answer: %w", err)
	}

	newScore, err := a.players.AddToScore(ctx, playerID, -scoredValue)
	if err != nil {
		return fmt.Errorf("failed to debit score: %w", err)
	}

	log.Info().
		Str("game_id", gameID.String()).
		Str("clue_id", clueID.String()).
		Str("player_id", playerID.String()).
		Int("value", scoredValue).
		Int("new_score", newScore).
		Bool("daily_double", c.IsDailyDouble).
		Msg("marked wrong")

	if c.IsDailyDouble {
		// Single attempt: no re-buzzing, no lockout accumulation.
		return a.completeClue(ctx, g.ID, clueID)
	}

	lockedOut, err := a.clues.AppendLockedOutPlayer(ctx, clueID, playerID)
	if err != nil {
		return fmt.Errorf("failed to lock out player: %w", err)
	}

	if _, err := a.buzzes.DeleteByClue(ctx, clueID); err != nil {
		return fmt.Errorf("failed to clear buzz queue: %w", err)
	}

	playerCount, err := a.players.CountByGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("failed to count players: %w", err)
	}
	if len(lockedOut) >= playerCount {
		// No one left to try; complete exactly as the correct path does,
		// except current player is unchanged.
		return a.completeClue(ctx, g.ID, clueID)
	}

	// Keep the clue focused, drop the focused player, reopen the window.
	if err := a.games.UpdateFocus(ctx, gameID, &clueID, nil); err != nil {
		return fmt.Errorf("failed to clear focused player: %w", err)
	}
	if err := a.games.SetBuzzerLocked(ctx, gameID, false); err != nil {
		return fmt.Errorf("failed to unlock buzzer: %w", err)
	}
	a.broadcastUnlock(gameID, clueID)
	return nil
}

// completeClue performs the shared clue-completion sequence: completed state,
// wagers and buzzes cleared, focus cleared, buzzer locked.
func (a *App) completeClue(ctx context.Context, gameID, clueID uuid.UUID) error {
	if err := a.clues.SetState(ctx, clueID, models.ClueStateCompleted); err != nil {
		return fmt.Errorf("failed to complete clue: %w", err)
	}
	if err := a.wagers.DeleteByClue(ctx, clueID); err != nil {
		return fmt.Errorf("failed to clear wagers: %w", err)
	}
	if _, err := a.buzzes.DeleteByClue(ctx, clueID); err != nil {
		return fmt.Errorf("failed to clear buzzes: %w", err)
	}
	if err := a.games.UpdateFocus(ctx, gameID, nil, nil); err != nil {
		return fmt.Errorf("failed to clear focus: %w", err)
	}
	if err := a.games.SetBuzzerLocked(ctx, gameID, true); err != nil {
		return fmt.Errorf("failed to lock buzzer: %w", err)
	}
	a.broadcastLock(gameID)
	return nil
}

// SetWager records a Daily Double stake for the focused player.
func (a *App) SetWager(ctx context.Context, hostID, gameID, clueID, playerID uuid.UUID, amount int) (*models.Wager, error) {
	if _, err := a.requireHost(ctx, hostID, gameID); err != nil {
		return nil, err
	}
	if amount < 0 {
		return nil, fmt.Errorf("wager amount must not be negative")
	}
	w, err := a.wagers.UpsertWager(ctx, gameID, clueID, playerID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to set wager: %w", err)
	}
	log.Info().
		Str("game_id", gameID.String()).
		Str("clue_id", clueID.String()).
		Str("player_id", playerID.String()).
		Int("amount", amount).
		Msg("wager set")
	return w, nil
}

// ClearWager removes all wagers for a clue.
func (a *App) ClearWager(ctx context.Context, hostID, gameID, clueID uuid.UUID) error {
	if _, err := a.requireHost(ctx, hostID, gameID); err != nil {
		return err
	}
	if err := a.wagers.DeleteByClue(ctx, clueID); err != nil {
		return fmt.Errorf("failed to clear wager: %w", err)
	}
	return nil
}

// nextRound is the fixed three-round progression; final is terminal.
var nextRound = map[models.Round]models.Round{
	models.RoundJeopardy: models.RoundDouble,
	models.RoundDouble:   models.RoundFinal,
}

// TransitionToNextRound advances the game's round. It refuses to advance
// while the current round has incomplete clues unless force is set, and
// always refuses from the final round. Focus is cleared and the buzzer
// locked as part of the transition: a board never advances mid-clue.
func (a *App) TransitionToNextRound(ctx context.Context, hostID, gameID uuid.UUID, force bool) (models.Round, error) {
	g, err := a.requireHost(ctx, hostID, gameID)
	if err != nil {
		return "", err
	}

	next, ok := nextRound[g.Round]
	if !ok {
		return "", ErrRoundTerminal
	}

	if !force {
		incomplete, err := a.clues.CountIncompleteByRound(ctx, gameID, g.Round)
		if err != nil {
			return "", fmt.Errorf("failed to count incomplete clues: %w", err)
		}
		if incomplete > 0 {
			return "", fmt.Errorf("%w: %d remaining", ErrRoundIncomplete, incomplete)
		}
	}

	if err := a.games.UpdateRound(ctx, gameID, next); err != nil {
		return "", fmt.Errorf("failed to advance round: %w", err)
	}
	if err := a.games.UpdateFocus(ctx, gameID, nil, nil); err != nil {
		return "", fmt.Errorf("failed to clear focus: %w", err)
	}
	if err := a.games.SetBuzzerLocked(ctx, gameID, true); err != nil {
		return "", fmt.Errorf("failed to lock buzzer: %w", err)
	}
	a.broadcastLock(gameID)

	log.Info().
		Str("game_id", gameID.String()).
		Str("from", string(g.Round)).
		Str("to", string(next)).
		Bool("force", force).
		Msg("round transition")
	return next, nil
}

var (
	// ErrRoundTerminal is returned when advancing from the final round.
	ErrRoundTerminal = errors.New("no round after final")
	// ErrRoundIncomplete is returned when the current round still has
	// unfinished clues and force was not set.
	ErrRoundIncomplete = errors.New("current round has incomplete clues")
)

// answerMetadata captures wager/daily-double context alongside the answer.
func answerMetadata(c *models.Clue, scoredValue int) []byte {
	if !c.IsDailyDouble {
		return nil
	}
	meta, err := json.Marshal(map[string]interface{}{
		"daily_double": true,
		"scored_value": scoredValue,
		"board_value":  c.Value,
	})
	if err != nil {
		return nil
	}
	return meta
}

var _ Broadcaster = (*realtime.Channel)(nil)
