package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/trivialive/internal/adjudication"
	"github.com/trivialive/internal/buzz"
	"github.com/trivialive/internal/buzzer"
	"github.com/trivialive/internal/clue"
	"github.com/trivialive/internal/coordinator"
	"github.com/trivialive/internal/game"
	"github.com/trivialive/internal/models"
	"github.com/trivialive/internal/realtime"
	"github.com/trivialive/internal/stats"
)

// GameStore is what the gateway needs from the game repository.
type GameStore interface {
	CreateGame(ctx context.Context, hostID uuid.UUID) (*models.Game, error)
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	GetHostID(ctx context.Context, gameID uuid.UUID) (uuid.UUID, error)
	UpdateFocus(ctx context.Context, gameID uuid.UUID, clueID, playerID *uuid.UUID) error
	SetBuzzerLocked(ctx context.Context, gameID uuid.UUID, locked bool) error
}

// PlayerStore is what the gateway needs from the player repository.
type PlayerStore interface {
	CreatePlayer(ctx context.Context, gameID uuid.UUID, nickname string) (*models.Player, error)
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
	ListByGame(ctx context.Context, gameID uuid.UUID) ([]models.Player, error)
}

// ClueStore is what the gateway needs from the clue repository.
type ClueStore interface {
	CreateClue(ctx context.Context, req clue.CreateClueRequest) (*models.Clue, error)
	ListByGameAndRound(ctx context.Context, gameID uuid.UUID, round models.Round) ([]models.Clue, error)
	IsPlayerLockedOut(ctx context.Context, clueID, playerID uuid.UUID) (bool, error)
	AppendLockedOutPlayer(ctx context.Context, clueID, playerID uuid.UUID) ([]uuid.UUID, error)
}

// BuzzStore is what the gateway needs from the buzz repository.
type BuzzStore interface {
	CreateBuzz(ctx context.Context, gameID, clueID, playerID uuid.UUID, reactionTimeMs *int64) (*models.Buzz, error)
	FirstByClue(ctx context.Context, clueID uuid.UUID) (*models.Buzz, error)
}

// Service is the HTTP + WebSocket surface: board/content CRUD, host
// adjudication operations, and per-participant buzzer sessions.
type Service struct {
	games   GameStore
	players PlayerStore
	clues   ClueStore
	buzzes  BuzzStore
	app     *adjudication.App

	bus     realtime.Bus
	clock   clockwork.Clock
	machine *buzzer.StateMachine
	watcher coordinator.GameWatcher
	stats   *stats.Service // nil when Redis is not configured

	cm *ConnectionManager
}

// NewService wires the gateway.
func NewService(
	games GameStore,
	players PlayerStore,
	clues ClueStore,
	buzzes BuzzStore,
	app *adjudication.App,
	bus realtime.Bus,
	clock clockwork.Clock,
	watcher coordinator.GameWatcher,
	statsSvc *stats.Service,
	cm *ConnectionManager,
) *Service {
	return &Service{
		games:   games,
		players: players,
		clues:   clues,
		buzzes:  buzzes,
		app:     app,
		bus:     bus,
		clock:   clock,
		machine: buzzer.NewStateMachine(),
		watcher: watcher,
		stats:   statsSvc,
		cm:      cm,
	}
}

// apiResponse is the standard JSON envelope.
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(apiResponse{Success: status < 400, Data: data}); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{Success: false, Error: msg})
}

// Router builds the chi router for the service.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws/games/{gameID}", s.handleWebSocket)

	r.Route("/api/v1/games", func(r chi.Router) {
		r.Post("/", s.handleCreateGame)
		r.Route("/{gameID}", func(r chi.Router) {
			r.Get("/", s.handleGetGame)
			r.Post("/players", s.handleCreatePlayer)
			r.Get("/players", s.handleListPlayers)
			r.Post("/clues", s.handleCreateClue)
			r.Get("/clues", s.handleListClues)
			r.Get("/clues/{clueID}/first-buzz", s.handleFirstBuzz)

			r.Post("/unlock", s.handleUnlock)
			r.Post("/lock", s.handleLock)
			r.Post("/focus", s.handleFocus)
			r.Post("/adjudicate/correct", s.handleMarkCorrect)
			r.Post("/adjudicate/wrong", s.handleMarkWrong)
			r.Post("/wager", s.handleSetWager)
			r.Delete("/wager/{clueID}", s.handleClearWager)
			r.Post("/round", s.handleRoundTransition)
			r.Get("/reactions", s.handleReactions)
		})
	})

	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": s.cm.ConnectionStats(),
	})
}

func urlUUID(r *http.Request, key string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, key))
}

// callerID identifies the requester. Authentication itself is an external
// concern; the gateway trusts the identity header and the adjudication app
// enforces the host check against the store.
func callerID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.Header.Get("X-Player-ID"))
}

func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	gameID, err := urlUUID(r, "gameID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	playerID, err := uuid.Parse(r.URL.Query().Get("player_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid player_id")
		return
	}

	role := coordinator.RolePlayer
	nickname := r.URL.Query().Get("nickname")
	if r.URL.Query().Get("role") == string(coordinator.RoleHost) {
		hostID, err := s.games.GetHostID(r.Context(), gameID)
		if err != nil || hostID != playerID {
			respondError(w, http.StatusForbidden, "not the game host")
			return
		}
		role = coordinator.RoleHost
	} else if nickname == "" {
		if p, err := s.players.GetPlayer(r.Context(), playerID); err == nil {
			nickname = p.Nickname
		}
	}

	session := coordinator.New(coordinator.Config{
		GameID:   gameID,
		PlayerID: playerID,
		Nickname: nickname,
		Role:     role,
		Channel:  realtime.NewChannel(s.bus, gameID, s.clock),
		Machine:  s.machine,
		Clock:    s.clock,
		Lockouts: s.clues,
		Host:     hostStore{games: s.games, clues: s.clues, buzzes: s.buzzes},
		Watcher:  s.watcher,
		Stats:    statsOrNil(s.stats),
		OnStateChange: func(state buzzer.State) {
			s.cm.SendToPlayer(gameID, playerID, NewStateMessage(state))
		},
		OnFocusChange: func(p realtime.FocusPlayerPayload) {
			s.cm.BroadcastToGame(gameID, NewFocusMessage(p))
		},
	})

	// net/http cancels r.Context() the moment this handler returns, which is
	// right after the upgrade; the session's store calls must stay alive until
	// the connection closes the session.
	if err := session.Start(context.Background()); err != nil {
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to start session")
		respondError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	if _, err := s.cm.UpgradeConnection(w, r, playerID, gameID, session); err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		session.Close()
	}
}

// hostStore bridges the game, clue, and buzz stores into the coordinator's
// host-side store slice.
type hostStore struct {
	games  GameStore
	clues  ClueStore
	buzzes BuzzStore
}

func (h hostStore) CreateBuzz(ctx context.Context, gameID, clueID, playerID uuid.UUID, reactionTimeMs *int64) (*models.Buzz, error) {
	return h.buzzes.CreateBuzz(ctx, gameID, clueID, playerID, reactionTimeMs)
}

func (h hostStore) AppendLockedOutPlayer(ctx context.Context, clueID, playerID uuid.UUID) ([]uuid.UUID, error) {
	return h.clues.AppendLockedOutPlayer(ctx, clueID, playerID)
}

func (h hostStore) UpdateFocus(ctx context.Context, gameID uuid.UUID, clueID, playerID *uuid.UUID) error {
	return h.games.UpdateFocus(ctx, gameID, clueID, playerID)
}

func (h hostStore) SetBuzzerLocked(ctx context.Context, gameID uuid.UUID, locked bool) error {
	return h.games.SetBuzzerLocked(ctx, gameID, locked)
}

// statsOrNil avoids a typed-nil interface when Redis is not configured.
func statsOrNil(s *stats.Service) coordinator.ReactionRecorder {
	if s == nil {
		return nil
	}
	return s
}

func (s *Service) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HostID uuid.UUID `json:"host_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HostID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "host_id is required")
		return
	}
	g, err := s.games.CreateGame(r.Context(), req.HostID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create game")
		return
	}
	respondJSON(w, http.StatusCreated, g)
}

func (s *Service) handleGetGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := urlUUID(r, "gameID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	g, err := s.games.GetGame(r.Context(), gameID)
	if err != nil {
		if errors.Is(err, game.ErrGameNotFound) {
			respondError(w, http.StatusNotFound, "game not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load game")
		return
	}
	respondJSON(w, http.StatusOK, g)
}

func (s *Service) handleCreatePlayer(w http.ResponseWriter, r *http.Request) {
	gameID, err := urlUUID(r, "gameID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Nickname == "" {
		respondError(w, http.StatusBadRequest, "nickname is required")
		return
	}
	p, err := s.players.CreatePlayer(r.Context(), gameID, req.Nickname)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create player")
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Service) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	gameID, err := urlUUID(r, "gameID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	players, err := s.players.ListByGame(r.Context(), gameID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list players")
		return
	}
	respondJSON(w, http.StatusOK, players)
}

func (s *Service) handleCreateClue(w http.ResponseWriter, r *http.Request) {
	gameID, err := urlUUID(r, "gameID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	var req clue.CreateClueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed clue")
		return
	}
	req.GameID = gameID
	c, err := s.clues.CreateClue(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create clue")
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (s *Service) handleListClues(w http.ResponseWriter, r *http.Request) {
	gameID, err := urlUUID(r, "gameID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	round := models.Round(r.URL.Query().Get("round"))
	if round == "" {
		round = models.RoundJeopardy
	}
	clues, err := s.clues.ListByGameAndRound(r.Context(), gameID, round)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list clues")
		return
	}
	respondJSON(w, http.StatusOK, clues)
}

func (s *Service) handleFirstBuzz(w http.ResponseWriter, r *http.Request) {
	clueID, err := urlUUID(r, "clueID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid clue id")
		return
	}
	first, err := s.buzzes.FirstByClue(r.Context(), clueID)
	if err != nil {
		if errors.Is(err, buzz.ErrNoBuzzes) {
			respondError(w, http.StatusNotFound, "no buzzes for clue")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load first buzz")
		return
	}
	respondJSON(w, http.StatusOK, first)
}

// requireHostHTTP applies the host gate for gateway-level realtime controls.
func (s *Service) requireHostHTTP(w http.ResponseWriter, r *http.Request) (caller, gameID uuid.UUID, ok bool) {
	gameID, err := urlUUID(r, "gameID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid game id")
		return uuid.Nil, uuid.Nil, false
	}
	caller, err = callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "missing caller identity")
		return uuid.Nil, uuid.Nil, false
	}
	hostID, err := s.games.GetHostID(r.Context(), gameID)
	if err != nil {
		respondError(w, http.StatusNotFound, "game not found")
		return uuid.Nil, uuid.Nil, false
	}
	if hostID != caller {
		respondError(w, http.StatusForbidden, "not the game host")
		return uuid.Nil, uuid.Nil, false
	}
	return caller, gameID, true
}

func (s *Service) handleUnlock(w http.ResponseWriter, r *http.Request) {
	_, gameID, ok := s.requireHostHTTP(w, r)
	if !ok {
		return
	}
	var req struct {
		ClueID uuid.UUID `json:"clue_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClueID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "clue_id is required")
		return
	}

	if err := s.games.UpdateFocus(r.Context(), gameID, &req.ClueID, nil); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to focus clue")
		return
	}
	if err := s.games.SetBuzzerLocked(r.Context(), gameID, false); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to unlock buzzer")
		return
	}
	if err := realtime.NewChannel(s.bus, gameID, s.clock).PublishUnlock(req.ClueID); err != nil {
		log.Warn().Err(err).Msg("failed to broadcast unlock")
	}
	respondJSON(w, http.StatusOK, nil)
}

func (s *Service) handleLock(w http.ResponseWriter, r *http.Request) {
	_, gameID, ok := s.requireHostHTTP(w, r)
	if !ok {
		return
	}
	if err := s.games.SetBuzzerLocked(r.Context(), gameID, true); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to lock buzzer")
		return
	}
	if err := realtime.NewChannel(s.bus, gameID, s.clock).PublishLock(); err != nil {
		log.Warn().Err(err).Msg("failed to broadcast lock")
	}
	respondJSON(w, http.StatusOK, nil)
}

func (s *Service) handleFocus(w http.ResponseWriter, r *http.Request) {
	_, gameID, ok := s.requireHostHTTP(w, r)
	if !ok {
		return
	}
	var req struct {
		PlayerID uuid.UUID `json:"player_id"`
		Nickname string    `json:"nickname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "player_id is required")
		return
	}

	g, err := s.games.GetGame(r.Context(), gameID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load game")
		return
	}
	if err := s.games.UpdateFocus(r.Context(), gameID, g.FocusedClueID, &req.PlayerID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to persist focus")
		return
	}
	if err := realtime.NewChannel(s.bus, gameID, s.clock).PublishFocus(req.PlayerID, req.Nickname, realtime.FocusSourceManual); err != nil {
		log.Warn().Err(err).Msg("failed to broadcast focus")
	}
	respondJSON(w, http.StatusOK, nil)
}

type adjudicateRequest struct {
	ClueID   uuid.UUID `json:"clue_id"`
	PlayerID uuid.UUID `json:"player_id"`
	Response string    `json:"response"`
	Value    int       `json:"value"`
}

func (s *Service) handleMarkCorrect(w http.ResponseWriter, r *http.Request) {
	s.handleAdjudicate(w, r, s.app.MarkCorrect)
}

func (s *Service) handleMarkWrong(w http.ResponseWriter, r *http.Request) {
	s.handleAdjudicate(w, r, s.app.MarkWrong)
}

func (s *Service) handleAdjudicate(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, hostID, gameID, clueID, playerID uuid.UUID, response string, value int) error) {
	gameID, err := urlUUID(r, "gameID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req adjudicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClueID == uuid.Nil || req.PlayerID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "clue_id and player_id are required")
		return
	}

	if err := op(r.Context(), caller, gameID, req.ClueID, req.PlayerID, req.Response, req.Value); err != nil {
		if errors.Is(err, adjudication.ErrNotHost) {
			respondError(w, http.StatusForbidden, "not the game host")
			return
		}
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("adjudication failed")
		respondError(w, http.StatusInternalServerError, "adjudication failed")
		return
	}
	respondJSON(w, http.StatusOK, nil)
}

func (s *Service) handleSetWager(w http.ResponseWriter, r *http.Request) {
	gameID, err := urlUUID(r, "gameID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req struct {
		ClueID   uuid.UUID `json:"clue_id"`
		PlayerID uuid.UUID `json:"player_id"`
		Amount   int       `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClueID == uuid.Nil || req.PlayerID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "clue_id and player_id are required")
		return
	}

	wg, err := s.app.SetWager(r.Context(), caller, gameID, req.ClueID, req.PlayerID, req.Amount)
	if err != nil {
		if errors.Is(err, adjudication.ErrNotHost) {
			respondError(w, http.StatusForbidden, "not the game host")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, wg)
}

func (s *Service) handleClearWager(w http.ResponseWriter, r *http.Request) {
	gameID, err := urlUUID(r, "gameID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	clueID, err := urlUUID(r, "clueID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid clue id")
		return
	}
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	if err := s.app.ClearWager(r.Context(), caller, gameID, clueID); err != nil {
		if errors.Is(err, adjudication.ErrNotHost) {
			respondError(w, http.StatusForbidden, "not the game host")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to clear wager")
		return
	}
	respondJSON(w, http.StatusOK, nil)
}

func (s *Service) handleRoundTransition(w http.ResponseWriter, r *http.Request) {
	gameID, err := urlUUID(r, "gameID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req struct {
		Force bool `json:"force"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	next, err := s.app.TransitionToNextRound(r.Context(), caller, gameID, req.Force)
	if err != nil {
		switch {
		case errors.Is(err, adjudication.ErrNotHost):
			respondError(w, http.StatusForbidden, "not the game host")
		case errors.Is(err, adjudication.ErrRoundIncomplete), errors.Is(err, adjudication.ErrRoundTerminal):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "round transition failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"round": string(next)})
}

func (s *Service) handleReactions(w http.ResponseWriter, r *http.Request) {
	gameID, err := urlUUID(r, "gameID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	if s.stats == nil {
		respondJSON(w, http.StatusOK, []stats.Reaction{})
		return
	}

	limit := int64(10)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	reactions, err := s.stats.FastestReactions(r.Context(), gameID, limit)
	if err != nil {
		// Cosmetic path: log and fall back to an empty board.
		log.Warn().Err(err).Str("game_id", gameID.String()).Msg("failed to load reactions")
		respondJSON(w, http.StatusOK, []stats.Reaction{})
		return
	}
	respondJSON(w, http.StatusOK, reactions)
}
