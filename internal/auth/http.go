package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/tilemud/server/internal/persist"
	"github.com/tilemud/server/internal/world"
)

// PlayerPublic is the registration response body.
type PlayerPublic struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// HTTPHandler serves POST /auth/register and POST /auth/login next to the
// WebSocket endpoint.
type HTTPHandler struct {
	players *persist.PlayerRepo
	tokens  *Manager
	spawn   world.Position
	log     *zap.Logger
}

func NewHTTPHandler(players *persist.PlayerRepo, tokens *Manager, spawn world.Position, log *zap.Logger) *HTTPHandler {
	return &HTTPHandler{players: players, tokens: tokens, spawn: spawn, log: log.Named("auth")}
}

// Mount registers the auth routes on mux.
func (h *HTTPHandler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *HTTPHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	username, err := NormalizeUsername(req.Username)
	if err != nil {
		writeError(w, http.StatusBadRequest, "username must be 3-16 characters: letters, digits, underscore")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	if _, err := h.players.GetByUsername(r.Context(), username); err == nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	} else if !errors.Is(err, persist.ErrNotFound) {
		h.log.Error("register lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		h.log.Error("register hash failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	rec, err := h.players.Create(r.Context(), username, hash, h.spawn, world.HitpointsStartLevel)
	if err != nil {
		h.log.Error("register insert failed", zap.String("username", username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.log.Info("player registered", zap.Int64("id", rec.ID), zap.String("username", username))
	writeJSON(w, http.StatusCreated, PlayerPublic{ID: rec.ID, Username: rec.Username, Role: rec.Role})
}

func (h *HTTPHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form")
		return
	}
	username, err := NormalizeUsername(r.PostFormValue("username"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	password := r.PostFormValue("password")

	rec, err := h.players.GetByUsername(r.Context(), username)
	if errors.Is(err, persist.ErrNotFound) {
		// burn a comparison anyway so missing users cost the same as bad
		// passwords
		_ = CheckPassword("$2a$10$0000000000000000000000000000000000000000000000000000", password)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		h.log.Error("login lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if CheckPassword(rec.HashedPassword, password) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if rec.Banned {
		writeError(w, http.StatusForbidden, "account banned")
		return
	}

	token, err := h.tokens.Issue(rec.ID, rec.Username)
	if err != nil {
		h.log.Error("login token failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}
