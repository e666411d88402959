package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mbrandolini/cookalong/internal/config"
	"github.com/mbrandolini/cookalong/internal/observability"
	"github.com/mbrandolini/cookalong/internal/recipe"
	"github.com/mbrandolini/cookalong/internal/session"
)

// ControllerFactory builds the lifecycle controller for one cook session.
// The app layer decides which capability backs it (elevenlabs or mock).
type ControllerFactory func(rec recipe.Recipe) *session.Controller

type Server struct {
	cfg         config.Config
	sessions    *session.Manager
	recipes     recipe.Store
	controllers ControllerFactory
	provider    string
	storeMode   string
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
	static      http.Handler
}

func New(cfg config.Config, sessions *session.Manager, recipes recipe.Store, controllers ControllerFactory, provider, storeMode string, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		sessions:    sessions,
		recipes:     recipes,
		controllers: controllers,
		provider:    provider,
		storeMode:   storeMode,
		metrics:     metrics,
		static:      newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a mic session unless
				// explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/cook/session", s.handleCreateSession)
	r.Post("/v1/cook/session/{id}/connect", s.handleConnect)
	r.Post("/v1/cook/session/{id}/disconnect", s.handleDisconnect)
	r.Post("/v1/cook/session/{id}/end", s.handleEndSession)
	r.Get("/v1/cook/session/{id}", s.handleGetSession)
	r.Get("/v1/cook/session/ws", s.handleSessionWS)
	r.Get("/v1/cook/audio/unlock", s.handleUnlockTone)
	r.Get("/v1/cook/recipes", s.handleListRecipes)
	r.Get("/v1/cook/recipes/{id}", s.handleGetRecipe)
	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)
	r.Get("/v1/perf/connect", s.handlePerfConnect)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"agent_provider": s.provider,
		"recipe_store":   s.storeMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"agent_provider": s.provider,
		"recipe_store":   s.storeMode,
	})
}

type createSessionRequest struct {
	RecipeID string `json:"recipe_id"`
}

type createSessionResponse struct {
	SessionID       string `json:"session_id"`
	RecipeID        string `json:"recipe_id"`
	RecipeTitle     string `json:"recipe_title"`
	State           string `json:"state"`
	InactivityTTLMS int64  `json:"inactivity_ttl_ms"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.RecipeID) == "" {
		req.RecipeID = s.cfg.DefaultRecipeID
	}

	rec, err := s.recipes.Get(r.Context(), req.RecipeID)
	if err != nil {
		if errors.Is(err, recipe.ErrNotFound) {
			respondError(w, http.StatusNotFound, "recipe_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "recipe_store_error", err.Error())
		return
	}

	ctrl := s.controllers(rec)
	sess := s.sessions.Create(rec.ID, rec.Title, ctrl)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}

	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:       sess.ID,
		RecipeID:        sess.RecipeID,
		RecipeTitle:     sess.RecipeTitle,
		State:           string(ctrl.Snapshot().State),
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookupController(w, r)
	if !ok {
		return
	}
	_ = s.sessions.Touch(chi.URLParam(r, "id"))

	if err := ctrl.Connect(r.Context()); err != nil {
		snap := ctrl.Snapshot()
		status := http.StatusBadGateway
		if snap.ErrorCode == session.CodePermissionDenied {
			status = http.StatusForbidden
		}
		respondError(w, status, snap.ErrorCode, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookupController(w, r)
	if !ok {
		return
	}
	_ = s.sessions.Touch(chi.URLParam(r, "id"))

	if err := ctrl.Disconnect(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, "disconnect_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.End(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	respondJSON(w, http.StatusOK, sess)
}

type sessionView struct {
	*session.CookSession
	Snapshot session.Snapshot `json:"snapshot"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	view := sessionView{CookSession: sess}
	if ctrl, err := s.sessions.Controller(id); err == nil {
		view.Snapshot = ctrl.Snapshot()
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := s.recipes.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "recipe_store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"recipes": recipes})
}

func (s *Server) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	rec, err := s.recipes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, recipe.ErrNotFound) {
			respondError(w, http.StatusNotFound, "recipe_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "recipe_store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) lookupController(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return nil, false
	}
	ctrl, err := s.sessions.Controller(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return nil, false
	}
	return ctrl, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
