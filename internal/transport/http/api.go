package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/leaderboard"
)

// API exposes the moderator operations of the session registry over REST.
type API struct {
	registry *app.Registry
	boards   *app.LeaderboardService
	log      logrus.FieldLogger
}

func NewAPI(registry *app.Registry, boards *app.LeaderboardService, log logrus.FieldLogger) *API {
	return &API{registry: registry, boards: boards, log: log}
}

// Register mounts the API routes on router.
func (a *API) Register(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sessions", a.createSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{name}", a.removeSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{name}/activate", a.sessionAction(a.registry.Activate)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{name}/next", a.nextQuestion).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{name}/start", a.sessionAction(a.registry.StartQuestion)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{name}/stop", a.sessionAction(a.registry.Stop)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{name}/reset", a.sessionAction(a.registry.Reset)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{name}/reading-confirmation", a.sessionAction(a.registry.RequestReadingConfirmation)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{name}/deactivate", a.sessionAction(a.registry.Deactivate)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{name}/question-index", a.setQuestionIndex).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{name}/leaderboard", a.leaderboard).Methods(http.MethodGet)
}

type createSessionRequest struct {
	Name         string              `json:"name"`
	Questions    domain.QuestionList `json:"questionList"`
	MemberGroups []string            `json:"memberGroups"`
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "missing session name", http.StatusBadRequest)
		return
	}

	session, err := a.registry.AddSession(r.Context(), domain.NewQuizSession(req.Name, req.Questions, req.MemberGroups...))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) removeSession(w http.ResponseWriter, r *http.Request) {
	if err := a.registry.RemoveByName(r.Context(), mux.Vars(r)["name"]); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) sessionAction(op func(ctx context.Context, name string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context(), mux.Vars(r)["name"]); err != nil {
			a.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type indexResponse struct {
	QuestionIndex int `json:"questionIndex"`
}

func (a *API) nextQuestion(w http.ResponseWriter, r *http.Request) {
	next, err := a.registry.AdvanceQuestion(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, indexResponse{QuestionIndex: next})
}

func (a *API) setQuestionIndex(w http.ResponseWriter, r *http.Request) {
	var req indexResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.registry.SetQuestionIndex(r.Context(), mux.Vars(r)["name"], req.QuestionIndex); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	index := leaderboard.AllQuestions
	if raw := r.URL.Query().Get("questionIndex"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid questionIndex", http.StatusBadRequest)
			return
		}
		index = n
	}

	board, err := a.boards.Leaderboard(r.Context(), mux.Vars(r)["name"], index)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.WithError(err).Error("request failed")
	}
	http.Error(w, err.Error(), status)
}

// StatusFor maps the domain error kinds onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
