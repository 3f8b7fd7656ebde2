// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apperrors "git-metrics/internal/errors"
	"git-metrics/internal/metrics"
	"git-metrics/internal/model"
	"git-metrics/internal/syncer"
)

// RepositoryReader is the part of the store the adapter reads directly.
type RepositoryReader interface {
	GetRepository(ctx context.Context, id int64) (model.Repository, error)
	ListRepositories(ctx context.Context, activeOnly bool) ([]model.Repository, error)
}

// SyncService is the sync engine contract used by the adapter.
type SyncService interface {
	Register(ctx context.Context, p syncer.RegisterParams) (model.Repository, error)
	Sync(ctx context.Context, repoID int64, fullResync bool) error
	Cancel(repoID int64) bool
	Status(repoID int64) model.SyncStatus
	Deactivate(ctx context.Context, repoID int64) error
	Delete(ctx context.Context, repoID int64) error
}

// Handler is the container for API dependencies.
type Handler struct {
	repos   RepositoryReader
	syncer  SyncService
	metrics *metrics.Engine
	logger  *slog.Logger
}

type ctxKey struct{}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(repos RepositoryReader, sync SyncService, engine *metrics.Engine, logger *slog.Logger) http.Handler {
	h := &Handler{
		repos:   repos,
		syncer:  sync,
		metrics: engine,
		logger:  logger.With("component", "api"),
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Route("/repositories", func(r chi.Router) {
			r.Get("/", h.listRepositories)
			r.Post("/", h.registerRepository)
			r.Get("/{id}", h.getRepository)
			r.Delete("/{id}", h.removeRepository)
		})

		r.Post("/sync", h.startSync)
		r.Delete("/sync/{id}", h.cancelSync)
		r.Get("/sync/{id}/status", h.syncStatus)

		r.Route("/metrics", func(r chi.Router) {
			r.Get("/all/summary", h.allSummary)
			r.Get("/all/comparison", h.comparison)
			r.Get("/all/contributors", h.allContributors)
			r.Get("/all/churn", h.allChurn)
			r.Get("/contributor/{email}", h.contributor)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.requireSynced)
				r.Get("/summary", h.summary)
				r.Get("/churn", h.churn)
				r.Get("/velocity", h.velocity)
				r.Get("/bus-factor", h.busFactor)
				r.Get("/commit-patterns", h.commitPatterns)
				r.Get("/quality", h.quality)
				r.Get("/contributor-insights", h.contributorInsights)
				r.Get("/comprehensive", h.comprehensive)
				r.Get("/daily", h.daily)
				r.Get("/hotspots", h.hotspots)
			})
		})
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, apperrors.New(apperrors.KindInvalidInput, "api", fmt.Sprintf("invalid repository id %q", raw))
	}
	return id, nil
}

// queryInt reads a non-negative integer query parameter, falling back to def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperrors.New(apperrors.KindInvalidInput, "api", fmt.Sprintf("invalid '%s' parameter %q", name, raw))
	}
	return v, nil
}

// requireSynced resolves {id} and rejects repositories that never completed a sync.
func (h *Handler) requireSynced(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		repo, err := h.repos.GetRepository(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !repo.Synced() {
			respondWithError(w, http.StatusConflict, "NOT_SYNCED",
				fmt.Sprintf("Repository %d has not completed a sync yet", id))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, repo)))
	})
}

func repoFrom(r *http.Request) model.Repository {
	repo, _ := r.Context().Value(ctxKey{}).(model.Repository)
	return repo
}

// RepositoryView is a repository with its current sync status.
type RepositoryView struct {
	model.Repository
	SyncStatus model.SyncStatus `json:"sync_status"`
}

// GET /v1/repositories?active=true
func (h *Handler) listRepositories(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	repos, err := h.repos.ListRepositories(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]RepositoryView, 0, len(repos))
	for _, repo := range repos {
		out = append(out, RepositoryView{Repository: repo, SyncStatus: h.syncer.Status(repo.ID)})
	}
	respondWithJSON(w, http.StatusOK, out)
}

// RegisterRequest is the body of POST /v1/repositories.
type RegisterRequest struct {
	URL        string `json:"url"`
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	Credential string `json:"credential"`
}

// POST /v1/repositories
func (h *Handler) registerRepository(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body")
		return
	}
	if req.URL == "" {
		respondWithError(w, http.StatusBadRequest, "INVALID_INPUT", "url is required")
		return
	}
	repo, err := h.syncer.Register(r.Context(), syncer.RegisterParams{
		URL:        req.URL,
		Name:       req.Name,
		Provider:   model.ProviderKind(req.Provider),
		Credential: req.Credential,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, RepositoryView{Repository: repo, SyncStatus: h.syncer.Status(repo.ID)})
}

// GET /v1/repositories/{id}
func (h *Handler) getRepository(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	repo, err := h.repos.GetRepository(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, RepositoryView{Repository: repo, SyncStatus: h.syncer.Status(id)})
}

// DELETE /v1/repositories/{id}?purge=true
func (h *Handler) removeRepository(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if r.URL.Query().Get("purge") == "true" {
		err = h.syncer.Delete(r.Context(), id)
	} else {
		err = h.syncer.Deactivate(r.Context(), id)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncRequest is the body of POST /v1/sync.
type SyncRequest struct {
	RepositoryID int64 `json:"repository_id"`
	FullResync   bool  `json:"full_resync"`
}

// POST /v1/sync
func (h *Handler) startSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RepositoryID < 1 {
		respondWithError(w, http.StatusBadRequest, "INVALID_INPUT", "Body must carry a positive repository_id")
		return
	}
	if err := h.syncer.Sync(r.Context(), req.RepositoryID, req.FullResync); err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, h.syncer.Status(req.RepositoryID))
}

// DELETE /v1/sync/{id}
func (h *Handler) cancelSync(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.repos.GetRepository(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"canceled": h.syncer.Cancel(id)})
}

// GET /v1/sync/{id}/status
func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.repos.GetRepository(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, h.syncer.Status(id))
}

// reply writes v, or the error when err is set.
func (h *Handler) reply(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, v)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	v, err := h.metrics.Summary(r.Context(), repoFrom(r).ID)
	h.reply(w, r, v, err)
}

// GET /v1/metrics/{id}/churn?days=30
func (h *Handler) churn(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 30)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.metrics.Churn(r.Context(), repoFrom(r).ID, days)
	h.reply(w, r, v, err)
}

// GET /v1/metrics/{id}/velocity?weeks=12
func (h *Handler) velocity(w http.ResponseWriter, r *http.Request) {
	weeks, err := queryInt(r, "weeks", 12)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.metrics.Velocity(r.Context(), repoFrom(r).ID, weeks)
	h.reply(w, r, v, err)
}

func (h *Handler) busFactor(w http.ResponseWriter, r *http.Request) {
	v, err := h.metrics.BusFactor(r.Context(), repoFrom(r).ID)
	h.reply(w, r, v, err)
}

// GET /v1/metrics/{id}/commit-patterns?days=0
func (h *Handler) commitPatterns(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.metrics.CommitPatterns(r.Context(), repoFrom(r).ID, days)
	h.reply(w, r, v, err)
}

func (h *Handler) quality(w http.ResponseWriter, r *http.Request) {
	v, err := h.metrics.Quality(r.Context(), repoFrom(r).ID)
	h.reply(w, r, v, err)
}

func (h *Handler) contributorInsights(w http.ResponseWriter, r *http.Request) {
	v, err := h.metrics.ContributorInsights(r.Context(), repoFrom(r).ID)
	h.reply(w, r, v, err)
}

func (h *Handler) comprehensive(w http.ResponseWriter, r *http.Request) {
	v, err := h.metrics.Comprehensive(r.Context(), repoFrom(r).ID)
	h.reply(w, r, v, err)
}

// GET /v1/metrics/{id}/daily?days=30
func (h *Handler) daily(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 30)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.metrics.DailyMetrics(r.Context(), repoFrom(r).ID, days)
	h.reply(w, r, v, err)
}

// GET /v1/metrics/{id}/hotspots?limit=N
func (h *Handler) hotspots(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.metrics.Hotspots(r.Context(), repoFrom(r).ID, limit)
	h.reply(w, r, v, err)
}

func (h *Handler) allSummary(w http.ResponseWriter, r *http.Request) {
	v, err := h.metrics.AllSummary(r.Context())
	h.reply(w, r, v, err)
}

// GET /v1/metrics/all/comparison?metric=commits
func (h *Handler) comparison(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = string(metrics.CompareCommits)
	}
	v, err := h.metrics.Comparison(r.Context(), metric)
	h.reply(w, r, v, err)
}

// GET /v1/metrics/all/contributors?limit=50
func (h *Handler) allContributors(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.metrics.AllContributors(r.Context(), limit)
	h.reply(w, r, v, err)
}

// GET /v1/metrics/all/churn?days=30
func (h *Handler) allChurn(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 30)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.metrics.AllChurn(r.Context(), days)
	h.reply(w, r, v, err)
}

// GET /v1/metrics/contributor/{email}
func (h *Handler) contributor(w http.ResponseWriter, r *http.Request) {
	v, err := h.metrics.Contributor(r.Context(), chi.URLParam(r, "email"))
	h.reply(w, r, v, err)
}
