package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	appanalysis "github.com/movesec/moveaudit/internal/application/analysis"
	appgithub "github.com/movesec/moveaudit/internal/application/github"
	domain "github.com/movesec/moveaudit/internal/domain/analysis"
	"github.com/movesec/moveaudit/internal/middleware"
)

type Router struct {
	analysisSvc *appanalysis.Service
	githubSvc   *appgithub.Service
}

// Options carries the cross-cutting knobs the router wires up.
type Options struct {
	APIKeys        map[string]string // tenant -> key; empty disables auth
	RateCapacity   int
	RateRefillRate int
	Checkers       map[string]middleware.HealthChecker
}

func NewRouter(analysisSvc *appanalysis.Service, githubSvc *appgithub.Service, opts Options) http.Handler {
	r := &Router{analysisSvc: analysisSvc, githubSvc: githubSvc}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	if opts.RateCapacity > 0 {
		mux.Use(middleware.RateLimitMiddleware(opts.RateCapacity, opts.RateRefillRate))
	}

	mux.Get("/health", middleware.HealthHandler(opts.Checkers))
	mux.Get("/health/live", middleware.LivenessHandler)
	mux.Get("/health/ready", middleware.ReadinessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1/{tenant}", func(rt chi.Router) {
		rt.Use(middleware.RequireTenantMatch)
		rt.Post("/analysis/repository", r.wrap(r.handleAnalyzeRepository))
		rt.Post("/analysis/code", r.wrap(r.handleAnalyzeCode))
		rt.Get("/analysis/{id}", r.wrap(r.handleGetAnalysis))
		rt.Get("/repositories/{owner}/{repo}/status", r.wrap(r.handleStatus))
		rt.Get("/repositories/{owner}/{repo}/history", r.wrap(r.handleHistory))
		rt.Get("/repositories/{owner}/{repo}/vulnerabilities", r.wrap(r.handleVulnerabilities))
		rt.Get("/repositories/{owner}/{repo}/statistics", r.wrap(r.handleStatistics))
		rt.Post("/vulnerabilities/{id}/mark", r.wrap(r.handleMarkVulnerability))
		rt.Post("/webhook/github", r.wrap(r.handleGitHubWebhook))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var badReq *badRequestError
			if errors.As(err, &badReq) {
				http.Error(w, badReq.Error(), http.StatusBadRequest)
				return
			}
			if errors.Is(err, sql.ErrNoRows) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			if errors.Is(err, domain.ErrQuotaExceeded) {
				http.Error(w, "model quota exceeded", http.StatusTooManyRequests)
				return
			}
			var failed *domain.AnalysisFailedError
			var parse *domain.FileParsingError
			if errors.As(err, &failed) || errors.As(err, &parse) {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// badRequestError marks handler input errors so wrap maps them to 400.
type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &badRequestError{err: err}
}

func toTypes(types []string) []domain.Type {
	out := make([]domain.Type, 0, len(types))
	for _, t := range types {
		out = append(out, domain.Type(t))
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// POST /v1/{tenant}/analysis/repository
// Body: {"owner","repo","commit_sha","paths":[],"analysis_types":[]}
// Runs synchronously and returns the merged result summary.
func (r *Router) handleAnalyzeRepository(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	var body struct {
		Owner     string   `json:"owner"`
		Repo      string   `json:"repo"`
		CommitSHA string   `json:"commit_sha"`
		Paths     []string `json:"paths"`
		Types     []string `json:"analysis_types"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest(err)
	}
	if body.Owner == "" || body.Repo == "" {
		return badRequest(fmt.Errorf("owner and repo are required"))
	}
	repoID := body.Owner + "/" + body.Repo
	if err := middleware.ValidateRepositoryID(repoID); err != nil {
		return badRequest(err)
	}
	if err := middleware.ValidateCommitSHA(body.CommitSHA); err != nil {
		return badRequest(err)
	}
	if err := middleware.ValidateAnalysisTypes(body.Types); err != nil {
		return badRequest(err)
	}
	for _, p := range body.Paths {
		if err := middleware.ValidateFilePath(p); err != nil {
			return badRequest(err)
		}
	}

	middleware.IncrementAnalyses()
	middleware.IncrementAnalysesRunning()
	defer middleware.DecrementAnalysesRunning()

	result, err := r.analysisSvc.AnalyzeRepository(req.Context(), appanalysis.AnalyzeRepositoryCommand{
		TenantID:     tenant,
		RepositoryID: repoID,
		Owner:        body.Owner,
		Repo:         body.Repo,
		CommitSHA:    body.CommitSHA,
		Paths:        body.Paths,
		Types:        toTypes(body.Types),
	})
	if err != nil {
		middleware.IncrementAnalysesFailed()
		return err
	}
	return writeJSON(w, result)
}

// POST /v1/{tenant}/analysis/code
// Body: {"code","file_path","analysis_types":[]}
// Analyzes a pasted snippet; nothing is persisted.
func (r *Router) handleAnalyzeCode(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	var body struct {
		Code     string   `json:"code"`
		FilePath string   `json:"file_path"`
		Types    []string `json:"analysis_types"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest(err)
	}
	if body.Code == "" {
		return badRequest(fmt.Errorf("code is required"))
	}
	if err := middleware.ValidateFilePath(body.FilePath); err != nil {
		return badRequest(err)
	}
	if err := middleware.ValidateAnalysisTypes(body.Types); err != nil {
		return badRequest(err)
	}

	result, err := r.analysisSvc.AnalyzeCode(req.Context(), appanalysis.AnalyzeCodeCommand{
		TenantID: tenant,
		FilePath: body.FilePath,
		Code:     body.Code,
		Types:    toTypes(body.Types),
	})
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

// GET /v1/{tenant}/analysis/{id}
func (r *Router) handleGetAnalysis(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateAnalysisID(id); err != nil {
		return badRequest(err)
	}

	detailed, err := r.analysisSvc.Get(req.Context(), tenant, id)
	if err != nil {
		return err
	}
	return writeJSON(w, detailed)
}

// repositoryID joins the owner/repo URL segments after validating them.
func repositoryID(req *http.Request) (string, error) {
	owner := chi.URLParam(req, "owner")
	repo := chi.URLParam(req, "repo")
	id := owner + "/" + repo
	if err := middleware.ValidateRepositoryID(id); err != nil {
		return "", badRequest(err)
	}
	return id, nil
}

// GET /v1/{tenant}/repositories/{owner}/{repo}/status
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	repoID, err := repositoryID(req)
	if err != nil {
		return err
	}

	status, err := r.analysisSvc.Status(req.Context(), tenant, repoID)
	if err != nil {
		return err
	}
	return writeJSON(w, status)
}

// GET /v1/{tenant}/repositories/{owner}/{repo}/history?limit=20
func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	repoID, err := repositoryID(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	limit = middleware.ValidateLimit(limit)

	history, err := r.analysisSvc.History(req.Context(), tenant, repoID, limit)
	if err != nil {
		return err
	}
	return writeJSON(w, history)
}

// GET /v1/{tenant}/repositories/{owner}/{repo}/vulnerabilities
func (r *Router) handleVulnerabilities(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	repoID, err := repositoryID(req)
	if err != nil {
		return err
	}

	list, err := r.analysisSvc.Vulnerabilities(req.Context(), tenant, repoID)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/repositories/{owner}/{repo}/statistics
func (r *Router) handleStatistics(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	repoID, err := repositoryID(req)
	if err != nil {
		return err
	}

	stats, err := r.analysisSvc.Statistics(req.Context(), tenant, repoID)
	if err != nil {
		return err
	}
	return writeJSON(w, stats)
}

// POST /v1/{tenant}/vulnerabilities/{id}/mark
// Body: {"action": "false_positive" | "fixed" | "reopen"}
func (r *Router) handleMarkVulnerability(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateAnalysisID(id); err != nil {
		return badRequest(err)
	}

	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest(err)
	}
	switch body.Action {
	case appanalysis.MarkActionFalsePositive, appanalysis.MarkActionFixed, appanalysis.MarkActionReopen:
	default:
		return badRequest(fmt.Errorf("unknown mark action: %s", body.Action))
	}

	if err := r.analysisSvc.MarkVulnerability(req.Context(), tenant, id, body.Action); err != nil {
		return err
	}
	return writeJSON(w, map[string]string{
		"id":     id,
		"action": body.Action,
		"status": "ok",
	})
}

// POST /v1/{tenant}/webhook/github
// Accepts the GitHub push event payload. The analysis runs in the background
// so the webhook reply stays fast.
func (r *Router) handleGitHubWebhook(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	var payload struct {
		After      string `json:"after"`
		Repository struct {
			FullName string `json:"full_name"`
			Name     string `json:"name"`
			Owner    struct {
				Login string `json:"login"`
				Name  string `json:"name"`
			} `json:"owner"`
		} `json:"repository"`
		Commits []struct {
			Added    []string `json:"added"`
			Modified []string `json:"modified"`
		} `json:"commits"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		return badRequest(err)
	}

	owner := payload.Repository.Owner.Login
	if owner == "" {
		owner = payload.Repository.Owner.Name
	}
	if owner == "" || payload.Repository.Name == "" {
		return badRequest(fmt.Errorf("repository owner and name are required"))
	}
	repoID := payload.Repository.FullName
	if repoID == "" {
		repoID = owner + "/" + payload.Repository.Name
	}

	seen := make(map[string]bool)
	var changed []string
	for _, c := range payload.Commits {
		for _, path := range append(c.Added, c.Modified...) {
			if !seen[path] {
				seen[path] = true
				changed = append(changed, path)
			}
		}
	}

	cmd := appgithub.PushCommand{
		TenantID:     tenant,
		RepositoryID: repoID,
		Owner:        owner,
		Repo:         payload.Repository.Name,
		CommitSHA:    payload.After,
		ChangedFiles: changed,
	}

	go func() {
		middleware.IncrementAnalyses()
		middleware.IncrementAnalysesRunning()
		defer middleware.DecrementAnalysesRunning()

		if _, err := r.githubSvc.HandlePushUntilDone(cmd); err != nil {
			middleware.IncrementAnalysesFailed()
			log.Error().
				Err(err).
				Str("tenant", tenant).
				Str("repository_id", repoID).
				Str("commit_sha", payload.After).
				Msg("background push analysis failed")
		}
	}()

	return writeJSON(w, map[string]any{
		"status":     "queued",
		"tenant":     tenant,
		"repository": repoID,
		"commit":     payload.After,
		"message":    "analysis started in background",
		"queuedAt":   time.Now(),
	})
}
