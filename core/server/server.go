// Package server exposes the report pipeline over an HTTP API: browse
// generated reports, trigger runs, and inspect or update configuration.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/statuspulse/statuspulse/core/config"
	"github.com/statuspulse/statuspulse/core/jira"
	"github.com/statuspulse/statuspulse/core/pipeline"
	"github.com/statuspulse/statuspulse/core/report"
)

const defaultRequestTimeout = 60 * time.Second

// Handler carries the server dependencies. runPipeline and negotiate are
// swappable so tests can avoid real network traffic.
type Handler struct {
	// mu guards cfg: putConfig mutates it while every other handler reads
	// it from concurrent requests. Readers work on a snapshot.
	mu      sync.RWMutex
	cfg     *config.Config
	cfgPath string

	runPipeline func(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error)
	negotiate   func(ctx context.Context, baseURL string, cred jira.Credential) (*jira.Session, error)
}

// snapshotConfig returns a copy of the current configuration for handlers
// that only read it. putConfig replaces slice and map fields wholesale, so a
// shallow copy taken under the lock is safe to use after release.
func (h *Handler) snapshotConfig() config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return *h.cfg
}

// NewHandler builds a handler around a loaded configuration. cfgPath may be
// empty, in which case configuration updates are held in memory only.
func NewHandler(cfg *config.Config, cfgPath string) *Handler {
	return &Handler{
		cfg:         cfg,
		cfgPath:     cfgPath,
		runPipeline: pipeline.Run,
		negotiate: func(ctx context.Context, baseURL string, cred jira.Credential) (*jira.Session, error) {
			return jira.NewClient(baseURL, cred).Negotiate(ctx)
		},
	}
}

// Router assembles the chi routing tree with the standard middleware stack.
func (h *Handler) Router() http.Handler {
	timeout := defaultRequestTimeout
	if h.cfg.Server.RequestTimeout > 0 {
		timeout = time.Duration(h.cfg.Server.RequestTimeout) * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.healthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/reports", h.listReports)
		r.Get("/reports/{name}", h.viewReport)
		r.Get("/reports/{name}/download", h.downloadReport)
		r.Post("/generate", h.generate)
		r.Get("/config", h.getConfig)
		r.Put("/config", h.putConfig)
		r.Post("/config/test", h.testConnection)
		r.Get("/jira/report", h.adhocReport)
	})
	return r
}

// ListenAndServe runs the server until ctx is cancelled.
func (h *Handler) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", h.cfg.Server.Host, h.cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: h.Router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	cfg := h.snapshotConfig()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"reports": len(scanReports(cfg.OutputDir)),
	})
}

type reportEntry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// scanReports lists the markdown reports in dir, newest first. A missing or
// unreadable directory yields an empty list.
func scanReports(dir string) []reportEntry {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	reports := make([]reportEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		reports = append(reports, reportEntry{
			Name: entry.Name(), Size: info.Size(), Modified: info.ModTime(),
		})
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Modified.After(reports[j].Modified) })
	return reports
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	cfg := h.snapshotConfig()
	reports := scanReports(cfg.OutputDir)
	if reports == nil {
		reports = []reportEntry{}
	}
	writeJSON(w, http.StatusOK, reports)
}

// reportPath resolves a report name inside the output directory, rejecting
// anything that could escape it.
func (h *Handler) reportPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || !strings.HasSuffix(name, ".md") {
		return "", fmt.Errorf("invalid report name %q", name)
	}
	cfg := h.snapshotConfig()
	return filepath.Join(cfg.OutputDir, name), nil
}

func (h *Handler) viewReport(w http.ResponseWriter, r *http.Request) {
	path, err := h.reportPath(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading report failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    filepath.Base(path),
		"content": string(content),
	})
}

func (h *Handler) downloadReport(w http.ResponseWriter, r *http.Request) {
	path, err := h.reportPath(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

type generateResponse struct {
	RunID         string         `json:"run_id"`
	ReportPath    string         `json:"report_path"`
	Summary       report.Summary `json:"summary"`
	FetchErrors   []string       `json:"fetch_errors,omitempty"`
	ParseFailures int            `json:"parse_failures,omitempty"`
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	cfg := h.snapshotConfig()
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runID := uuid.NewString()
	slog.Info("Report run requested", "run_id", runID)

	result, err := h.runPipeline(r.Context(), pipeline.Options{
		BaseURL:          cfg.Jira.BaseURL,
		Credential:       cfg.Credential(),
		Projects:         cfg.Projects,
		DaysBack:         cfg.DaysBack,
		StoryPointsField: cfg.Jira.StoryPointsField,
		Buckets:          cfg.StatusBuckets,
	})
	if err != nil {
		var authErr *jira.AuthError
		if errors.As(err, &authErr) {
			writeError(w, http.StatusUnauthorized, authErr.Diagnostic())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	gen := &report.Generator{OutputDir: cfg.OutputDir}
	path, err := gen.Generate(result.Summary, result.GeneratedAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := generateResponse{
		RunID:         runID,
		ReportPath:    path,
		Summary:       result.Summary,
		ParseFailures: result.ParseFailures,
	}
	for _, fe := range result.FetchErrors {
		resp.FetchErrors = append(resp.FetchErrors, fe.Diagnostic())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.snapshotConfig()
	writeJSON(w, http.StatusOK, configView(cfg.Redacted()))
}

// configUpdate is the mutable subset accepted over the API. Pointer fields
// distinguish "leave alone" from "set to zero".
type configUpdate struct {
	JiraURL          *string   `json:"jira_url,omitempty"`
	Username         *string   `json:"username,omitempty"`
	APIToken         *string   `json:"api_token,omitempty"`
	PersonalToken    *string   `json:"personal_token,omitempty"`
	StoryPointsField *string   `json:"story_points_field,omitempty"`
	Projects         *[]string `json:"projects,omitempty"`
	DaysBack         *int      `json:"days_back,omitempty"`
	OutputDir        *string   `json:"output_dir,omitempty"`
}

func (h *Handler) putConfig(w http.ResponseWriter, r *http.Request) {
	var upd configUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	h.mu.Lock()
	if upd.JiraURL != nil {
		h.cfg.Jira.BaseURL = *upd.JiraURL
	}
	if upd.Username != nil {
		h.cfg.Jira.Username = *upd.Username
	}
	if upd.APIToken != nil {
		h.cfg.Jira.APIToken = *upd.APIToken
	}
	if upd.PersonalToken != nil {
		h.cfg.Jira.PersonalToken = *upd.PersonalToken
	}
	if upd.StoryPointsField != nil {
		h.cfg.Jira.StoryPointsField = *upd.StoryPointsField
	}
	if upd.Projects != nil {
		h.cfg.Projects = *upd.Projects
	}
	if upd.DaysBack != nil {
		h.cfg.DaysBack = *upd.DaysBack
	}
	if upd.OutputDir != nil {
		h.cfg.OutputDir = *upd.OutputDir
	}
	updated := *h.cfg
	h.mu.Unlock()

	if h.cfgPath != "" {
		if err := updated.Save(h.cfgPath); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, configView(updated.Redacted()))
}

type connectionTest struct {
	JiraURL       string `json:"jira_url,omitempty"`
	Username      string `json:"username,omitempty"`
	APIToken      string `json:"api_token,omitempty"`
	PersonalToken string `json:"personal_token,omitempty"`
}

func (h *Handler) testConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionTest
	if r.Body != nil {
		// An empty body tests the stored configuration.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	cfg := h.snapshotConfig()
	baseURL := cfg.Jira.BaseURL
	cred := cfg.Credential()
	if req.JiraURL != "" {
		baseURL = req.JiraURL
	}
	if req.Username != "" || req.APIToken != "" || req.PersonalToken != "" {
		cred = jira.Credential{
			Username:      req.Username,
			APIToken:      req.APIToken,
			PersonalToken: req.PersonalToken,
		}
	}
	if baseURL == "" || cred.Empty() {
		writeError(w, http.StatusBadRequest, "jira url and credential are required")
		return
	}

	session, err := h.negotiate(r.Context(), baseURL, cred)
	if err != nil {
		var authErr *jira.AuthError
		if errors.As(err, &authErr) {
			writeJSON(w, http.StatusOK, map[string]any{
				"ok":         false,
				"diagnostic": authErr.Diagnostic(),
			})
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"scheme":      session.Scheme,
		"api_version": session.APIVersion,
	})
}

// adhocReport fetches issues for arbitrary connection parameters without
// touching the stored configuration.
func (h *Handler) adhocReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	baseURL := q.Get("jira_url")
	token := q.Get("personal_access_token")
	project := q.Get("project_key")
	if baseURL == "" || token == "" || project == "" {
		writeError(w, http.StatusBadRequest, "jira_url, personal_access_token, and project_key are required")
		return
	}

	window := jira.Window{}
	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
			return
		}
		window.Since = t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
			return
		}
		window.Until = t
	}

	client := jira.NewClient(baseURL, jira.Credential{PersonalToken: token})
	if _, err := client.Negotiate(r.Context()); err != nil {
		var authErr *jira.AuthError
		if errors.As(err, &authErr) {
			writeError(w, http.StatusUnauthorized, authErr.Diagnostic())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	result, err := client.Search(r.Context(), jira.SearchOptions{
		Projects:         []string{project},
		Window:           window,
		StoryPointsField: h.snapshotConfig().Jira.StoryPointsField,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := map[string]any{
		"project":        project,
		"issues":         result.Issues,
		"parse_failures": result.ParseFailures,
	}
	if len(result.Errors) > 0 {
		diags := make([]string, len(result.Errors))
		for i, fe := range result.Errors {
			diags[i] = fe.Diagnostic()
		}
		resp["errors"] = diags
	}
	writeJSON(w, http.StatusOK, resp)
}

// configView flattens the redacted config for API consumers.
func configView(c config.Config) map[string]any {
	return map[string]any{
		"jira_url":           c.Jira.BaseURL,
		"username":           c.Jira.Username,
		"api_token":          c.Jira.APIToken,
		"personal_token":     c.Jira.PersonalToken,
		"story_points_field": c.Jira.StoryPointsField,
		"projects":           c.Projects,
		"days_back":          c.DaysBack,
		"output_dir":         c.OutputDir,
		"schedule":           c.Schedule,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Encoding response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
