package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskmill/internal/domain"
	"taskmill/internal/queue"
	"taskmill/internal/schedule"
	"taskmill/internal/scheduler"
)

type Server struct {
	store queue.Store
}

func NewServer(store queue.Store) http.Handler {
	return NewServerWithDebug(store, false)
}

func NewServerWithDebug(store queue.Store, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{store: store}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Post("/api/tasks", s.submitTask)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Delete("/api/tasks/{id}", s.deleteTask)
	r.Post("/api/definitions", s.createDefinition)
	r.Get("/api/definitions", s.listDefinitions)
	r.Get("/api/definitions/{id}", s.getDefinition)
	r.Put("/api/definitions/{id}", s.updateDefinition)
	r.Delete("/api/definitions/{id}", s.deleteDefinition)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("taskmill_up 1\n"))
}

type submitReq struct {
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	MaxRetries  int             `json:"max_retries"`
	UniqKey     *string         `json:"uniq_key"`
	ScheduledAt *time.Time      `json:"scheduled_at"`
}

type submitResp struct {
	ID string `json:"id"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		http.Error(w, "kind is required", http.StatusBadRequest)
		return
	}
	t := domain.Task{
		Kind:       req.Kind,
		Payload:    req.Payload,
		MaxRetries: req.MaxRetries,
		UniqKey:    req.UniqKey,
	}
	if req.ScheduledAt != nil {
		t.ScheduledAt = req.ScheduledAt.UTC()
	}
	id, err := s.store.InsertStrict(r.Context(), t)
	if errors.Is(err, queue.ErrDuplicateTask) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResp{ID: id})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.store.Get(r.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, taskView(t))
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	f := queue.Filter{Kind: r.URL.Query().Get("kind"), Limit: 100}
	if st := r.URL.Query().Get("state"); st != "" {
		f.States = []domain.State{domain.State(st)}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			f.Limit = n
		}
	}
	tasks, err := s.store.List(r.Context(), f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskView(t))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type definitionReq struct {
	Name       string          `json:"name"`
	CronExpr   string          `json:"cron_expr"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	MaxRetries int             `json:"max_retries"`
	Enabled    *bool           `json:"enabled"`
}

func (s *Server) createDefinition(w http.ResponseWriter, r *http.Request) {
	var req definitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.CronExpr == "" || req.Kind == "" {
		http.Error(w, "name, cron_expr and kind are required", http.StatusBadRequest)
		return
	}
	nextRun, err := scheduler.NextRun(req.CronExpr, time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	id, err := s.store.CreateDefinition(r.Context(), domain.Definition{
		Name:       req.Name,
		CronExpr:   req.CronExpr,
		Kind:       req.Kind,
		Payload:    req.Payload,
		MaxRetries: req.MaxRetries,
		Enabled:    enabled,
		NextRun:    nextRun,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, submitResp{ID: id})
}

func (s *Server) listDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.store.ListDefinitions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		views = append(views, definitionView(d))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getDefinition(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDefinition(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, queue.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, definitionView(d))
}

func (s *Server) updateDefinition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.store.GetDefinition(r.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var req definitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name != "" {
		d.Name = req.Name
	}
	if req.Kind != "" {
		d.Kind = req.Kind
	}
	if req.Payload != nil {
		d.Payload = req.Payload
	}
	if req.MaxRetries > 0 {
		d.MaxRetries = req.MaxRetries
	}
	if req.Enabled != nil {
		d.Enabled = *req.Enabled
	}
	if req.CronExpr != "" && req.CronExpr != d.CronExpr {
		if err := schedule.Validate(req.CronExpr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		nextRun, err := scheduler.NextRun(req.CronExpr, time.Now().UTC())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d.CronExpr = req.CronExpr
		d.NextRun = nextRun
	}
	if err := s.store.UpdateDefinition(r.Context(), d); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, definitionView(d))
}

func (s *Server) deleteDefinition(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDefinition(r.Context(), chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func taskView(t domain.Task) map[string]any {
	v := map[string]any{
		"id":            t.ID,
		"kind":          t.Kind,
		"state":         string(t.State),
		"retries":       t.Retries,
		"max_retries":   t.MaxRetries,
		"scheduled_at":  t.ScheduledAt.Format(time.RFC3339),
		"error_message": t.ErrorMessage,
		"created_at":    t.CreatedAt.Format(time.RFC3339),
		"updated_at":    t.UpdatedAt.Format(time.RFC3339),
	}
	if t.UniqKey != nil {
		v["uniq_key"] = *t.UniqKey
	}
	return v
}

func definitionView(d domain.Definition) map[string]any {
	v := map[string]any{
		"id":          d.ID,
		"name":        d.Name,
		"cron_expr":   d.CronExpr,
		"kind":        d.Kind,
		"max_retries": d.MaxRetries,
		"enabled":     d.Enabled,
		"next_run":    d.NextRun.Format(time.RFC3339),
	}
	if d.LastRun != nil {
		v["last_run"] = d.LastRun.Format(time.RFC3339)
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
