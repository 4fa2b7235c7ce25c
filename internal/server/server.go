package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/NahidaBuer/programmer-trending/internal/metrics"
	"github.com/NahidaBuer/programmer-trending/internal/scheduler"
	"github.com/NahidaBuer/programmer-trending/internal/storage"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
	"github.com/NahidaBuer/programmer-trending/pkg/ratelimit"
)

const defaultCrawlLimit = 30

// Operator is the scheduler surface exposed over HTTP
type Operator interface {
	Status() *scheduler.Status
	TriggerManualCrawl(ctx context.Context, sourceID string, limit int) *scheduler.ManualCrawlResult
	TriggerManualSummaryGeneration(ctx context.Context) *scheduler.ManualSummaryResult
}

// UsageReporter reports provider rate limiter usage
type UsageReporter interface {
	Usage() ratelimit.Usage
}

// Server is the ops HTTP server
type Server struct {
	router     chi.Router
	ops        Operator
	repository storage.Repository
	usage      UsageReporter
	metrics    *metrics.Metrics
	log        *logger.Logger
}

// New builds the router. usage and m may be nil.
func New(ops Operator, repository storage.Repository, usage UsageReporter, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		ops:        ops,
		repository: repository,
		usage:      usage,
		metrics:    m,
		log:        log.WithComponent("server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Get("/status", s.status)
	r.Handle("/metrics", m.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/crawl/trigger", s.triggerCrawl)
		r.Get("/crawl/status", s.crawlStatus)
		r.Post("/summaries/generate", s.triggerSummaries)
		r.Get("/sources", s.listSources)
		r.Get("/items", s.listItems)
		r.Get("/items/{id}", s.getItem)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("Ops server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// envelope is the response shape of every /api endpoint
type envelope struct {
	Data  any            `json:"data"`
	Error *string        `json:"error"`
	Meta  map[string]any `json:"meta"`
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, data any, errMsg string) {
	env := envelope{
		Data: data,
		Meta: map[string]any{"requestId": middleware.GetReqID(r.Context())},
	}
	if errMsg != "" {
		env.Error = &errMsg
	}
	writeJSON(w, status, env)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body := map[string]any{
		"scheduler": s.ops.Status(),
	}

	if stats, err := s.repository.GetItemStats(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		s.log.Error().Err(err).Msg("Failed to load item stats")
	} else {
		body["items"] = stats
	}
	if tasks, err := s.repository.GetTaskStats(ctx); err != nil {
		s.log.Error().Err(err).Msg("Failed to load task stats")
	} else {
		body["tasks"] = tasks
	}
	if s.usage != nil {
		body["rate_limit"] = s.usage.Usage()
	}

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	limit := defaultCrawlLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.respond(w, r, http.StatusBadRequest, nil, "limit must be a positive integer")
			return
		}
		limit = n
	}

	result := s.ops.TriggerManualCrawl(context.WithoutCancel(r.Context()), r.URL.Query().Get("source_id"), limit)
	s.respond(w, r, http.StatusOK, result, result.Error)
}

func (s *Server) crawlStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, s.ops.Status(), "")
}

func (s *Server) triggerSummaries(w http.ResponseWriter, r *http.Request) {
	result := s.ops.TriggerManualSummaryGeneration(context.WithoutCancel(r.Context()))
	s.respond(w, r, http.StatusOK, result, result.Error)
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.repository.ListSources(r.Context())
	if err != nil {
		s.respond(w, r, http.StatusInternalServerError, nil, "failed to list sources")
		return
	}
	s.respond(w, r, http.StatusOK, sources, "")
}

type pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	filter, err := parseItemFilter(r)
	if err != nil {
		s.respond(w, r, http.StatusBadRequest, nil, err.Error())
		return
	}
	filter = filter.Normalize()

	items, total, err := s.repository.ListItems(r.Context(), filter)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list items")
		s.respond(w, r, http.StatusInternalServerError, nil, "failed to list items")
		return
	}

	pageSize := int64(filter.PageSize)
	totalPages := (total + pageSize - 1) / pageSize
	s.respond(w, r, http.StatusOK, map[string]any{
		"items": items,
		"pagination": pagination{
			Page:       filter.Page,
			PageSize:   filter.PageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    int64(filter.Page) < totalPages,
			HasPrev:    filter.Page > 1,
		},
	}, "")
}

func parseItemFilter(r *http.Request) (storage.ItemFilter, error) {
	q := r.URL.Query()
	filter := storage.DefaultItemFilter()

	if v := q.Get("source_id"); v != "" {
		filter.SourceID = &v
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("since must be an RFC3339 timestamp")
		}
		filter.Since = &since
	}
	if v := q.Get("has_summary"); v != "" {
		has, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("has_summary must be a boolean")
		}
		filter.HasSummary = &has
	}
	if v := q.Get("sort"); v != "" {
		if v != storage.SortByTime && v != storage.SortByScore {
			return filter, errors.New("sort must be time or score")
		}
		filter.SortBy = v
	}
	for name, dst := range map[string]*int{"page": &filter.Page, "page_size": &filter.PageSize} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return filter, errors.New(name + " must be an integer")
			}
			*dst = n
		}
	}
	return filter, nil
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respond(w, r, http.StatusBadRequest, nil, "invalid item id")
		return
	}

	item, err := s.repository.GetItemByID(r.Context(), uint(id))
	if errors.Is(err, storage.ErrNotFound) {
		s.respond(w, r, http.StatusNotFound, nil, "Item not found")
		return
	}
	if err != nil {
		s.respond(w, r, http.StatusInternalServerError, nil, "failed to load item")
		return
	}
	s.respond(w, r, http.StatusOK, item, "")
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
