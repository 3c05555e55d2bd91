package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/opictutor/opictutor/internal/handler/views"
	appI18n "github.com/opictutor/opictutor/internal/i18n"
	"github.com/opictutor/opictutor/internal/llm"
	"github.com/opictutor/opictutor/internal/metrics"
	"github.com/opictutor/opictutor/internal/model"
	"github.com/opictutor/opictutor/internal/practice"
	"github.com/opictutor/opictutor/internal/session"
	"github.com/opictutor/opictutor/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	advisor  llm.Advisor
	practice *practice.Service
	sessions *session.Manager
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	config   model.AppConfig
}

// New creates a new Handler. advisor may be nil, in which case advice
// requests answer with a notice instead of calling a provider.
func New(s *store.Store, advisor llm.Advisor, sessions *session.Manager, m *metrics.Metrics, cfg model.AppConfig) *Handler {
	h := &Handler{
		store:    s,
		advisor:  advisor,
		practice: practice.NewService(s),
		sessions: sessions,
		metrics:  m,
		config:   cfg,
	}
	if cfg.AdvicePerMinute > 0 {
		h.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.AdvicePerMinute)), cfg.AdvicePerMinute)
	}
	return h
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.With(h.requireScrapeAuth).Handle("/metrics", h.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Get("/login", h.handleLoginPage)
		r.Post("/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Use(h.sessionMiddleware)

			r.Post("/logout", h.handleLogout)

			r.Get("/", h.handlePractice)
			r.Post("/practice/draft", h.handleSaveDraft)
			r.Post("/practice/answer", h.handleSubmitAnswer)
			r.Post("/practice/advice", h.handleAdvice)
			r.Post("/practice/restart", h.handleRestart)
			r.Post("/practice/shuffle", h.handleShuffle)

			r.Get("/questions", h.handleQuestions)
			r.Post("/questions", h.handleAddQuestion)
			r.Post("/questions/sort", h.handleSort)
			r.Post("/questions/back", h.handleBack)
			r.Post("/questions/import", h.handleImport)
			r.Post("/questions/{questionID}/select", h.handleSelect)
			r.Post("/questions/{questionID}/delete", h.handleDeleteQuestion)
			r.Post("/answers/{answerID}/feedback", h.handleFeedback)
			r.Get("/export", h.handleExport)
		})
	})
}

// BasePathMiddleware stores the configured base path in the request
// context so views can build links.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, p string) {
	http.Redirect(w, r, h.path(p), http.StatusSeeOther)
}

func (h *Handler) layout(notice *views.Notice) views.Layout {
	return views.Layout{
		Lang:       h.config.Lang,
		ShowLogout: h.config.PasswordHash != "",
		Notice:     notice,
	}
}

func notice(kind, text string) *views.Notice {
	return &views.Notice{Kind: kind, Text: text}
}

func fromFlash(f *session.Flash) *views.Notice {
	if f == nil {
		return nil
	}
	return notice(f.Kind, f.Text)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// renderError shows err as a page. A missing database gets its own
// message telling the operator to run init.
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	l := h.layout(nil)
	if errors.Is(err, store.ErrNotInitialized) {
		slog.Warn("database not initialized", "path", r.URL.Path)
		l.Title = appI18n.T(ctx, "NotInitialized")
		h.render(w, r, http.StatusServiceUnavailable, views.MessagePage(l))
		return
	}
	slog.Error("request failed", "path", r.URL.Path, "error", err)
	l.Title = appI18n.T(ctx, "ErrorTitle")
	l.Notice = notice("error", appI18n.Td(ctx, "ErrorOccurred", map[string]any{"Error": err.Error()}))
	h.render(w, r, http.StatusInternalServerError, views.MessagePage(l))
}

// withSession runs fn on the state of the caller's UI session.
func (h *Handler) withSession(r *http.Request, fn func(*session.State) error) error {
	return h.sessions.With(model.SessionIDFromContext(r.Context()), fn)
}

// flash sets a notice for the next page of the caller's session.
func (h *Handler) flash(r *http.Request, kind, text string) {
	_ = h.withSession(r, func(st *session.State) error {
		st.SetFlash(kind, text)
		return nil
	})
}

// allowAdvice reports whether the advice rate limit has room.
func (h *Handler) allowAdvice() bool {
	return h.limiter == nil || h.limiter.Allow()
}

func (h *Handler) advise(ctx context.Context, question, answer string) (string, error) {
	start := time.Now()
	advice, err := h.advisor.Advise(ctx, question, answer)
	h.metrics.ObserveAdvice(start, err)
	if err != nil {
		slog.Error("advice request failed", "error", err)
	}
	return advice, err
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
