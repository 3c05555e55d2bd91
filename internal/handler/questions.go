package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/opictutor/opictutor/internal/catalog"
	"github.com/opictutor/opictutor/internal/handler/views"
	appI18n "github.com/opictutor/opictutor/internal/i18n"
	"github.com/opictutor/opictutor/internal/model"
	"github.com/opictutor/opictutor/internal/session"
	"github.com/opictutor/opictutor/internal/store"
)

// handleQuestions shows the question list, or the detail of the question
// selected in this session.
func (h *Handler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		view  catalog.View
		flash *session.Flash
	)
	_ = h.withSession(r, func(st *session.State) error {
		view = st.Catalog
		flash = st.TakeFlash()
		return nil
	})
	n := fromFlash(flash)

	if id, ok := view.Selected(); ok {
		detail, err := h.store.GetQuestionDetail(ctx, id)
		switch {
		case err == nil:
			h.render(w, r, http.StatusOK, views.DetailPage(views.DetailData{Layout: h.layout(n), Detail: detail}))
			return
		case errors.Is(err, store.ErrNotFound):
			_ = h.withSession(r, func(st *session.State) error {
				st.Catalog.Back()
				return nil
			})
			n = notice("warn", appI18n.T(ctx, "QuestionNotFound"))
		default:
			h.renderError(w, r, err)
			return
		}
	}

	data, err := h.questionList(r, view.Sort, n)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, views.QuestionsPage(data))
}

func (h *Handler) questionList(r *http.Request, sort catalog.Sort, n *views.Notice) (views.QuestionsData, error) {
	stats, err := h.store.ListQuestionStats(r.Context())
	if err != nil {
		return views.QuestionsData{}, err
	}
	return views.QuestionsData{
		Layout: h.layout(n),
		Stats:  sort.Apply(stats),
		Sort:   sort,
	}, nil
}

func (h *Handler) handleSort(w http.ResponseWriter, r *http.Request) {
	c, ok := catalog.ParseColumn(r.FormValue("column"))
	if !ok {
		http.Error(w, "unknown column", http.StatusBadRequest)
		return
	}
	_ = h.withSession(r, func(st *session.State) error {
		st.Catalog.Sort.Toggle(c)
		return nil
	})
	h.redirect(w, r, "/questions")
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "questionID")
	if !ok {
		http.Error(w, "invalid question ID", http.StatusBadRequest)
		return
	}
	_ = h.withSession(r, func(st *session.State) error {
		st.Catalog.Select(id)
		return nil
	})
	h.redirect(w, r, "/questions")
}

func (h *Handler) handleBack(w http.ResponseWriter, r *http.Request) {
	_ = h.withSession(r, func(st *session.State) error {
		st.Catalog.Back()
		return nil
	})
	h.redirect(w, r, "/questions")
}

func (h *Handler) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	text := r.FormValue("question")
	qtype := r.FormValue("type")

	_, err := h.store.AddQuestion(ctx, text, qtype)
	switch {
	case err == nil:
		h.flash(r, "success", appI18n.T(ctx, "QuestionAdded"))
		h.redirect(w, r, "/questions")
	case errors.Is(err, store.ErrRejected):
		var sort catalog.Sort
		_ = h.withSession(r, func(st *session.State) error {
			sort = st.Catalog.Sort
			return nil
		})
		data, lerr := h.questionList(r, sort, notice("warn", appI18n.T(ctx, "EnterQuestion")))
		if lerr != nil {
			h.renderError(w, r, lerr)
			return
		}
		data.AddOpen = true
		data.NewQuestion = text
		data.NewType = qtype
		h.render(w, r, http.StatusUnprocessableEntity, views.QuestionsPage(data))
	default:
		h.renderError(w, r, err)
	}
}

func (h *Handler) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := idParam(r, "questionID")
	if !ok {
		http.Error(w, "invalid question ID", http.StatusBadRequest)
		return
	}

	err := h.store.DeleteQuestion(ctx, id)
	switch {
	case err == nil:
		_ = h.withSession(r, func(st *session.State) error {
			if sel, ok := st.Catalog.Selected(); ok && sel == id {
				st.Catalog.Back()
			}
			st.SetFlash("success", appI18n.T(ctx, "QuestionDeleted"))
			return nil
		})
	case errors.Is(err, store.ErrNotFound):
		h.flash(r, "warn", appI18n.T(ctx, "QuestionNotFound"))
	default:
		h.renderError(w, r, err)
		return
	}
	h.redirect(w, r, "/questions")
}

// handleFeedback asks the advisor about a stored answer and keeps the
// result as that answer's feedback, replacing any earlier one.
func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := idParam(r, "answerID")
	if !ok {
		http.Error(w, "invalid answer ID", http.StatusBadRequest)
		return
	}

	answer, err := h.store.GetAnswer(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "answer not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	question, err := h.store.GetQuestion(ctx, answer.QuestionID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	kind, msg := h.requestFeedback(r, question, answer)
	_ = h.withSession(r, func(st *session.State) error {
		st.Catalog.Select(question.ID)
		st.SetFlash(kind, msg)
		return nil
	})
	h.redirect(w, r, "/questions")
}

func (h *Handler) requestFeedback(r *http.Request, q model.Question, a model.Answer) (kind, msg string) {
	ctx := r.Context()
	if h.advisor == nil {
		return "warn", appI18n.T(ctx, "AdviceUnavailable")
	}
	if !h.allowAdvice() {
		return "warn", appI18n.T(ctx, "AdviceRateLimited")
	}
	content, err := h.advise(ctx, q.Text, a.Text)
	if err != nil {
		return "error", appI18n.Td(ctx, "AdviceFailed", map[string]any{"Error": err.Error()})
	}
	if err := h.store.SaveFeedback(ctx, a.ID, content); err != nil {
		slog.Error("failed to save feedback", "answer_id", a.ID, "error", err)
		return "error", appI18n.Td(ctx, "ErrorOccurred", map[string]any{"Error": err.Error()})
	}
	h.metrics.FeedbackSaved.Inc()
	return "success", appI18n.T(ctx, "FeedbackSaved")
}
