package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/opictutor/opictutor/internal/handler/views"
	appI18n "github.com/opictutor/opictutor/internal/i18n"
	"github.com/opictutor/opictutor/internal/practice"
	"github.com/opictutor/opictutor/internal/session"
	"github.com/opictutor/opictutor/internal/store"
)

// slot is the practice form as posted: which question it was for and what
// was typed.
type slot struct {
	questionID int64
	position   int
	draft      practice.Draft
}

func parseSlot(r *http.Request) (slot, bool) {
	qid, err := strconv.ParseInt(r.FormValue("question_id"), 10, 64)
	if err != nil {
		return slot{}, false
	}
	pos, err := strconv.Atoi(r.FormValue("position"))
	if err != nil || pos < 0 {
		return slot{}, false
	}
	// An unparsable difficulty stays 0 and is rejected on save.
	difficulty, _ := strconv.Atoi(r.FormValue("difficulty"))
	return slot{
		questionID: qid,
		position:   pos,
		draft:      practice.Draft{Text: r.FormValue("answer"), Difficulty: difficulty},
	}, true
}

func (h *Handler) practicePage(v practice.View, n *views.Notice) views.PracticeData {
	return views.PracticeData{Layout: h.layout(n), View: v}
}

func (h *Handler) handlePractice(w http.ResponseWriter, r *http.Request) {
	var (
		v     practice.View
		flash *session.Flash
	)
	err := h.withSession(r, func(st *session.State) error {
		var err error
		v, err = h.practice.View(r.Context(), st.Practice)
		flash = st.TakeFlash()
		return err
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, views.PracticePage(h.practicePage(v, fromFlash(flash))))
}

func (h *Handler) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	s, ok := parseSlot(r)
	if !ok {
		http.Error(w, "invalid practice form", http.StatusBadRequest)
		return
	}
	_ = h.withSession(r, func(st *session.State) error {
		h.practice.SaveDraft(st.Practice, s.questionID, s.position, s.draft)
		st.SetFlash("info", appI18n.T(r.Context(), "DraftSaved"))
		return nil
	})
	h.redirect(w, r, "/")
}

func (h *Handler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := parseSlot(r)
	if !ok {
		http.Error(w, "invalid practice form", http.StatusBadRequest)
		return
	}

	var (
		v      practice.View
		status = http.StatusOK
		n      *views.Notice
	)
	err := h.withSession(r, func(st *session.State) error {
		if strings.TrimSpace(s.draft.Text) == "" {
			h.practice.SaveDraft(st.Practice, s.questionID, s.position, s.draft)
			var err error
			v, err = h.practice.View(ctx, st.Practice)
			if err != nil {
				return err
			}
			h.metrics.AnswersRejected.WithLabelValues("empty").Inc()
			status = http.StatusUnprocessableEntity
			n = notice("warn", appI18n.T(ctx, "EnterAnswer"))
			return nil
		}

		var err error
		v, err = h.practice.Submit(ctx, st.Practice, s.questionID, s.position, s.draft)
		switch {
		case err == nil:
			h.metrics.AnswersSaved.Inc()
			st.SetFlash("success", appI18n.T(ctx, "AnswerSaved"))
			status = http.StatusSeeOther
		case errors.Is(err, practice.ErrStaleSlot), errors.Is(err, practice.ErrNoCurrentQuestion):
			st.SetFlash("warn", appI18n.T(ctx, "StaleQuestion"))
			status = http.StatusSeeOther
		case errors.Is(err, store.ErrRejected):
			slog.Warn("answer rejected", "question_id", s.questionID, "error", err)
			h.metrics.AnswersRejected.WithLabelValues("invalid").Inc()
			status = http.StatusUnprocessableEntity
			n = notice("error", appI18n.T(ctx, "SaveFailed"))
		default:
			return err
		}
		return nil
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if status == http.StatusSeeOther {
		h.redirect(w, r, "/")
		return
	}
	h.render(w, r, status, views.PracticePage(h.practicePage(v, n)))
}

// handleAdvice stores the form as a draft and asks the advisor about it.
// The provider call runs outside the session lock.
func (h *Handler) handleAdvice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := parseSlot(r)
	if !ok {
		http.Error(w, "invalid practice form", http.StatusBadRequest)
		return
	}

	var (
		v     practice.View
		stale bool
	)
	err := h.withSession(r, func(st *session.State) error {
		h.practice.SaveDraft(st.Practice, s.questionID, s.position, s.draft)
		var err error
		v, err = h.practice.View(ctx, st.Practice)
		if err != nil {
			return err
		}
		stale = v.Status != practice.StatusActive || v.Question.ID != s.questionID || v.Position != s.position
		if stale {
			st.SetFlash("warn", appI18n.T(ctx, "StaleQuestion"))
		}
		return nil
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if stale {
		h.redirect(w, r, "/")
		return
	}

	data := h.practicePage(v, nil)
	switch {
	case strings.TrimSpace(s.draft.Text) == "":
		data.Notice = notice("warn", appI18n.T(ctx, "EnterAnswer"))
		h.render(w, r, http.StatusUnprocessableEntity, views.PracticePage(data))
	case h.advisor == nil:
		data.AdviceError = appI18n.T(ctx, "AdviceUnavailable")
		h.render(w, r, http.StatusServiceUnavailable, views.PracticePage(data))
	case !h.allowAdvice():
		data.AdviceError = appI18n.T(ctx, "AdviceRateLimited")
		h.render(w, r, http.StatusTooManyRequests, views.PracticePage(data))
	default:
		advice, err := h.advise(ctx, v.Question.Text, s.draft.Text)
		if err != nil {
			data.AdviceError = appI18n.Td(ctx, "AdviceFailed", map[string]any{"Error": err.Error()})
			h.render(w, r, http.StatusBadGateway, views.PracticePage(data))
			return
		}
		data.Advice = advice
		h.render(w, r, http.StatusOK, views.PracticePage(data))
	}
}

func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	err := h.withSession(r, func(st *session.State) error {
		_, err := h.practice.Restart(r.Context(), st.Practice)
		return err
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.redirect(w, r, "/")
}

func (h *Handler) handleShuffle(w http.ResponseWriter, r *http.Request) {
	on := r.FormValue("shuffle") == "on"
	err := h.withSession(r, func(st *session.State) error {
		_, err := h.practice.SetShuffle(r.Context(), st.Practice, on)
		return err
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.redirect(w, r, "/")
}
