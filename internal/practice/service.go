package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opictutor/opictutor/internal/model"
)

// Repository is the storage the practice flow needs.
type Repository interface {
	ListQuestions(ctx context.Context) ([]model.Question, error)
	AnswerCounts(ctx context.Context) (map[int64]int, error)
	SaveAnswer(ctx context.Context, questionID int64, text string, difficulty int) (int64, error)
}

// Status describes what the practice page should show.
type Status int

const (
	// StatusNoQuestions means the database holds no questions at all.
	StatusNoQuestions Status = iota
	// StatusAllAtMax means every question is tied at the highest answer
	// count, so the working set is empty.
	StatusAllAtMax
	StatusActive
	StatusComplete
)

var (
	// ErrNoCurrentQuestion is returned when submitting outside an active round.
	ErrNoCurrentQuestion = errors.New("no question to answer")
	// ErrStaleSlot is returned when a submission targets a slot that is no
	// longer under the cursor.
	ErrStaleSlot = errors.New("question is no longer current")
)

// View is a snapshot of a practice session for rendering.
type View struct {
	Status   Status
	Question model.Question
	Position int
	Total    int
	Draft    Draft
	Shuffle  bool
}

// Number is the 1-based position of the current question.
func (v View) Number() int { return v.Position + 1 }

// Percent is the progress through the round, truncated.
func (v View) Percent() int {
	if v.Total == 0 {
		return 0
	}
	return v.Number() * 100 / v.Total
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) filtered(ctx context.Context) (all, filtered []model.Question, err error) {
	all, err = s.repo.ListQuestions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list questions: %w", err)
	}
	counts, err := s.repo.AnswerCounts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("answer counts: %w", err)
	}
	return all, FilterByMaxAnswerCount(all, counts), nil
}

// View refreshes the working set and returns what to show.
func (s *Service) View(ctx context.Context, sess *Session) (View, error) {
	all, filtered, err := s.filtered(ctx)
	if err != nil {
		return View{}, err
	}
	return s.sync(sess, all, filtered, false), nil
}

func (s *Service) sync(sess *Session, all, filtered []model.Question, restart bool) View {
	v := View{Shuffle: sess.Shuffle()}
	switch {
	case len(all) == 0:
		v.Status = StatusNoQuestions
		return v
	case len(filtered) == 0:
		v.Status = StatusAllAtMax
		return v
	}

	if restart {
		sess.Restart(filtered)
	} else {
		sess.Sync(filtered)
	}
	v.Total = sess.Len()

	q, pos, ok := sess.Current()
	if !ok {
		v.Status = StatusComplete
		v.Position = pos
		return v
	}
	v.Status = StatusActive
	v.Question = q
	v.Position = pos
	v.Draft = sess.Draft(q.ID, pos)
	return v
}

// SaveDraft remembers input for the slot without submitting it.
func (s *Service) SaveDraft(sess *Session, questionID int64, position int, d Draft) {
	sess.SetDraft(questionID, position, d)
}

// Submit saves the answer for the current slot and advances the cursor.
// The draft is kept when the answer is rejected so nothing typed is lost.
func (s *Service) Submit(ctx context.Context, sess *Session, questionID int64, position int, d Draft) (View, error) {
	v, err := s.View(ctx, sess)
	if err != nil {
		return View{}, err
	}
	if v.Status != StatusActive {
		return v, ErrNoCurrentQuestion
	}
	if v.Question.ID != questionID || v.Position != position {
		return v, ErrStaleSlot
	}

	sess.SetDraft(questionID, position, d)
	id, err := s.repo.SaveAnswer(ctx, questionID, d.Text, d.Difficulty)
	if err != nil {
		v.Draft = sess.Draft(questionID, position)
		return v, err
	}
	slog.Debug("practice answer saved", "answer_id", id, "question_id", questionID, "position", position)
	sess.Advance()

	return s.View(ctx, sess)
}

// Restart re-filters and re-orders the questions and moves to the start.
func (s *Service) Restart(ctx context.Context, sess *Session) (View, error) {
	all, filtered, err := s.filtered(ctx)
	if err != nil {
		return View{}, err
	}
	return s.sync(sess, all, filtered, true), nil
}

// SetShuffle changes the preference; the order is rebuilt if it differs.
func (s *Service) SetShuffle(ctx context.Context, sess *Session, on bool) (View, error) {
	sess.SetShuffle(on)
	return s.View(ctx, sess)
}
