package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/opictutor/opictutor/internal/model"
)

const questionColumns = `id, question, COALESCE(type, '') AS type, created_at`

// AddQuestion stores a new question. The text is trimmed; qtype may be empty.
func (s *Store) AddQuestion(ctx context.Context, text, qtype string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, ErrEmptyText
	}
	qtype = strings.TrimSpace(qtype)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO questions (question, type, created_at) VALUES (?, ?, ?)`,
		text, sql.NullString{String: qtype, Valid: qtype != ""}, now(),
	)
	if err != nil {
		slog.Error("failed to add question", "error", err)
		return 0, classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	slog.Info("added question", "question_id", id, "type", qtype)
	return id, nil
}

// ListQuestions returns all questions ordered by id.
func (s *Store) ListQuestions(ctx context.Context) ([]model.Question, error) {
	var questions []model.Question
	if err := s.db.SelectContext(ctx, &questions, `SELECT `+questionColumns+` FROM questions ORDER BY id`); err != nil {
		return nil, classify(err)
	}
	return questions, nil
}

// GetQuestion returns a question by id, or ErrNotFound.
func (s *Store) GetQuestion(ctx context.Context, id int64) (model.Question, error) {
	var q model.Question
	err := s.db.GetContext(ctx, &q, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return q, ErrNotFound
	}
	return q, classify(err)
}

// DeleteQuestion removes a question. Its answers and their feedback go with it.
func (s *Store) DeleteQuestion(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = ?`, id)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	slog.Info("deleted question", "question_id", id)
	return nil
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM questions`)
	return count, classify(err)
}

// ListQuestionStats returns every question with its answer count and
// average difficulty, ordered by id.
func (s *Store) ListQuestionStats(ctx context.Context) ([]model.QuestionStats, error) {
	var stats []model.QuestionStats
	err := s.db.SelectContext(ctx, &stats, `
		SELECT q.id, q.question, COALESCE(q.type, '') AS type, q.created_at,
		       COUNT(a.id) AS answers_count, AVG(a.difficulty) AS avg_difficulty
		FROM questions q
		LEFT JOIN answers a ON a.question_id = q.id
		GROUP BY q.id
		ORDER BY q.id`)
	if err != nil {
		return nil, classify(err)
	}
	for i := range stats {
		if stats[i].AvgDifficulty != nil {
			r := round2(*stats[i].AvgDifficulty)
			stats[i].AvgDifficulty = &r
		}
	}
	return stats, nil
}

// GetQuestionDetail loads a question with its answers (newest first) and
// any stored feedback.
func (s *Store) GetQuestionDetail(ctx context.Context, id int64) (*model.QuestionDetail, error) {
	q, err := s.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	avg, err := s.AverageDifficulty(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("average difficulty: %w", err)
	}
	answers, err := s.ListAnswers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	feedback, err := s.feedbackForQuestion(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}

	views := make([]model.AnswerView, 0, len(answers))
	for _, a := range answers {
		v := model.AnswerView{Answer: a}
		if fb, ok := feedback[a.ID]; ok {
			v.Feedback = &fb
		}
		views = append(views, v)
	}
	return &model.QuestionDetail{Question: q, AvgDifficulty: avg, Answers: views}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
