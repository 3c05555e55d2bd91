package store

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/opictutor/opictutor/internal/model"
)

// SaveAnswer stores an answer and returns its id. Blank text, a difficulty
// outside [1,5] or an unknown question is rejected without writing.
func (s *Store) SaveAnswer(ctx context.Context, questionID int64, text string, difficulty int) (int64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyText
	}
	if !model.ValidDifficulty(difficulty) {
		return 0, ErrDifficultyRange
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (question_id, answer, difficulty, created_at) VALUES (?, ?, ?, ?)`,
		questionID, text, difficulty, now(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, ErrUnknownQuestion
		}
		slog.Error("failed to save answer", "question_id", questionID, "error", err)
		return 0, classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	slog.Info("saved answer", "answer_id", id, "question_id", questionID, "difficulty", difficulty)
	return id, nil
}

// CountAnswers returns how many answers a question has. Unknown ids count 0.
func (s *Store) CountAnswers(ctx context.Context, questionID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM answers WHERE question_id = ?`, questionID)
	return count, classify(err)
}

// AnswerCounts returns the answer count of every question that has answers.
func (s *Store) AnswerCounts(ctx context.Context) (map[int64]int, error) {
	var rows []struct {
		QuestionID int64 `db:"question_id"`
		Count      int   `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT question_id, COUNT(*) AS n FROM answers GROUP BY question_id`); err != nil {
		return nil, classify(err)
	}
	counts := make(map[int64]int, len(rows))
	for _, r := range rows {
		counts[r.QuestionID] = r.Count
	}
	return counts, nil
}

// AverageDifficulty returns the mean difficulty rounded to two decimals,
// or nil when the question has no answers.
func (s *Store) AverageDifficulty(ctx context.Context, questionID int64) (*float64, error) {
	var avg sql.NullFloat64
	if err := s.db.GetContext(ctx, &avg, `SELECT AVG(difficulty) FROM answers WHERE question_id = ?`, questionID); err != nil {
		return nil, classify(err)
	}
	if !avg.Valid {
		return nil, nil
	}
	r := round2(avg.Float64)
	return &r, nil
}

// ListAnswers returns a question's answers, newest first.
func (s *Store) ListAnswers(ctx context.Context, questionID int64) ([]model.Answer, error) {
	var answers []model.Answer
	err := s.db.SelectContext(ctx, &answers,
		`SELECT id, question_id, answer, difficulty, created_at
		 FROM answers WHERE question_id = ?
		 ORDER BY created_at DESC, id DESC`, questionID)
	if err != nil {
		return nil, classify(err)
	}
	return answers, nil
}

// GetAnswer returns an answer by id, or ErrNotFound.
func (s *Store) GetAnswer(ctx context.Context, id int64) (model.Answer, error) {
	var a model.Answer
	err := s.db.GetContext(ctx, &a,
		`SELECT id, question_id, answer, difficulty, created_at FROM answers WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, classify(err)
}
