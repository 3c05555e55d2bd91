package store

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/opictutor/opictutor/internal/model"
)

// SaveFeedback stores feedback for an answer. When feedback already exists
// the insert hits the unique constraint and the row is updated instead.
func (s *Store) SaveFeedback(ctx context.Context, answerID int64, content string) error {
	if answerID <= 0 {
		return ErrMissingAnswer
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyText
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedbacks (answer_id, feedback_content, created_at) VALUES (?, ?, ?)`,
		answerID, content, now(),
	)
	switch {
	case err == nil:
		slog.Info("saved feedback", "answer_id", answerID)
		return nil
	case isForeignKeyViolation(err):
		return ErrUnknownAnswer
	case !isUniqueViolation(err):
		slog.Error("failed to save feedback", "answer_id", answerID, "error", err)
		return classify(err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE feedbacks SET feedback_content = ?, created_at = ? WHERE answer_id = ?`,
		content, now(), answerID,
	)
	if err != nil {
		slog.Error("failed to replace feedback", "answer_id", answerID, "error", err)
		return classify(err)
	}
	slog.Info("replaced feedback", "answer_id", answerID)
	return nil
}

// GetFeedback returns the feedback for an answer, or nil if none exists.
func (s *Store) GetFeedback(ctx context.Context, answerID int64) (*model.Feedback, error) {
	var fb model.Feedback
	err := s.db.GetContext(ctx, &fb,
		`SELECT id, answer_id, feedback_content, created_at FROM feedbacks WHERE answer_id = ?`, answerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &fb, nil
}

func (s *Store) feedbackForQuestion(ctx context.Context, questionID int64) (map[int64]model.Feedback, error) {
	var rows []model.Feedback
	err := s.db.SelectContext(ctx, &rows,
		`SELECT f.id, f.answer_id, f.feedback_content, f.created_at
		 FROM feedbacks f JOIN answers a ON a.id = f.answer_id
		 WHERE a.question_id = ?`, questionID)
	if err != nil {
		return nil, classify(err)
	}
	out := make(map[int64]model.Feedback, len(rows))
	for _, fb := range rows {
		out[fb.AnswerID] = fb
	}
	return out, nil
}
