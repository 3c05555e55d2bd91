package store

import (
	"context"
	"fmt"

	"github.com/opictutor/opictutor/internal/model"
)

// ExportQuestions builds export-ready records for every question with its
// answers (newest first) and feedback.
func (s *Store) ExportQuestions(ctx context.Context) ([]model.QuestionExport, error) {
	questions, err := s.ListQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	var out []model.QuestionExport
	for _, q := range questions {
		detail, err := s.GetQuestionDetail(ctx, q.ID)
		if err != nil {
			return nil, fmt.Errorf("get question %d: %w", q.ID, err)
		}

		answers := make([]model.AnswerExport, 0, len(detail.Answers))
		for _, a := range detail.Answers {
			ae := model.AnswerExport{
				Text:       a.Text,
				Difficulty: a.Difficulty,
				CreatedAt:  a.CreatedAt,
			}
			if a.Feedback != nil {
				ae.Feedback = a.Feedback.Content
			}
			answers = append(answers, ae)
		}

		out = append(out, model.QuestionExport{
			ID:            q.ID,
			Text:          q.Text,
			Type:          q.Type,
			CreatedAt:     q.CreatedAt,
			AvgDifficulty: detail.AvgDifficulty,
			Answers:       answers,
		})
	}
	return out, nil
}
