package practice

import "github.com/opictutor/opictutor/internal/model"

// FilterByMaxAnswerCount drops every question whose answer count equals the
// highest count in the set. When no question has been answered the input is
// returned unchanged. Questions missing from counts have zero answers.
func FilterByMaxAnswerCount(questions []model.Question, counts map[int64]int) []model.Question {
	maxCount := 0
	for _, q := range questions {
		maxCount = max(maxCount, counts[q.ID])
	}
	if maxCount == 0 {
		return questions
	}

	filtered := make([]model.Question, 0, len(questions))
	for _, q := range questions {
		if counts[q.ID] < maxCount {
			filtered = append(filtered, q)
		}
	}
	return filtered
}
