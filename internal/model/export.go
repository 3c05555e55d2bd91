package model

import "time"

// Export is the top-level JSON structure for `opictutor export`.
type Export struct {
	ExportedAt time.Time        `json:"exported_at"`
	Questions  []QuestionExport `json:"questions"`
}

// QuestionExport holds one question with its answer history.
type QuestionExport struct {
	ID            int64          `json:"id"`
	Text          string         `json:"question"`
	Type          string         `json:"type,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	AvgDifficulty *float64       `json:"avg_difficulty,omitempty"`
	Answers       []AnswerExport `json:"answers"`
}

// AnswerExport holds per-answer data for export.
type AnswerExport struct {
	Text       string    `json:"answer"`
	Difficulty int       `json:"difficulty"`
	CreatedAt  time.Time `json:"created_at"`
	Feedback   string    `json:"feedback,omitempty"`
}
