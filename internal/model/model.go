package model

import (
	"context"
	"time"
)

// Difficulty bounds for a self-rated answer.
const (
	MinDifficulty     = 1
	MaxDifficulty     = 5
	DefaultDifficulty = 3
)

var difficultyLabels = map[int]string{
	1: "매우 쉬움",
	2: "쉬움",
	3: "보통",
	4: "어려움",
	5: "매우 어려움",
}

// DifficultyLabel returns the Korean label for a difficulty level.
// Unknown levels fall back to the medium label.
func DifficultyLabel(level int) string {
	if l, ok := difficultyLabels[level]; ok {
		return l
	}
	return difficultyLabels[DefaultDifficulty]
}

// ValidDifficulty reports whether d is within [MinDifficulty, MaxDifficulty].
func ValidDifficulty(d int) bool {
	return d >= MinDifficulty && d <= MaxDifficulty
}

// Question is a practice prompt. Type is an optional category label.
type Question struct {
	ID        int64     `json:"id" db:"id"`
	Text      string    `json:"question" db:"question"`
	Type      string    `json:"type,omitempty" db:"type"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Answer is a saved response to a question.
type Answer struct {
	ID         int64     `json:"id" db:"id"`
	QuestionID int64     `json:"question_id" db:"question_id"`
	Text       string    `json:"answer" db:"answer"`
	Difficulty int       `json:"difficulty" db:"difficulty"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Feedback is stored advice for an answer. At most one exists per answer.
type Feedback struct {
	ID        int64     `json:"id" db:"id"`
	AnswerID  int64     `json:"answer_id" db:"answer_id"`
	Content   string    `json:"feedback_content" db:"feedback_content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// QuestionStats annotates a question with derived answer statistics.
type QuestionStats struct {
	Question
	AnswerCount   int      `json:"answers_count" db:"answers_count"`
	AvgDifficulty *float64 `json:"avg_difficulty,omitempty" db:"avg_difficulty"`
}

// AnswerView pairs an answer with its feedback, if any.
type AnswerView struct {
	Answer
	Feedback *Feedback
}

// QuestionDetail is everything the detail view shows for one question.
type QuestionDetail struct {
	Question      Question
	AvgDifficulty *float64
	Answers       []AnswerView
}

// QuestionImport is a question read from an import file.
type QuestionImport struct {
	Text string `json:"question"`
	Type string `json:"type"`
}

// AppConfig holds runtime UI parameters set via CLI flags.
type AppConfig struct {
	Lang            string        // UI language tag
	Shuffle         bool          // default shuffle preference for new sessions
	BasePath        string        // URL prefix for sub-path deployments
	SecureCookies   bool          // Set Secure flag on cookies (disable for local dev)
	PasswordHash    string        // bcrypt hash; empty disables the login gate
	AdvicePerMinute int           // 0 means unlimited
	SessionTTL      time.Duration // idle time before a session is dropped
}

type sessionCtxKey struct{}

// ContextWithSessionID stores the caller's session identifier in context.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

// SessionIDFromContext retrieves the session identifier, or "".
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionCtxKey{}).(string)
	return id
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}
