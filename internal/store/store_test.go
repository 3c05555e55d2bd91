package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestQuestion(t *testing.T, s *Store, text string) int64 {
	t.Helper()
	id, err := s.AddQuestion(context.Background(), text, "")
	if err != nil {
		t.Fatalf("insertTestQuestion: %v", err)
	}
	return id
}

func insertTestAnswer(t *testing.T, s *Store, questionID int64, difficulty int) int64 {
	t.Helper()
	id, err := s.SaveAnswer(context.Background(), questionID, "answer text", difficulty)
	if err != nil {
		t.Fatalf("insertTestAnswer: %v", err)
	}
	return id
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM `+table); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestInitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "questions.db")

	s, seeded, err := Init(ctx, path)
	if err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if seeded != len(sampleQuestions) {
		t.Errorf("expected %d seeded questions, got %d", len(sampleQuestions), seeded)
	}
	s.Close()

	s, seeded, err = Init(ctx, path)
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	defer s.Close()
	if seeded != 0 {
		t.Errorf("expected no seeding on second run, got %d", seeded)
	}
	count, err := s.QuestionCount(ctx)
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != len(sampleQuestions) {
		t.Errorf("expected %d questions after re-init, got %d", len(sampleQuestions), count)
	}
}

func TestSeedSkipsNonEmptyTable(t *testing.T) {
	s := newTestStore(t)
	insertTestQuestion(t, s, "Existing question")

	n, err := s.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 seeded, got %d", n)
	}
}

func TestOpenMissingDatabase(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.db"))
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("missing file: expected ErrNotInitialized, got %v", err)
	}

	// A file without the schema is just as unusable.
	empty := filepath.Join(dir, "empty.db")
	raw, err := connect(empty)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	raw.Close()
	_, err = Open(empty)
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("empty schema: expected ErrNotInitialized, got %v", err)
	}

	ready := filepath.Join(dir, "ready.db")
	s, _, err := Init(context.Background(), ready)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	s.Close()
	s, err = Open(ready)
	if err != nil {
		t.Fatalf("Open initialized db: %v", err)
	}
	s.Close()
}

func TestQuestionCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	list, err := s.ListQuestions(ctx)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	if _, err := s.AddQuestion(ctx, "   ", ""); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText for blank question, got %v", err)
	}

	first := insertTestQuestion(t, s, "  Describe your house.  ")
	second, err := s.AddQuestion(ctx, "Talk about a recent trip.", "travel")
	if err != nil {
		t.Fatalf("AddQuestion: %v", err)
	}

	q, err := s.GetQuestion(ctx, first)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if q.Text != "Describe your house." {
		t.Errorf("expected trimmed text, got %q", q.Text)
	}
	if q.Type != "" {
		t.Errorf("expected empty type, got %q", q.Type)
	}
	if q.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}

	list, err = s.ListQuestions(ctx)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(list) != 2 || list[0].ID != first || list[1].ID != second {
		t.Fatalf("expected questions ordered by id, got %+v", list)
	}
	if list[1].Type != "travel" {
		t.Errorf("expected type travel, got %q", list[1].Type)
	}

	if _, err := s.GetQuestion(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteQuestion(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting unknown id, got %v", err)
	}
}

func TestSaveAnswerValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	qID := insertTestQuestion(t, s, "Q1")

	tests := []struct {
		name       string
		questionID int64
		text       string
		difficulty int
		wantErr    error
	}{
		{"empty text", qID, "", 3, ErrEmptyText},
		{"whitespace text", qID, " \n\t ", 3, ErrEmptyText},
		{"difficulty zero", qID, "ok", 0, ErrDifficultyRange},
		{"difficulty negative", qID, "ok", -2, ErrDifficultyRange},
		{"difficulty six", qID, "ok", 6, ErrDifficultyRange},
		{"unknown question", 4242, "ok", 3, ErrUnknownQuestion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := s.SaveAnswer(ctx, tt.questionID, tt.text, tt.difficulty)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if !errors.Is(err, ErrRejected) {
				t.Errorf("expected rejection to wrap ErrRejected, got %v", err)
			}
			if id != 0 {
				t.Errorf("expected id 0 on rejection, got %d", id)
			}
		})
	}

	if n := countRows(t, s, "answers"); n != 0 {
		t.Fatalf("expected no answers written, got %d", n)
	}

	for d := 1; d <= 5; d++ {
		id, err := s.SaveAnswer(ctx, qID, "valid", d)
		if err != nil {
			t.Fatalf("SaveAnswer difficulty %d: %v", d, err)
		}
		if id <= 0 {
			t.Errorf("expected positive id, got %d", id)
		}
	}
}

func TestCountAndAverage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	qID := insertTestQuestion(t, s, "Q1")

	count, err := s.CountAnswers(ctx, qID)
	if err != nil {
		t.Fatalf("CountAnswers: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 answers, got %d", count)
	}
	if count, err := s.CountAnswers(ctx, 777); err != nil || count != 0 {
		t.Errorf("unknown id: expected 0, nil; got %d, %v", count, err)
	}

	avg, err := s.AverageDifficulty(ctx, qID)
	if err != nil {
		t.Fatalf("AverageDifficulty: %v", err)
	}
	if avg != nil {
		t.Errorf("expected no data, got %v", *avg)
	}

	insertTestAnswer(t, s, qID, 2)
	insertTestAnswer(t, s, qID, 4)
	avg, err = s.AverageDifficulty(ctx, qID)
	if err != nil {
		t.Fatalf("AverageDifficulty: %v", err)
	}
	if avg == nil || *avg != 3.00 {
		t.Errorf("expected 3.00, got %v", avg)
	}

	insertTestAnswer(t, s, qID, 2)
	avg, _ = s.AverageDifficulty(ctx, qID)
	if avg == nil || *avg != 2.67 {
		t.Errorf("expected 2.67 after rounding, got %v", avg)
	}

	counts, err := s.AnswerCounts(ctx)
	if err != nil {
		t.Fatalf("AnswerCounts: %v", err)
	}
	if counts[qID] != 3 {
		t.Errorf("expected 3 answers in counts, got %d", counts[qID])
	}
}

func TestFeedbackUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	qID := insertTestQuestion(t, s, "Q1")
	aID := insertTestAnswer(t, s, qID, 3)

	if err := s.SaveFeedback(ctx, aID, "first advice"); err != nil {
		t.Fatalf("SaveFeedback first: %v", err)
	}
	if err := s.SaveFeedback(ctx, aID, "second advice"); err != nil {
		t.Fatalf("SaveFeedback second: %v", err)
	}

	if n := countRows(t, s, "feedbacks"); n != 1 {
		t.Fatalf("expected exactly 1 feedback row, got %d", n)
	}
	fb, err := s.GetFeedback(ctx, aID)
	if err != nil {
		t.Fatalf("GetFeedback: %v", err)
	}
	if fb == nil || fb.Content != "second advice" {
		t.Errorf("expected second advice, got %+v", fb)
	}
}

func TestFeedbackValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	qID := insertTestQuestion(t, s, "Q1")
	aID := insertTestAnswer(t, s, qID, 3)

	tests := []struct {
		name     string
		answerID int64
		content  string
		wantErr  error
	}{
		{"empty content", aID, "", ErrEmptyText},
		{"blank content", aID, "   ", ErrEmptyText},
		{"missing answer id", 0, "advice", ErrMissingAnswer},
		{"unknown answer", 9999, "advice", ErrUnknownAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SaveFeedback(ctx, tt.answerID, tt.content)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
	if n := countRows(t, s, "feedbacks"); n != 0 {
		t.Errorf("expected no feedback rows, got %d", n)
	}

	fb, err := s.GetFeedback(ctx, aID)
	if err != nil || fb != nil {
		t.Errorf("expected nil, nil for missing feedback; got %+v, %v", fb, err)
	}
}

func TestDeleteQuestionCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	doomed := insertTestQuestion(t, s, "Doomed")
	kept := insertTestQuestion(t, s, "Kept")

	a1 := insertTestAnswer(t, s, doomed, 1)
	a2 := insertTestAnswer(t, s, doomed, 5)
	keptAnswer := insertTestAnswer(t, s, kept, 3)
	for _, id := range []int64{a1, a2, keptAnswer} {
		if err := s.SaveFeedback(ctx, id, "advice"); err != nil {
			t.Fatalf("SaveFeedback: %v", err)
		}
	}

	if err := s.DeleteQuestion(ctx, doomed); err != nil {
		t.Fatalf("DeleteQuestion: %v", err)
	}

	answers, err := s.ListAnswers(ctx, doomed)
	if err != nil {
		t.Fatalf("ListAnswers: %v", err)
	}
	if len(answers) != 0 {
		t.Errorf("expected doomed answers removed, got %d", len(answers))
	}
	for _, id := range []int64{a1, a2} {
		fb, err := s.GetFeedback(ctx, id)
		if err != nil {
			t.Fatalf("GetFeedback: %v", err)
		}
		if fb != nil {
			t.Errorf("expected feedback for answer %d removed", id)
		}
	}
	if n := countRows(t, s, "answers"); n != 1 {
		t.Errorf("expected 1 surviving answer, got %d", n)
	}
	if n := countRows(t, s, "feedbacks"); n != 1 {
		t.Errorf("expected 1 surviving feedback, got %d", n)
	}
}

func TestListAnswersNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	qID := insertTestQuestion(t, s, "Q1")

	older := insertTestAnswer(t, s, qID, 1)
	time.Sleep(5 * time.Millisecond)
	newer := insertTestAnswer(t, s, qID, 5)

	answers, err := s.ListAnswers(ctx, qID)
	if err != nil {
		t.Fatalf("ListAnswers: %v", err)
	}
	if len(answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(answers))
	}
	if answers[0].ID != newer || answers[1].ID != older {
		t.Errorf("expected newest first, got ids %d, %d", answers[0].ID, answers[1].ID)
	}
}

func TestListQuestionStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	answered := insertTestQuestion(t, s, "Answered")
	unanswered := insertTestQuestion(t, s, "Unanswered")
	insertTestAnswer(t, s, answered, 1)
	insertTestAnswer(t, s, answered, 2)

	stats, err := s.ListQuestionStats(ctx)
	if err != nil {
		t.Fatalf("ListQuestionStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(stats))
	}
	if stats[0].ID != answered || stats[0].AnswerCount != 2 {
		t.Errorf("unexpected first row: %+v", stats[0])
	}
	if stats[0].AvgDifficulty == nil || *stats[0].AvgDifficulty != 1.5 {
		t.Errorf("expected avg 1.5, got %v", stats[0].AvgDifficulty)
	}
	if stats[1].ID != unanswered || stats[1].AnswerCount != 0 || stats[1].AvgDifficulty != nil {
		t.Errorf("unexpected second row: %+v", stats[1])
	}
}

func TestEndToEndAnswer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	qID := insertTestQuestion(t, s, "Describe a hobby.")

	if _, err := s.SaveAnswer(ctx, qID, "I like reading.", 2); err != nil {
		t.Fatalf("SaveAnswer: %v", err)
	}

	answers, err := s.ListAnswers(ctx, qID)
	if err != nil {
		t.Fatalf("ListAnswers: %v", err)
	}
	if len(answers) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(answers))
	}
	if answers[0].Text != "I like reading." || answers[0].Difficulty != 2 {
		t.Errorf("unexpected answer: %+v", answers[0])
	}

	avg, err := s.AverageDifficulty(ctx, qID)
	if err != nil {
		t.Fatalf("AverageDifficulty: %v", err)
	}
	if avg == nil || *avg != 2.00 {
		t.Errorf("expected 2.00, got %v", avg)
	}
}

func TestQuestionDetailAndExport(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	qID := insertTestQuestion(t, s, "Q1")
	insertTestQuestion(t, s, "Q2")
	aID := insertTestAnswer(t, s, qID, 4)
	if err := s.SaveFeedback(ctx, aID, "good job"); err != nil {
		t.Fatalf("SaveFeedback: %v", err)
	}

	detail, err := s.GetQuestionDetail(ctx, qID)
	if err != nil {
		t.Fatalf("GetQuestionDetail: %v", err)
	}
	if len(detail.Answers) != 1 || detail.Answers[0].Feedback == nil {
		t.Fatalf("expected one answer with feedback, got %+v", detail.Answers)
	}
	if detail.Answers[0].Feedback.Content != "good job" {
		t.Errorf("unexpected feedback %q", detail.Answers[0].Feedback.Content)
	}

	export, err := s.ExportQuestions(ctx)
	if err != nil {
		t.Fatalf("ExportQuestions: %v", err)
	}
	if len(export) != 2 {
		t.Fatalf("expected 2 exported questions, got %d", len(export))
	}
	if len(export[0].Answers) != 1 || export[0].Answers[0].Feedback != "good job" {
		t.Errorf("unexpected export of Q1: %+v", export[0])
	}
	if len(export[1].Answers) != 0 || export[1].AvgDifficulty != nil {
		t.Errorf("unexpected export of Q2: %+v", export[1])
	}
}

func TestMetadataAndImportHash(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v, err := s.GetMetadata(ctx, "missing")
	if err != nil || v != "" {
		t.Fatalf("expected empty, nil; got %q, %v", v, err)
	}
	if err := s.SetImportedFileHash(ctx, "q.json", "abc"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	if err := s.SetImportedFileHash(ctx, "q.json", "def"); err != nil {
		t.Fatalf("SetImportedFileHash overwrite: %v", err)
	}
	h, err := s.GetImportedFileHash(ctx, "q.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if h != "def" {
		t.Errorf("expected def, got %q", h)
	}
}

func TestAuthSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	token, err := s.CreateAuthSession(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	sess, err := s.GetAuthSession(ctx, token)
	if err != nil || sess == nil {
		t.Fatalf("GetAuthSession: %+v, %v", sess, err)
	}

	expired, err := s.CreateAuthSession(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("CreateAuthSession expired: %v", err)
	}
	ids, err := s.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if len(ids) != 1 || ids[0] != expired {
		t.Errorf("expected only the expired token removed, got %v", ids)
	}

	if err := s.DeleteAuthSession(ctx, token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	sess, err = s.GetAuthSession(ctx, token)
	if err != nil || sess != nil {
		t.Errorf("expected nil session after delete, got %+v, %v", sess, err)
	}
}
