package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/opictutor/opictutor/internal/model"
)

type fakeRepo struct {
	questions []model.Question
	hashes    map[string]string
	export    []model.QuestionExport
}

func newFakeRepo(existing ...string) *fakeRepo {
	r := &fakeRepo{hashes: make(map[string]string)}
	for _, text := range existing {
		r.AddQuestion(context.Background(), text, "")
	}
	return r
}

func (r *fakeRepo) ListQuestions(context.Context) ([]model.Question, error) {
	return r.questions, nil
}

func (r *fakeRepo) AddQuestion(_ context.Context, text, qtype string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, errors.New("empty question")
	}
	id := int64(len(r.questions) + 1)
	r.questions = append(r.questions, model.Question{ID: id, Text: text, Type: strings.TrimSpace(qtype)})
	return id, nil
}

func (r *fakeRepo) GetImportedFileHash(_ context.Context, path string) (string, error) {
	return r.hashes[path], nil
}

func (r *fakeRepo) SetImportedFileHash(_ context.Context, path, hash string) error {
	r.hashes[path] = hash
	return nil
}

func (r *fakeRepo) ExportQuestions(context.Context) ([]model.QuestionExport, error) {
	return r.export, nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestImportFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"json", "q.json", `[{"question":"Describe your house.","type":"home"},{"question":"Talk about a trip."}]`},
		{"csv with header", "q.csv", "question,type\nDescribe your house.,home\nTalk about a trip.\n"},
		{"csv without header", "q.csv", "Describe your house.,home\nTalk about a trip.,\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			res, err := ImportFile(context.Background(), repo, writeFile(t, tt.file, tt.content), false)
			if err != nil {
				t.Fatalf("ImportFile: %v", err)
			}
			if res.Created != 2 || res.Processed != 2 {
				t.Fatalf("expected 2 created of 2, got %+v", res)
			}
			if repo.questions[0].Text != "Describe your house." || repo.questions[0].Type != "home" {
				t.Errorf("unexpected first question %+v", repo.questions[0])
			}
			if repo.questions[1].Type != "" {
				t.Errorf("expected empty type, got %q", repo.questions[1].Type)
			}
		})
	}
}

func TestImportXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.xlsx")
	f := excelize.NewFile()
	rows := [][]any{
		{"question", "type"},
		{"What do you do on weekends?", "leisure"},
		{"   ", "misc"},
		{"Describe your neighborhood.", "home"},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	repo := newFakeRepo()
	res, err := ImportFile(context.Background(), repo, path, false)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if res.Created != 2 {
		t.Errorf("expected 2 created, got %+v", res)
	}
	if len(res.Errors) != 1 {
		t.Errorf("expected the blank question reported, got %v", res.Errors)
	}
}

func TestImportSkipsDuplicatesAndUnchangedFiles(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo("describe your house.")
	path := writeFile(t, "q.json", `[{"question":"  Describe your HOUSE. "},{"question":"New one"}]`)

	res, err := ImportFile(ctx, repo, path, false)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if res.Created != 1 || res.Skipped != 1 {
		t.Errorf("expected 1 created and 1 skipped, got %+v", res)
	}

	res, err = ImportFile(ctx, repo, path, false)
	if err != nil {
		t.Fatalf("second ImportFile: %v", err)
	}
	if !res.AlreadyImported || res.Processed != 0 {
		t.Errorf("expected unchanged file to be skipped, got %+v", res)
	}

	res, err = ImportFile(ctx, repo, path, true)
	if err != nil {
		t.Fatalf("forced ImportFile: %v", err)
	}
	if res.AlreadyImported || res.Skipped != 2 || res.Created != 0 {
		t.Errorf("forced import should re-read and skip duplicates, got %+v", res)
	}
}

func TestImportUnsupported(t *testing.T) {
	_, err := ImportFile(context.Background(), newFakeRepo(), writeFile(t, "q.txt", "hello"), false)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func sampleExport() []model.QuestionExport {
	avg := 3.0
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return []model.QuestionExport{
		{
			ID: 1, Text: "Describe a hobby.", AvgDifficulty: &avg,
			Answers: []model.AnswerExport{
				{Text: "I like reading.", Difficulty: 2, CreatedAt: at, Feedback: "good"},
				{Text: "I like hiking.", Difficulty: 4, CreatedAt: at},
			},
		},
		{ID: 2, Text: "Talk about a trip.", Answers: []model.AnswerExport{}},
	}
}

func TestExportJSON(t *testing.T) {
	repo := &fakeRepo{export: sampleExport()}
	var buf bytes.Buffer
	n, err := Export(context.Background(), repo, FormatJSON, &buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 questions exported, got %d", n)
	}

	var got model.Export
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(got.Questions) != 2 || len(got.Questions[0].Answers) != 2 {
		t.Fatalf("unexpected export %+v", got)
	}
	if got.Questions[0].Answers[0].Feedback != "good" {
		t.Errorf("feedback not exported: %+v", got.Questions[0].Answers[0])
	}
}

func TestExportXLSX(t *testing.T) {
	repo := &fakeRepo{export: sampleExport()}
	var buf bytes.Buffer
	if _, err := Export(context.Background(), repo, FormatXLSX, &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	// header + two answers + one unanswered question
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d: %v", len(rows), rows)
	}
	if rows[1][4] != "I like reading." || rows[1][6] != "쉬움" || rows[1][8] != "good" {
		t.Errorf("unexpected answer row %v", rows[1])
	}
	if rows[3][1] != "Talk about a trip." {
		t.Errorf("unexpected unanswered row %v", rows[3])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	if _, err := Export(context.Background(), &fakeRepo{}, "pdf", &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestImportDataKeysByName(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	data := []byte("question\nWhat is your favorite food?\n")

	if _, err := ImportData(ctx, repo, "upload:a.csv", data, false); err != nil {
		t.Fatalf("ImportData: %v", err)
	}
	res, err := ImportData(ctx, repo, "upload:b.csv", data, false)
	if err != nil {
		t.Fatalf("ImportData: %v", err)
	}
	if res.AlreadyImported || res.Skipped != 1 {
		t.Errorf("a different name should be parsed again, got %+v", res)
	}
	if repo.hashes["upload:a.csv"] == "" {
		t.Error("expected hash recorded under the given name")
	}
}
