package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/opictutor/opictutor/internal/model"
)

// ExportRepository provides the records to export.
type ExportRepository interface {
	ExportQuestions(ctx context.Context) ([]model.QuestionExport, error)
}

// Supported export formats.
const (
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

const exportSheet = "Sheet1"

var xlsxHeader = []any{
	"question_id", "question", "type", "avg_difficulty",
	"answer", "difficulty", "difficulty_label", "answered_at", "feedback",
}

// Export writes every question with its answers to w in the given format.
func Export(ctx context.Context, repo ExportRepository, format string, w io.Writer) (int, error) {
	questions, err := repo.ExportQuestions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load questions: %w", err)
	}
	if questions == nil {
		questions = []model.QuestionExport{}
	}

	switch strings.ToLower(format) {
	case FormatJSON, "":
		err = writeJSON(w, questions)
	case FormatXLSX:
		err = writeXLSX(w, questions)
	default:
		return 0, fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return 0, err
	}
	return len(questions), nil
}

func writeJSON(w io.Writer, questions []model.QuestionExport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(model.Export{
		ExportedAt: time.Now().UTC(),
		Questions:  questions,
	})
}

// writeXLSX writes one row per answer. Questions without answers get a
// single row with empty answer cells.
func writeXLSX(w io.Writer, questions []model.QuestionExport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetRow(exportSheet, "A1", &xlsxHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := 2
	for _, q := range questions {
		avg := any("")
		if q.AvgDifficulty != nil {
			avg = *q.AvgDifficulty
		}
		base := []any{q.ID, q.Text, q.Type, avg}

		if len(q.Answers) == 0 {
			if err := setRow(f, row, base); err != nil {
				return err
			}
			row++
			continue
		}
		for _, a := range q.Answers {
			cells := append(append([]any{}, base...),
				a.Text, a.Difficulty, model.DifficultyLabel(a.Difficulty),
				a.CreatedAt.Format(time.RFC3339), a.Feedback)
			if err := setRow(f, row, cells); err != nil {
				return err
			}
			row++
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(exportSheet, cell, &cells); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}
