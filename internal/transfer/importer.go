// Package transfer moves questions into the database from JSON, CSV or
// Excel files and writes the answer history back out.
package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jinzhu/copier"
	"github.com/xuri/excelize/v2"

	"github.com/opictutor/opictutor/internal/model"
)

// ImportRepository is the storage an import writes to.
type ImportRepository interface {
	ListQuestions(ctx context.Context) ([]model.Question, error)
	AddQuestion(ctx context.Context, text, qtype string) (int64, error)
	GetImportedFileHash(ctx context.Context, path string) (string, error)
	SetImportedFileHash(ctx context.Context, path, hash string) error
}

// ImportResult holds the outcome of an import.
type ImportResult struct {
	Processed       int
	Created         int
	Skipped         int
	AlreadyImported bool
	Errors          []string
}

// ErrUnsupportedFormat is returned for file extensions other than
// .json, .csv and .xlsx.
var ErrUnsupportedFormat = errors.New("unsupported import format")

// sourceRow is one question as read from a file, before validation.
type sourceRow struct {
	Text string
	Type string
	Line int
}

// ImportFile reads questions from path and adds the ones not already
// present (compared by trimmed, case-insensitive text). A file whose
// content hash matches the previous import of the same path is skipped
// unless force is set.
func ImportFile(ctx context.Context, repo ImportRepository, path string, force bool) (*ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	key, err := filepath.Abs(path)
	if err != nil {
		key = path
	}
	return ImportData(ctx, repo, key, data, force)
}

// ImportData imports questions from data. The format follows the
// extension of name, which also keys the unchanged-file check.
func ImportData(ctx context.Context, repo ImportRepository, name string, data []byte, force bool) (*ImportResult, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if !force {
		prev, err := repo.GetImportedFileHash(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("check previous import: %w", err)
		}
		if prev == hash {
			slog.Info("file unchanged since last import, skipping", "name", name)
			return &ImportResult{AlreadyImported: true}, nil
		}
	}

	rows, err := parse(filepath.Ext(name), data)
	if err != nil {
		return nil, err
	}

	result, err := importRows(ctx, repo, rows)
	if err != nil {
		return nil, err
	}
	if err := repo.SetImportedFileHash(ctx, name, hash); err != nil {
		return nil, fmt.Errorf("record import: %w", err)
	}
	slog.Info("imported questions", "name", name,
		"processed", result.Processed, "created", result.Created, "skipped", result.Skipped)
	return result, nil
}

func parse(ext string, data []byte) ([]sourceRow, error) {
	switch strings.ToLower(ext) {
	case ".json":
		return parseJSON(data)
	case ".csv":
		return parseCSV(data)
	case ".xlsx":
		return parseXLSX(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func parseJSON(data []byte) ([]sourceRow, error) {
	var items []model.QuestionImport
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	rows := make([]sourceRow, 0, len(items))
	for i, item := range items {
		var row sourceRow
		if err := copier.Copy(&row, &item); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		row.Line = i + 1
		rows = append(rows, row)
	}
	return rows, nil
}

func parseCSV(data []byte) ([]sourceRow, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var records [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV: %w", err)
		}
		records = append(records, rec)
	}
	return fromTable(records), nil
}

func parseXLSX(data []byte) ([]sourceRow, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("Excel file has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows: %w", err)
	}
	return fromTable(records), nil
}

// fromTable turns rows of [question, type] cells into source rows. A first
// row whose first cell is "question" is treated as a header.
func fromTable(records [][]string) []sourceRow {
	var rows []sourceRow
	for i, rec := range records {
		if len(rec) == 0 {
			continue
		}
		if i == 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "question") {
			continue
		}
		row := sourceRow{Text: rec[0], Line: i + 1}
		if len(rec) > 1 {
			row.Type = rec[1]
		}
		rows = append(rows, row)
	}
	return rows
}

func importRows(ctx context.Context, repo ImportRepository, rows []sourceRow) (*ImportResult, error) {
	existing, err := repo.ListQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, q := range existing {
		seen[normalize(q.Text)] = true
	}

	result := &ImportResult{Errors: make([]string, 0)}
	for _, row := range rows {
		result.Processed++
		key := normalize(row.Text)
		if key == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: empty question", row.Line))
			continue
		}
		if seen[key] {
			result.Skipped++
			continue
		}

		var item model.QuestionImport
		if err := copier.Copy(&item, &row); err != nil {
			return nil, fmt.Errorf("row %d: %w", row.Line, err)
		}
		if _, err := repo.AddQuestion(ctx, item.Text, item.Type); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", row.Line, err))
			continue
		}
		seen[key] = true
		result.Created++
	}
	return result, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
