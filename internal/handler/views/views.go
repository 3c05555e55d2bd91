// Package views holds the templ components for every page and the small
// helpers they share.
package views

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/opictutor/opictutor/internal/catalog"
	appI18n "github.com/opictutor/opictutor/internal/i18n"
	"github.com/opictutor/opictutor/internal/model"
	"github.com/opictutor/opictutor/internal/practice"
)

// Notice is a one-line status message shown above the page content.
type Notice struct {
	Kind string // info, warn, error or success
	Text string
}

// Layout carries the fields every page shares.
type Layout struct {
	Lang       string
	Title      string
	ShowLogout bool
	Notice     *Notice
}

type PracticeData struct {
	Layout
	View        practice.View
	Advice      string
	AdviceError string
}

func (d PracticeData) NoQuestions() bool { return d.View.Status == practice.StatusNoQuestions }
func (d PracticeData) AllAtMax() bool    { return d.View.Status == practice.StatusAllAtMax }
func (d PracticeData) Active() bool      { return d.View.Status == practice.StatusActive }

type QuestionsData struct {
	Layout
	Stats       []model.QuestionStats
	Sort        catalog.Sort
	AddOpen     bool
	NewQuestion string
	NewType     string
}

type DetailData struct {
	Layout
	Detail *model.QuestionDetail
}

// ColumnHeader is a sortable column of the question table.
type ColumnHeader struct {
	Column catalog.Column
	Label  string
}

var columns = []ColumnHeader{
	{catalog.ColumnID, "ColQuestion"},
	{catalog.ColumnType, "ColType"},
	{catalog.ColumnAnswers, "ColAnswers"},
	{catalog.ColumnDifficulty, "ColDifficulty"},
}

// DifficultyText is the localized label of a difficulty level.
func DifficultyText(ctx context.Context, level int) string {
	if !model.ValidDifficulty(level) {
		level = model.DefaultDifficulty
	}
	return appI18n.T(ctx, fmt.Sprintf("Difficulty%d", level))
}

var (
	markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))
	htmlPolicy       = bluemonday.UGCPolicy()
)

// RenderMarkdown converts model output to sanitized HTML. Raw HTML in the
// source is dropped.
func RenderMarkdown(src string) string {
	var buf bytes.Buffer
	if err := markdownRenderer.Convert([]byte(src), &buf); err != nil {
		return "<p>" + html.EscapeString(src) + "</p>"
	}
	return htmlPolicy.Sanitize(buf.String())
}

func markdown(src string) templ.Component {
	return templ.Raw(RenderMarkdown(src))
}

func t(ctx context.Context, id string) string { return appI18n.T(ctx, id) }

func td(ctx context.Context, id string, data map[string]any) string {
	return appI18n.Td(ctx, id, data)
}

func tp(ctx context.Context, id string, n int) string { return appI18n.Tp(ctx, id, n) }

func path(ctx context.Context, p string) templ.SafeURL {
	return templ.URL(model.BasePathFromContext(ctx) + p)
}

func csrf(ctx context.Context) string { return model.CSRFTokenFromContext(ctx) }

func itoa[T ~int | ~int64](n T) string { return strconv.FormatInt(int64(n), 10) }

func avg(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *v)
}

func averageLabel(ctx context.Context, v *float64) string {
	if v == nil {
		return ""
	}
	return DifficultyText(ctx, int(*v))
}

func when(tm time.Time) string { return tm.Local().Format("2006-01-02 15:04:05") }

func difficulties() []int {
	out := make([]int, 0, model.MaxDifficulty)
	for d := model.MinDifficulty; d <= model.MaxDifficulty; d++ {
		out = append(out, d)
	}
	return out
}
