// Package catalog holds the view state of the question management page:
// the column sort toggle and the list/detail selection.
package catalog

import (
	"cmp"
	"slices"

	"github.com/opictutor/opictutor/internal/model"
)

type Column string

const (
	ColumnID         Column = "id"
	ColumnType       Column = "type"
	ColumnAnswers    Column = "answers"
	ColumnDifficulty Column = "difficulty"
)

// ParseColumn maps a column name to a Column; ok is false for unknown names.
func ParseColumn(s string) (Column, bool) {
	switch c := Column(s); c {
	case ColumnID, ColumnType, ColumnAnswers, ColumnDifficulty:
		return c, true
	}
	return "", false
}

type Order int

const (
	OrderNone Order = iota
	OrderAsc
	OrderDesc
)

// Indicator is the arrow shown next to a sorted column header.
func (o Order) Indicator() string {
	switch o {
	case OrderAsc:
		return "↑"
	case OrderDesc:
		return "↓"
	}
	return ""
}

// Sort is a single-column sort. The zero value is the id column, unsorted.
type Sort struct {
	Column Column
	Order  Order
}

func (s Sort) column() Column {
	if s.Column == "" {
		return ColumnID
	}
	return s.Column
}

// Toggle cycles none -> asc -> desc -> none on the current column and
// starts at ascending when a different column is chosen.
func (s *Sort) Toggle(c Column) {
	if c != s.column() {
		s.Column = c
		s.Order = OrderAsc
		return
	}
	s.Column = c
	switch s.Order {
	case OrderNone:
		s.Order = OrderAsc
	case OrderAsc:
		s.Order = OrderDesc
	default:
		s.Order = OrderNone
	}
}

// IndicatorFor returns the arrow for column c, or "" if c is not sorted.
func (s Sort) IndicatorFor(c Column) string {
	if s.column() != c {
		return ""
	}
	return s.Order.Indicator()
}

// Apply returns a sorted copy of stats. With OrderNone the input order is
// kept. Missing averages sort as -1. Ties keep their input order.
func (s Sort) Apply(stats []model.QuestionStats) []model.QuestionStats {
	out := slices.Clone(stats)
	if s.Order == OrderNone {
		return out
	}

	var compare func(a, b model.QuestionStats) int
	switch s.column() {
	case ColumnAnswers:
		compare = func(a, b model.QuestionStats) int { return cmp.Compare(a.AnswerCount, b.AnswerCount) }
	case ColumnDifficulty:
		compare = func(a, b model.QuestionStats) int { return cmp.Compare(avgKey(a), avgKey(b)) }
	default:
		// The type column has no ordering of its own and sorts by id.
		compare = func(a, b model.QuestionStats) int { return cmp.Compare(a.ID, b.ID) }
	}
	if s.Order == OrderDesc {
		asc := compare
		compare = func(a, b model.QuestionStats) int { return asc(b, a) }
	}
	slices.SortStableFunc(out, compare)
	return out
}

func avgKey(q model.QuestionStats) float64 {
	if q.AvgDifficulty == nil {
		return -1
	}
	return *q.AvgDifficulty
}

// View is the list/detail toggle of the management page.
type View struct {
	Sort     Sort
	selected int64
}

// Select switches to the detail of question id.
func (v *View) Select(id int64) { v.selected = id }

// Back returns to the list.
func (v *View) Back() { v.selected = 0 }

// Selected returns the question shown in detail mode; ok is false in list mode.
func (v *View) Selected() (id int64, ok bool) {
	return v.selected, v.selected != 0
}
