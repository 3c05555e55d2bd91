package practice

import (
	"math/rand/v2"
	"slices"

	"github.com/opictutor/opictutor/internal/model"
)

// Draft is the unsubmitted input for one slot of a practice round.
type Draft struct {
	Text       string
	Difficulty int
}

type slot struct {
	questionID int64
	position   int
}

// Shuffler permutes questions in place.
type Shuffler func([]model.Question)

func randomShuffle(qs []model.Question) {
	rand.Shuffle(len(qs), func(i, j int) {
		qs[i], qs[j] = qs[j], qs[i]
	})
}

// Session is the traversal state of one practice round: the ordered
// working set, a cursor into it and per-slot drafts. It is not safe for
// concurrent use; callers serialize access per session.
type Session struct {
	shuffle  bool
	shuffler Shuffler

	order []model.Question
	index int

	ordered        bool
	orderedShuffle bool
	orderedCount   int

	drafts map[slot]Draft
}

type Option func(*Session)

// WithShuffler replaces the random permutation used when shuffling.
func WithShuffler(fn Shuffler) Option {
	return func(s *Session) { s.shuffler = fn }
}

func NewSession(shuffle bool, opts ...Option) *Session {
	s := &Session{
		shuffle:  shuffle,
		shuffler: randomShuffle,
		drafts:   make(map[slot]Draft),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Shuffle() bool { return s.shuffle }

// SetShuffle changes the shuffle preference. The order is rebuilt on the
// next Sync.
func (s *Session) SetShuffle(on bool) { s.shuffle = on }

// Sync adopts a freshly filtered working set. The order is rebuilt and the
// cursor reset only when the shuffle preference changed or the set size
// differs from the one the current order was built from.
func (s *Session) Sync(filtered []model.Question) {
	if s.ordered && s.orderedShuffle == s.shuffle && s.orderedCount == len(filtered) {
		return
	}
	s.reorder(filtered)
}

// Restart rebuilds the order from filtered and moves the cursor to the start.
func (s *Session) Restart(filtered []model.Question) {
	s.reorder(filtered)
}

func (s *Session) reorder(filtered []model.Question) {
	order := slices.Clone(filtered)
	if s.shuffle {
		s.shuffler(order)
	}
	s.order = order
	s.index = 0
	s.ordered = true
	s.orderedShuffle = s.shuffle
	s.orderedCount = len(filtered)
}

// Current returns the question under the cursor and its position.
// ok is false when the round is complete or empty.
func (s *Session) Current() (q model.Question, position int, ok bool) {
	if s.index >= len(s.order) {
		return model.Question{}, s.index, false
	}
	return s.order[s.index], s.index, true
}

// Advance moves past the current question and discards its draft.
func (s *Session) Advance() {
	if s.index >= len(s.order) {
		return
	}
	delete(s.drafts, slot{s.order[s.index].ID, s.index})
	s.index++
}

// Complete reports whether the cursor has moved past the last question.
func (s *Session) Complete() bool {
	return s.ordered && len(s.order) > 0 && s.index >= len(s.order)
}

func (s *Session) Len() int { return len(s.order) }

// Order returns a copy of the current ordering.
func (s *Session) Order() []model.Question { return slices.Clone(s.order) }

// Draft returns the saved input for a slot, defaulting to an empty text and
// the middle difficulty.
func (s *Session) Draft(questionID int64, position int) Draft {
	if d, ok := s.drafts[slot{questionID, position}]; ok {
		return d
	}
	return Draft{Difficulty: model.DefaultDifficulty}
}

// SetDraft remembers unsubmitted input for a slot. An out-of-range
// difficulty is replaced by the default.
func (s *Session) SetDraft(questionID int64, position int, d Draft) {
	if !model.ValidDifficulty(d.Difficulty) {
		d.Difficulty = model.DefaultDifficulty
	}
	s.drafts[slot{questionID, position}] = d
}
