package feed

import (
	"errors"

	"ideadeck/api/internal/store"
)

var (
	// ErrNotActive is returned by Decide when the stack is empty or exhausted.
	ErrNotActive = errors.New("card stack is not active")
	// ErrQuotaExceeded is returned when the super-like budget is spent.
	// The rejected decision does not advance the stack or touch the budget.
	ErrQuotaExceeded = errors.New("super-like quota exceeded")
	// ErrUnknownDecision is returned for a decision outside pass/like/superlike.
	ErrUnknownDecision = errors.New("unknown decision")
)

// State describes where the stack is in its lifecycle. Empty and
// Exhausted are distinct so callers can show different messages.
type State int

const (
	StateActive State = iota
	StateExhausted
	StateEmpty
)

func (s State) String() string {
	switch s {
	case StateExhausted:
		return "exhausted"
	case StateEmpty:
		return "empty"
	default:
		return "active"
	}
}

// Budget tracks super-like usage for one feed session. It resets only
// when the session is rebuilt.
type Budget struct {
	Used int `json:"used"`
	Max  int `json:"max"`
}

// Mutator receives the like side effect of a Like or SuperLike decision.
// The stack fires it and advances without waiting; like-state rollback on
// failure is the coordinator's job, navigation is never undone.
type Mutator interface {
	ToggleLike(post store.Post)
}

// VisibleWindow is how many cards the client renders at once. Only the
// top card is interactive.
const VisibleWindow = 3

// Stack owns the ordered card queue, the current index, and the
// super-like budget for one feed session. The queue is immutable once
// built; new posts require a new session. Stack is not safe for
// concurrent use; the owning session serializes access.
type Stack struct {
	queue   []store.Post
	index   int
	budget  Budget
	mutator Mutator
}

// NewStack builds a stack over queue, ordered as supplied. mutator may
// be nil, in which case Like decisions advance with no remote effect.
func NewStack(queue []store.Post, maxSuperLikes int, mutator Mutator) *Stack {
	return &Stack{
		queue:   queue,
		budget:  Budget{Max: maxSuperLikes},
		mutator: mutator,
	}
}

func (s *Stack) State() State {
	if len(s.queue) == 0 {
		return StateEmpty
	}
	if s.index >= len(s.queue) {
		return StateExhausted
	}
	return StateActive
}

func (s *Stack) Index() int { return s.index }

func (s *Stack) Len() int { return len(s.queue) }

func (s *Stack) Budget() Budget { return s.budget }

// Top returns the interactive card.
func (s *Stack) Top() (store.Post, bool) {
	if s.State() != StateActive {
		return store.Post{}, false
	}
	return s.queue[s.index], true
}

// Visible returns the rendered window, top card first.
func (s *Stack) Visible() []store.Post {
	if s.State() != StateActive {
		return nil
	}
	end := s.index + VisibleWindow
	if end > len(s.queue) {
		end = len(s.queue)
	}
	window := make([]store.Post, end-s.index)
	copy(window, s.queue[s.index:end])
	return window
}

// Decide applies a decision to the top card and advances the index. Pass
// has no remote effect. Like fires the mutator and advances regardless
// of its outcome. SuperLike checks and increments the budget first; a
// rejected super-like changes nothing. Returns the card decided on.
func (s *Stack) Decide(decision Decision) (store.Post, error) {
	if s.State() != StateActive {
		return store.Post{}, ErrNotActive
	}
	card := s.queue[s.index]

	switch decision {
	case DecisionPass:
	case DecisionLike:
		if s.mutator != nil {
			s.mutator.ToggleLike(card)
		}
	case DecisionSuperLike:
		if s.budget.Used >= s.budget.Max {
			return store.Post{}, ErrQuotaExceeded
		}
		s.budget.Used++
		if s.mutator != nil {
			s.mutator.ToggleLike(card)
		}
	default:
		return store.Post{}, ErrUnknownDecision
	}

	s.index++
	return card, nil
}

// Swipe resolves a finished drag and feeds it into Decide. A gesture
// below both thresholds snaps back: DecisionNone, no error, no change.
func (s *Stack) Swipe(offsetX, velocityX float64) (Decision, store.Post, error) {
	decision := Resolve(offsetX, velocityX)
	if decision == DecisionNone {
		return DecisionNone, store.Post{}, nil
	}
	card, err := s.Decide(decision)
	if err != nil {
		return decision, store.Post{}, err
	}
	return decision, card, nil
}
