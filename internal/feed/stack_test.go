package feed

import (
	"errors"
	"fmt"
	"testing"

	"ideadeck/api/internal/store"
)

type recordingMutator struct {
	toggled []string
}

func (m *recordingMutator) ToggleLike(post store.Post) {
	m.toggled = append(m.toggled, post.ID)
}

func makeQueue(n int) []store.Post {
	queue := make([]store.Post, n)
	for i := range queue {
		queue[i] = store.Post{ID: fmt.Sprintf("post-%d", i+1), Title: fmt.Sprintf("Idea %d", i+1)}
	}
	return queue
}

func TestPassThroughWholeQueueExhausts(t *testing.T) {
	const n = 5
	mutator := &recordingMutator{}
	stack := NewStack(makeQueue(n), 3, mutator)

	for i := 0; i < n; i++ {
		if _, err := stack.Decide(DecisionPass); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	if stack.State() != StateExhausted {
		t.Fatalf("state = %v, want exhausted", stack.State())
	}
	if stack.Index() != n {
		t.Fatalf("index = %d, want %d", stack.Index(), n)
	}

	// Further decisions do not advance.
	if _, err := stack.Decide(DecisionPass); !errors.Is(err, ErrNotActive) {
		t.Fatalf("decide on exhausted stack = %v, want ErrNotActive", err)
	}
	if stack.Index() != n {
		t.Fatalf("index moved after rejection: %d", stack.Index())
	}
	if len(mutator.toggled) != 0 {
		t.Fatalf("pass decisions fired %d mutations", len(mutator.toggled))
	}
}

func TestEmptyQueueIsDistinctFromExhausted(t *testing.T) {
	stack := NewStack(nil, 3, nil)
	if stack.State() != StateEmpty {
		t.Fatalf("state = %v, want empty", stack.State())
	}
	if _, err := stack.Decide(DecisionPass); !errors.Is(err, ErrNotActive) {
		t.Fatalf("decide on empty stack = %v, want ErrNotActive", err)
	}
	if stack.Visible() != nil {
		t.Fatal("empty stack should have no visible cards")
	}
}

func TestVisibleWindow(t *testing.T) {
	stack := NewStack(makeQueue(5), 3, nil)

	visible := stack.Visible()
	if len(visible) != 3 {
		t.Fatalf("visible = %d cards, want 3", len(visible))
	}
	if visible[0].ID != "post-1" || visible[2].ID != "post-3" {
		t.Fatalf("visible window = %v", visible)
	}

	// Near the end the window shrinks.
	for i := 0; i < 4; i++ {
		if _, err := stack.Decide(DecisionPass); err != nil {
			t.Fatalf("pass: %v", err)
		}
	}
	visible = stack.Visible()
	if len(visible) != 1 || visible[0].ID != "post-5" {
		t.Fatalf("visible near end = %v", visible)
	}
}

func TestSuperLikeQuota(t *testing.T) {
	mutator := &recordingMutator{}
	stack := NewStack(makeQueue(6), 3, mutator)

	for i := 0; i < 3; i++ {
		if _, err := stack.Decide(DecisionSuperLike); err != nil {
			t.Fatalf("super-like %d: %v", i+1, err)
		}
	}
	if used := stack.Budget().Used; used != 3 {
		t.Fatalf("used = %d, want 3", used)
	}

	indexBefore := stack.Index()
	_, err := stack.Decide(DecisionSuperLike)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("4th super-like = %v, want ErrQuotaExceeded", err)
	}
	if stack.Index() != indexBefore {
		t.Fatal("rejected super-like advanced the index")
	}
	if stack.Budget().Used != 3 {
		t.Fatal("rejected super-like consumed budget")
	}
	if len(mutator.toggled) != 3 {
		t.Fatalf("rejected super-like fired a mutation: %v", mutator.toggled)
	}

	// The same card is still on top and an ordinary like works.
	card, err := stack.Decide(DecisionLike)
	if err != nil {
		t.Fatalf("like after rejection: %v", err)
	}
	if card.ID != "post-4" {
		t.Fatalf("liked %s, want post-4", card.ID)
	}
}

func TestSwipeSnapBackChangesNothing(t *testing.T) {
	stack := NewStack(makeQueue(3), 3, nil)

	decision, _, err := stack.Swipe(40, 0.2)
	if err != nil {
		t.Fatalf("swipe: %v", err)
	}
	if decision != DecisionNone {
		t.Fatalf("decision = %v, want none", decision)
	}
	if stack.Index() != 0 {
		t.Fatal("snap-back advanced the index")
	}
}

func TestSwipeFeedsDecide(t *testing.T) {
	mutator := &recordingMutator{}
	stack := NewStack(makeQueue(3), 3, mutator)

	decision, card, err := stack.Swipe(180, 0)
	if err != nil {
		t.Fatalf("swipe right: %v", err)
	}
	if decision != DecisionLike || card.ID != "post-1" {
		t.Fatalf("swipe right = (%v, %s)", decision, card.ID)
	}

	decision, card, err = stack.Swipe(-30, -1.5)
	if err != nil {
		t.Fatalf("swipe left: %v", err)
	}
	if decision != DecisionPass || card.ID != "post-2" {
		t.Fatalf("swipe left = (%v, %s)", decision, card.ID)
	}

	if len(mutator.toggled) != 1 || mutator.toggled[0] != "post-1" {
		t.Fatalf("mutations = %v, want [post-1]", mutator.toggled)
	}
}

func TestLikePassSuperLikeScenario(t *testing.T) {
	mutator := &recordingMutator{}
	stack := NewStack(makeQueue(3), 3, mutator)

	if _, err := stack.Decide(DecisionLike); err != nil {
		t.Fatalf("like P1: %v", err)
	}
	if stack.Index() != 1 {
		t.Fatalf("index after like = %d, want 1", stack.Index())
	}

	if _, err := stack.Decide(DecisionSuperLike); err != nil {
		t.Fatalf("super-like P2: %v", err)
	}
	if stack.Index() != 2 || stack.Budget().Used != 1 {
		t.Fatalf("after super-like: index=%d used=%d", stack.Index(), stack.Budget().Used)
	}

	if _, err := stack.Decide(DecisionPass); err != nil {
		t.Fatalf("pass P3: %v", err)
	}

	if stack.State() != StateExhausted {
		t.Fatalf("state = %v, want exhausted", stack.State())
	}
	if stack.Budget().Used != 1 {
		t.Fatalf("final used = %d, want 1", stack.Budget().Used)
	}
	if len(stack.Visible()) != 0 {
		t.Fatalf("displayed card count = %d, want 0", len(stack.Visible()))
	}
	if len(mutator.toggled) != 2 {
		t.Fatalf("mutations = %v, want like for P1 and P2", mutator.toggled)
	}
}
