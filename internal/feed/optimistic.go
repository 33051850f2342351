package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ideadeck/api/internal/store"
)

// ErrBusy is returned when a mutation is requested for a key that
// already has one in flight. The duplicate is dropped; the original
// proceeds.
var ErrBusy = errors.New("mutation already in flight")

// EditStatus tags the lifecycle of an optimistic edit.
type EditStatus int

const (
	EditPending EditStatus = iota
	EditCommitted
	EditRolledBack
)

func (s EditStatus) String() string {
	switch s {
	case EditCommitted:
		return "committed"
	case EditRolledBack:
		return "rolled_back"
	default:
		return "pending"
	}
}

// PostView is the per-viewer like state for one post.
type PostView struct {
	Liked bool `json:"liked"`
	Likes int  `json:"likes"`
}

// Edit records one optimistic mutation: the state applied ahead of the
// remote call and the state to restore if it fails.
type Edit struct {
	Applied    PostView
	RollbackTo PostView
	Status     EditStatus
}

// LikeKey is the mutation key for toggling a like on a post.
func LikeKey(postID string) string { return "like:" + postID }

// CommentKey is the mutation key for adding a comment to a post.
func CommentKey(postID string) string { return "comment:" + postID }

// LikeRemote performs the authoritative like toggle and returns the
// action taken plus the server's like count.
type LikeRemote func(ctx context.Context) (action string, likes int, err error)

// Coordinator applies mutations optimistically and reconciles them with
// server truth. It serializes per mutation key: a second request for a
// key with a pending edit fails with ErrBusy, while different keys run
// concurrently. Reconciliation is keyed by entity id, so a slow remote
// response lands on the right post no matter where the stack has
// navigated to in the meantime.
type Coordinator struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	views    map[string]PostView
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		inflight: make(map[string]struct{}),
		views:    make(map[string]PostView),
	}
}

// Prime seeds the viewer's like state for a post from server data.
func (c *Coordinator) Prime(post store.Post, liked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[post.ID] = PostView{Liked: liked, Likes: post.Analytics.Likes}
}

// View returns the current like state for a post.
func (c *Coordinator) View(postID string) (PostView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	view, ok := c.views[postID]
	return view, ok
}

// Idle reports whether no mutation is currently in flight.
func (c *Coordinator) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight) == 0
}

// ToggleLike flips the viewer's like state optimistically, issues the
// remote call, and reconciles: on success the server's action and count
// replace the optimistic guess; on failure the previous state is
// restored and the error surfaced. The returned Edit carries the final
// status.
func (c *Coordinator) ToggleLike(ctx context.Context, postID string, remote LikeRemote) (Edit, error) {
	key := LikeKey(postID)

	c.mu.Lock()
	if _, pending := c.inflight[key]; pending {
		c.mu.Unlock()
		return Edit{}, ErrBusy
	}
	before := c.views[postID]
	applied := PostView{Liked: !before.Liked}
	if applied.Liked {
		applied.Likes = before.Likes + 1
	} else if before.Likes > 0 {
		applied.Likes = before.Likes - 1
	}
	c.views[postID] = applied
	c.inflight[key] = struct{}{}
	c.mu.Unlock()

	edit := Edit{Applied: applied, RollbackTo: before, Status: EditPending}

	// Remote call runs outside the lock so other keys are free.
	action, likes, err := remote(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, key)

	if err != nil {
		c.views[postID] = before
		edit.Status = EditRolledBack
		return edit, fmt.Errorf("toggle like %s: %w", postID, err)
	}

	// The optimistic counter is never final truth; adopt the server's.
	reconciled := PostView{Liked: action == store.LikeActionLiked, Likes: likes}
	c.views[postID] = reconciled
	edit.Applied = reconciled
	edit.Status = EditCommitted
	return edit, nil
}

// Run serializes an arbitrary mutation under a key, with the same Busy
// semantics as ToggleLike but no view bookkeeping. Used for mutations
// whose optimistic state lives elsewhere, like posting a comment.
func (c *Coordinator) Run(ctx context.Context, key string, op func(context.Context) error) error {
	c.mu.Lock()
	if _, pending := c.inflight[key]; pending {
		c.mu.Unlock()
		return ErrBusy
	}
	c.inflight[key] = struct{}{}
	c.mu.Unlock()

	err := op(ctx)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	return err
}
