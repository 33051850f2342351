// Package thread shapes flat comment records into the two-level
// parent/reply structure the discussion view renders.
package thread

import (
	"errors"
	"sort"

	"ideadeck/api/internal/store"
)

// ErrReplyDepth is returned when a reply targets a comment that is
// itself a reply. Threads are exactly one level deep.
var ErrReplyDepth = errors.New("replies cannot be nested")

// Tree is a two-level comment thread. TopLevel is ordered oldest first,
// as are the replies under each parent. Orphans holds comments whose
// parent is missing or is itself a reply; they are excluded from the
// tree so malformed data cannot distort the thread, and returned so the
// caller can log them.
type Tree struct {
	TopLevel []store.Comment
	Replies  map[string][]store.Comment
	Orphans  []store.Comment
}

// BuildTree partitions comments by parent and orders both levels by
// created_at (ties broken by id for stability). Input order is
// irrelevant.
func BuildTree(comments []store.Comment) Tree {
	tree := Tree{Replies: make(map[string][]store.Comment)}

	topLevel := make(map[string]bool, len(comments))
	for _, c := range comments {
		if c.ParentCommentID == nil {
			topLevel[c.ID] = true
			tree.TopLevel = append(tree.TopLevel, c)
		}
	}

	for _, c := range comments {
		if c.ParentCommentID == nil {
			continue
		}
		parent := *c.ParentCommentID
		if !topLevel[parent] {
			tree.Orphans = append(tree.Orphans, c)
			continue
		}
		tree.Replies[parent] = append(tree.Replies[parent], c)
	}

	sortComments(tree.TopLevel)
	for _, replies := range tree.Replies {
		sortComments(replies)
	}
	return tree
}

func sortComments(comments []store.Comment) {
	sort.Slice(comments, func(i, j int) bool {
		if comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].ID < comments[j].ID
		}
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
}

// CanReply reports whether a user may reply to a comment: the post
// owner and the comment's author may; anyone else may not.
func CanReply(userID string, post store.Post, comment store.Comment) bool {
	if userID == "" {
		return false
	}
	return userID == post.UserID || userID == comment.UserID
}

// ValidateParent checks that a prospective reply targets a top-level
// comment on the same post. It enforces server-side what the original
// client only enforced by never offering the control.
func ValidateParent(parent store.Comment, postID string) error {
	if parent.PostID != postID {
		return errors.New("parent comment belongs to a different post")
	}
	if parent.ParentCommentID != nil {
		return ErrReplyDepth
	}
	return nil
}
