package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Analytics holds the per-post counters. They are adjusted server-side only;
// the optimistic like counter in a feed session is never written back as-is.
type Analytics struct {
	Views  int
	Likes  int
	Shares int
}

// Post is immutable after creation except for its analytics counters and
// the image key set after a confirmed upload.
type Post struct {
	ID        string
	UserID    string
	Title     string
	Content   string
	IdeaType  string
	Tags      []string
	ImageKey  string
	Analytics Analytics
	CreatedAt time.Time
}

// Idea stages carried over from the original feed content.
const (
	IdeaTypeConcept = "concept"
	IdeaTypeMVP     = "mvp"
	IdeaTypeTesting = "testing"
	IdeaTypeScaling = "scaling"
)

// Comment is append-only. A nil ParentCommentID marks a top-level comment;
// a non-nil value must reference a top-level comment on the same post.
type Comment struct {
	ID              string
	PostID          string
	UserID          string
	Content         string
	ParentCommentID *string
	CreatedAt       time.Time
}

// Like toggle outcomes as reported by the store.
const (
	LikeActionLiked   = "liked"
	LikeActionUnliked = "unliked"
)
