package thread

import (
	"errors"
	"testing"
	"time"

	"ideadeck/api/internal/store"
)

func comment(id, postID, userID string, parent *string, at time.Time) store.Comment {
	return store.Comment{
		ID:              id,
		PostID:          postID,
		UserID:          userID,
		Content:         "text " + id,
		ParentCommentID: parent,
		CreatedAt:       at,
	}
}

func ptr(s string) *string { return &s }

func TestBuildTreeFromArbitraryOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := comment("cmt-a", "post-1", "usr-1", nil, base)
	b := comment("cmt-b", "post-1", "usr-2", nil, base.Add(time.Minute))
	r1 := comment("cmt-r1", "post-1", "usr-3", ptr("cmt-a"), base.Add(2*time.Minute))
	r2 := comment("cmt-r2", "post-1", "usr-1", ptr("cmt-a"), base.Add(3*time.Minute))
	r3 := comment("cmt-r3", "post-1", "usr-2", ptr("cmt-b"), base.Add(4*time.Minute))

	// Deliberately shuffled: replies before parents, newest first.
	tree := BuildTree([]store.Comment{r3, r1, b, r2, a})

	if len(tree.TopLevel) != 2 || tree.TopLevel[0].ID != "cmt-a" || tree.TopLevel[1].ID != "cmt-b" {
		t.Fatalf("top level = %v", ids(tree.TopLevel))
	}
	if got := ids(tree.Replies["cmt-a"]); len(got) != 2 || got[0] != "cmt-r1" || got[1] != "cmt-r2" {
		t.Fatalf("replies of A = %v", got)
	}
	if got := ids(tree.Replies["cmt-b"]); len(got) != 1 || got[0] != "cmt-r3" {
		t.Fatalf("replies of B = %v", got)
	}
	if len(tree.Orphans) != 0 {
		t.Fatalf("unexpected orphans: %v", ids(tree.Orphans))
	}
}

func TestBuildTreeExcludesReplyToReply(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := comment("cmt-a", "post-1", "usr-1", nil, base)
	r1 := comment("cmt-r1", "post-1", "usr-2", ptr("cmt-a"), base.Add(time.Minute))
	nested := comment("cmt-x", "post-1", "usr-3", ptr("cmt-r1"), base.Add(2*time.Minute))

	tree := BuildTree([]store.Comment{a, r1, nested})

	if got := ids(tree.Replies["cmt-a"]); len(got) != 1 || got[0] != "cmt-r1" {
		t.Fatalf("replies of A = %v", got)
	}
	if len(tree.Replies["cmt-r1"]) != 0 {
		t.Fatal("a reply must not collect replies of its own")
	}
	if len(tree.Orphans) != 1 || tree.Orphans[0].ID != "cmt-x" {
		t.Fatalf("orphans = %v, want [cmt-x]", ids(tree.Orphans))
	}
}

func TestBuildTreeExcludesMissingParent(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := comment("cmt-a", "post-1", "usr-1", nil, base)
	dangling := comment("cmt-d", "post-1", "usr-2", ptr("cmt-gone"), base.Add(time.Minute))

	tree := BuildTree([]store.Comment{a, dangling})

	if len(tree.TopLevel) != 1 {
		t.Fatalf("top level = %v", ids(tree.TopLevel))
	}
	if len(tree.Orphans) != 1 || tree.Orphans[0].ID != "cmt-d" {
		t.Fatalf("orphans = %v, want [cmt-d]", ids(tree.Orphans))
	}
}

func TestBuildTreeStableOrderOnEqualTimestamps(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c1 := comment("cmt-1", "post-1", "usr-1", nil, at)
	c2 := comment("cmt-2", "post-1", "usr-2", nil, at)

	tree := BuildTree([]store.Comment{c2, c1})
	if tree.TopLevel[0].ID != "cmt-1" || tree.TopLevel[1].ID != "cmt-2" {
		t.Fatalf("top level = %v, want id order on tie", ids(tree.TopLevel))
	}
}

func TestCanReply(t *testing.T) {
	post := store.Post{ID: "post-1", UserID: "usr-owner"}
	cmt := store.Comment{ID: "cmt-a", PostID: "post-1", UserID: "usr-author"}

	if !CanReply("usr-owner", post, cmt) {
		t.Error("post owner should be able to reply")
	}
	if !CanReply("usr-author", post, cmt) {
		t.Error("comment author should be able to reply")
	}
	if CanReply("usr-other", post, cmt) {
		t.Error("unrelated user should not be able to reply")
	}
	if CanReply("", post, cmt) {
		t.Error("anonymous user should not be able to reply")
	}
}

func TestValidateParent(t *testing.T) {
	top := store.Comment{ID: "cmt-a", PostID: "post-1"}
	if err := ValidateParent(top, "post-1"); err != nil {
		t.Fatalf("top-level parent: %v", err)
	}

	reply := store.Comment{ID: "cmt-r", PostID: "post-1", ParentCommentID: ptr("cmt-a")}
	if err := ValidateParent(reply, "post-1"); !errors.Is(err, ErrReplyDepth) {
		t.Fatalf("reply parent = %v, want ErrReplyDepth", err)
	}

	if err := ValidateParent(top, "post-2"); err == nil {
		t.Fatal("cross-post parent should be rejected")
	}
}

func ids(comments []store.Comment) []string {
	out := make([]string, len(comments))
	for i, c := range comments {
		out[i] = c.ID
	}
	return out
}
