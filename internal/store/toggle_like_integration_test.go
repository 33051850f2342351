package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"ideadeck/api/internal/util"
)

// TestTogglePostLikeRoundTrip exercises the full toggle cycle against a real
// database: like, unlike, and the analytics counter staying in step.
func TestTogglePostLikeRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	dsn := strings.TrimSpace(os.Getenv("IDEADECK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("IDEADECK_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	pg := NewPostgresStore(db)

	user := User{
		ID:          util.NewID("usr"),
		DisplayName: "Toggle Tester",
		Email:       util.NewID("toggle") + "@example.com",
	}
	if err := pg.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	post := Post{
		ID:       util.NewID("post"),
		UserID:   user.ID,
		Title:    "Solar balcony kit",
		Content:  "Plug-in panels for renters.",
		IdeaType: IdeaTypeConcept,
		Tags:     []string{"energy"},
	}
	if err := pg.InsertPost(ctx, post); err != nil {
		t.Fatalf("insert post: %v", err)
	}

	action, likes, err := pg.TogglePostLike(ctx, post.ID, user.ID)
	if err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if action != LikeActionLiked || likes != 1 {
		t.Fatalf("first toggle = (%s, %d), want (liked, 1)", action, likes)
	}

	liked, err := pg.IsPostLiked(ctx, post.ID, user.ID)
	if err != nil {
		t.Fatalf("is liked: %v", err)
	}
	if !liked {
		t.Fatal("expected post to be liked")
	}

	action, likes, err = pg.TogglePostLike(ctx, post.ID, user.ID)
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if action != LikeActionUnliked || likes != 0 {
		t.Fatalf("second toggle = (%s, %d), want (unliked, 0)", action, likes)
	}

	saved, err := pg.ListLikedPosts(ctx, user.ID)
	if err != nil {
		t.Fatalf("list liked: %v", err)
	}
	if len(saved) != 0 {
		t.Fatalf("expected empty liked list after unlike, got %d", len(saved))
	}
}
