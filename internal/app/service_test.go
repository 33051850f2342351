package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ideadeck/api/internal/authpw"
	"ideadeck/api/internal/config"
	"ideadeck/api/internal/export"
	"ideadeck/api/internal/feed"
	"ideadeck/api/internal/store"
)

type refreshRecord struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

type resetRecord struct {
	userID    string
	expiresAt time.Time
	used      bool
}

// fakeStore is an in-memory stand-in for the Postgres store. It keeps just
// enough state for the feed, like, and comment flows to behave like the
// real thing.
type fakeStore struct {
	mu       sync.Mutex
	seq      int
	users    map[string]store.User
	posts    map[string]store.Post
	likes    map[string]map[string]bool
	comments map[string][]store.Comment
	refresh  map[string]refreshRecord
	resets   map[string]resetRecord
	revoked  map[string]bool

	togglePostLikeFn func(ctx context.Context, postID, userID string) (string, int, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]store.User),
		posts:    make(map[string]store.Post),
		likes:    make(map[string]map[string]bool),
		comments: make(map[string][]store.Comment),
		refresh:  make(map[string]refreshRecord),
		resets:   make(map[string]resetRecord),
		revoked:  make(map[string]bool),
	}
}

func (f *fakeStore) nextTime() time.Time {
	f.seq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(f.seq) * time.Second)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == strings.ToLower(user.Email) {
			return errors.New("duplicate email")
		}
	}
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt = f.nextTime()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == strings.ToLower(email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	f.users[userID] = user
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, user := range f.users {
		if user.VerificationToken == token && token != "" {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.users[id] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = resetRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.resets[token]
	if !ok || rec.used || time.Now().After(rec.expiresAt) {
		return "", sql.ErrNoRows
	}
	return rec.userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.resets[token]
	if !ok {
		return sql.ErrNoRows
	}
	rec.used = true
	f.resets[token] = rec
	return nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = refreshRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.refresh[tokenHash]
	if !ok || rec.revoked || time.Now().After(rec.expiresAt) {
		return store.User{}, sql.ErrNoRows
	}
	return f.users[rec.userID], nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.refresh[tokenHash]
	if ok {
		rec.revoked = true
		f.refresh[tokenHash] = rec
	}
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) InsertPost(_ context.Context, post store.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	post.CreatedAt = f.nextTime()
	f.posts[post.ID] = post
	return nil
}

func (f *fakeStore) GetPost(_ context.Context, postID string) (store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[postID]
	if !ok {
		return store.Post{}, sql.ErrNoRows
	}
	return post, nil
}

func (f *fakeStore) ListPosts(context.Context) ([]store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	posts := make([]store.Post, 0, len(f.posts))
	for _, post := range f.posts {
		posts = append(posts, post)
	}
	// newest first, like the real query
	for i := 0; i < len(posts); i++ {
		for j := i + 1; j < len(posts); j++ {
			if posts[j].CreatedAt.After(posts[i].CreatedAt) {
				posts[i], posts[j] = posts[j], posts[i]
			}
		}
	}
	return posts, nil
}

func (f *fakeStore) DeletePost(_ context.Context, postID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.posts[postID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.posts, postID)
	delete(f.likes, postID)
	delete(f.comments, postID)
	return nil
}

func (f *fakeStore) SetPostImage(_ context.Context, postID, imageKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[postID]
	if !ok {
		return sql.ErrNoRows
	}
	post.ImageKey = imageKey
	f.posts[postID] = post
	return nil
}

func (f *fakeStore) IncrementPostViews(_ context.Context, postID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[postID]
	if !ok {
		return sql.ErrNoRows
	}
	post.Analytics.Views++
	f.posts[postID] = post
	return nil
}

func (f *fakeStore) IncrementPostShares(_ context.Context, postID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[postID]
	if !ok {
		return sql.ErrNoRows
	}
	post.Analytics.Shares++
	f.posts[postID] = post
	return nil
}

func (f *fakeStore) PostCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts), nil
}

func (f *fakeStore) TogglePostLike(ctx context.Context, postID, userID string) (string, int, error) {
	if f.togglePostLikeFn != nil {
		return f.togglePostLikeFn(ctx, postID, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[postID]
	if !ok {
		return "", 0, sql.ErrNoRows
	}
	if f.likes[postID] == nil {
		f.likes[postID] = make(map[string]bool)
	}
	action := store.LikeActionLiked
	if f.likes[postID][userID] {
		delete(f.likes[postID], userID)
		if post.Analytics.Likes > 0 {
			post.Analytics.Likes--
		}
		action = store.LikeActionUnliked
	} else {
		f.likes[postID][userID] = true
		post.Analytics.Likes++
	}
	f.posts[postID] = post
	return action, post.Analytics.Likes, nil
}

func (f *fakeStore) IsPostLiked(_ context.Context, postID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.likes[postID][userID], nil
}

func (f *fakeStore) ListLikedPosts(_ context.Context, userID string) ([]store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var posts []store.Post
	for postID, likers := range f.likes {
		if likers[userID] {
			posts = append(posts, f.posts[postID])
		}
	}
	return posts, nil
}

func (f *fakeStore) InsertComment(_ context.Context, comment store.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment.CreatedAt = f.nextTime()
	f.comments[comment.PostID] = append(f.comments[comment.PostID], comment)
	return nil
}

func (f *fakeStore) GetComment(_ context.Context, postID, commentID string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, comment := range f.comments[postID] {
		if comment.ID == commentID {
			return comment, nil
		}
	}
	return store.Comment{}, sql.ErrNoRows
}

func (f *fakeStore) ListComments(_ context.Context, postID string) ([]store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Comment(nil), f.comments[postID]...), nil
}

func testConfig() config.Config {
	return config.Config{
		TokenSecret:    "test-secret",
		AccessTTL:      time.Hour,
		RefreshTTL:     24 * time.Hour,
		FeedSessionTTL: time.Hour,
		SuperLikeMax:   3,
	}
}

func newTestService(fs *fakeStore) *Service {
	svc := &Service{
		cfg:          testConfig(),
		store:        fs,
		sessions:     fs,
		authpw:       authpw.NewService(fs),
		feedTTL:      time.Hour,
		feedSessions: make(map[string]*feedSession),
		coordinators: make(map[string]*feed.Coordinator),
	}
	svc.export = export.NewService(&likedIdeasSource{service: svc})
	return svc
}

func seedUser(t *testing.T, fs *fakeStore, id, name, email string) store.User {
	t.Helper()
	user := store.User{ID: id, DisplayName: name, Email: email, IsEmailVerified: true}
	if err := fs.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func seedPost(t *testing.T, fs *fakeStore, id, userID, title string) store.Post {
	t.Helper()
	post := store.Post{ID: id, UserID: userID, Title: title, Content: title + " content", IdeaType: store.IdeaTypeConcept}
	if err := fs.InsertPost(context.Background(), post); err != nil {
		t.Fatalf("seed post: %v", err)
	}
	return post
}

func TestCreateSessionAndRefreshRotation(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	user := seedUser(t, fs, "usr_1", "Dana", "dana@example.com")

	session, err := svc.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.UserName != "Dana" || session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("unexpected session: %+v", session)
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if parsed.UserID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, parsed.UserID)
	}

	rotated, err := svc.Refresh(context.Background(), session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == session.RefreshToken {
		t.Fatal("expected refresh token to rotate")
	}

	// The old refresh token is single use.
	if _, err := svc.Refresh(context.Background(), session.RefreshToken); err == nil {
		t.Fatal("expected old refresh token to be rejected")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	user := seedUser(t, fs, "usr_1", "Dana", "dana@example.com")

	session, err := svc.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := svc.Logout(context.Background(), session, session.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), session.Token); err == nil {
		t.Fatal("expected revoked access token to be rejected")
	}
	if _, err := svc.Refresh(context.Background(), session.RefreshToken); err == nil {
		t.Fatal("expected revoked refresh token to be rejected")
	}
}

func TestCreatePostValidation(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	user := seedUser(t, fs, "usr_1", "Dana", "dana@example.com")
	session := Session{UserID: user.ID, UserName: user.DisplayName}

	if _, err := svc.CreatePost(context.Background(), session, "", "content", "", nil); err == nil {
		t.Fatal("expected missing title to be rejected")
	}
	if _, err := svc.CreatePost(context.Background(), session, "Title", "content", "galactic", nil); err == nil {
		t.Fatal("expected unknown idea type to be rejected")
	}

	payload, err := svc.CreatePost(context.Background(), session, "Solar Kiosk", "Pop-up charging stations.", "", []string{"Energy"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if payload.IdeaType != store.IdeaTypeConcept {
		t.Fatalf("expected default idea type concept, got %s", payload.IdeaType)
	}
	if payload.Author != "Dana" {
		t.Fatalf("expected author Dana, got %s", payload.Author)
	}
}

func TestDeletePostOwnerOnly(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	owner := seedUser(t, fs, "usr_owner", "Owner", "owner@example.com")
	other := seedUser(t, fs, "usr_other", "Other", "other@example.com")
	post := seedPost(t, fs, "post_1", owner.ID, "Solar Kiosk")

	err := svc.DeletePost(context.Background(), Session{UserID: other.ID}, post.ID)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403 for non-owner, got %v", err)
	}

	if err := svc.DeletePost(context.Background(), Session{UserID: owner.ID}, post.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if _, err := fs.GetPost(context.Background(), post.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatal("expected post to be gone")
	}
}

func TestBootstrapSeedsSampleIdeasOnce(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	count, _ := fs.PostCount(context.Background())
	if count != 4 {
		t.Fatalf("expected 4 seeded ideas, got %d", count)
	}

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	count, _ = fs.PostCount(context.Background())
	if count != 4 {
		t.Fatalf("expected bootstrap to be idempotent, got %d posts", count)
	}
}

func TestToggleLikeRollsBackOnStoreFailure(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	user := seedUser(t, fs, "usr_1", "Dana", "dana@example.com")
	seedPost(t, fs, "post_1", user.ID, "Solar Kiosk")

	fs.togglePostLikeFn = func(context.Context, string, string) (string, int, error) {
		return "", 0, errors.New("connection reset")
	}

	_, err := svc.ToggleLike(context.Background(), Session{UserID: user.ID}, "post_1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "UPSTREAM_ERROR" {
		t.Fatalf("expected UPSTREAM_ERROR, got %v", err)
	}

	// The optimistic flip must have been undone.
	coord := svc.coordinatorFor(user.ID)
	view, ok := coord.View("post_1")
	if !ok {
		t.Fatal("expected primed view")
	}
	if view.Liked || view.Likes != 0 {
		t.Fatalf("expected rollback to liked=false likes=0, got %+v", view)
	}
}
