package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"ideadeck/api/internal/auth"
	"ideadeck/api/internal/authpw"
	"ideadeck/api/internal/config"
	"ideadeck/api/internal/email"
	"ideadeck/api/internal/export"
	"ideadeck/api/internal/feed"
	"ideadeck/api/internal/media"
	"ideadeck/api/internal/search"
	"ideadeck/api/internal/store"
	"ideadeck/api/internal/thread"
	"ideadeck/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the slice of the persistence layer the service needs.
type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	InsertPost(ctx context.Context, post store.Post) error
	GetPost(ctx context.Context, postID string) (store.Post, error)
	ListPosts(ctx context.Context) ([]store.Post, error)
	DeletePost(ctx context.Context, postID string) error
	SetPostImage(ctx context.Context, postID, imageKey string) error
	IncrementPostViews(ctx context.Context, postID string) error
	IncrementPostShares(ctx context.Context, postID string) error
	PostCount(ctx context.Context) (int, error)

	TogglePostLike(ctx context.Context, postID, userID string) (string, int, error)
	IsPostLiked(ctx context.Context, postID, userID string) (bool, error)
	ListLikedPosts(ctx context.Context, userID string) ([]store.Post, error)

	InsertComment(ctx context.Context, comment store.Comment) error
	GetComment(ctx context.Context, postID, commentID string) (store.Comment, error)
	ListComments(ctx context.Context, postID string) ([]store.Comment, error)
}

// sessionStore holds refresh sessions. Satisfied by both the Redis-backed
// store and the Postgres store, so Redis stays optional.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	email    *email.Service
	search   *search.Service
	media    *media.Service
	export   *export.Service

	feedTTL      time.Duration
	feedMu       sync.Mutex
	feedSessions map[string]*feedSession
	coordinators map[string]*feed.Coordinator
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchSvc *search.Service, mediaSvc *media.Service, emailSvc *email.Service) *Service {
	return NewWithSessionStore(cfg, dataStore, dataStore, searchSvc, mediaSvc, emailSvc)
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchSvc *search.Service, mediaSvc *media.Service, emailSvc *email.Service) *Service {
	svc := &Service{
		cfg:          cfg,
		store:        dataStore,
		sessions:     sessions,
		authpw:       authpw.NewService(dataStore),
		email:        emailSvc,
		search:       searchSvc,
		media:        mediaSvc,
		feedTTL:      cfg.FeedSessionTTL,
		feedSessions: make(map[string]*feedSession),
		coordinators: make(map[string]*feed.Coordinator),
	}
	svc.export = export.NewService(&likedIdeasSource{service: svc})
	return svc
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingSessionStore checks the refresh session store when it is a separate
// backend. With database-backed sessions there is nothing extra to check
// and checked is false.
func (s *Service) PingSessionStore(ctx context.Context) (checked bool, err error) {
	if any(s.sessions) == any(s.store) {
		return false, nil
	}
	p, ok := s.sessions.(interface{ Ping(ctx context.Context) error })
	if !ok {
		return false, nil
	}
	return true, p.Ping(ctx)
}

// SendVerificationEmail delivers the signup verification link. Callers fall
// back to the dev bypass token when SMTP is not configured.
func (s *Service) SendVerificationEmail(to, displayName, token string) error {
	if !s.SMTPConfigured() {
		return nil
	}
	return s.email.SendVerificationEmail(to, displayName, s.cfg.AppBaseURL+"/verify-email?token="+token)
}

func (s *Service) SendPasswordResetEmail(to, displayName, token string) error {
	if !s.SMTPConfigured() {
		return nil
	}
	return s.email.SendPasswordResetEmail(to, displayName, s.cfg.AppBaseURL+"/reset-password?token="+token)
}

// Bootstrap seeds the feed with the sample ideas when the database is empty,
// then rebuilds the search indexes.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.PostCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		if s.search != nil {
			s.search.ReindexAllFromPG(ctx)
		}
		return nil
	}

	seeds := []struct {
		Author   string
		Email    string
		Title    string
		Content  string
		IdeaType string
		Tags     []string
	}{
		{
			Author:   "Sam Innovator",
			Email:    "sam@seed.ideadeck.local",
			Title:    "AI-Powered Marketplace",
			Content:  "A platform using AI to match freelancers with projects perfectly suited to their skills.",
			IdeaType: store.IdeaTypeConcept,
			Tags:     []string{"Technology", "Business"},
		},
		{
			Author:   "Jane Chang",
			Email:    "jane@seed.ideadeck.local",
			Title:    "Eco-Delivery Network",
			Content:  "A green logistics app optimizing routes for carbon-neutral deliveries.",
			IdeaType: store.IdeaTypeMVP,
			Tags:     []string{"Sustainability", "Logistics"},
		},
		{
			Author:   "Leah Kapoor",
			Email:    "leah@seed.ideadeck.local",
			Title:    "Augmented Study Buddy",
			Content:  "An AR app to help students visualize and collaborate on course material in real time.",
			IdeaType: store.IdeaTypeTesting,
			Tags:     []string{"Education", "AR"},
		},
		{
			Author:   "Carlos Romero",
			Email:    "carlos@seed.ideadeck.local",
			Title:    "NeighborGoods Sharing",
			Content:  "Connect with neighbors to lend/borrow rarely used tools and appliances.",
			IdeaType: store.IdeaTypeScaling,
			Tags:     []string{"Community", "Sharing Economy"},
		},
	}

	for _, seed := range seeds {
		user := store.User{
			ID:              util.NewID("usr"),
			DisplayName:     seed.Author,
			Email:           seed.Email,
			IsEmailVerified: true,
		}
		if err := s.store.CreateUser(ctx, user); err != nil {
			return err
		}
		if err := s.store.InsertPost(ctx, store.Post{
			ID:       util.NewID("post"),
			UserID:   user.ID,
			Title:    seed.Title,
			Content:  seed.Content,
			IdeaType: seed.IdeaType,
			Tags:     seed.Tags,
		}); err != nil {
			return err
		}
	}

	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

// CreateSession issues an access token and refresh token for a verified user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// session is issued in its place.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// PostPayload is the card shape returned to clients.
type PostPayload struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Author        string   `json:"author"`
	AuthorID      string   `json:"authorId"`
	IdeaType      string   `json:"ideaType"`
	Tags          []string `json:"tags"`
	ImageKey      string   `json:"imageKey,omitempty"`
	Views         int      `json:"views"`
	Likes         int      `json:"likes"`
	Shares        int      `json:"shares"`
	LikedByViewer bool     `json:"likedByViewer"`
	CreatedAt     int64    `json:"createdAt"`
}

func (s *Service) postPayload(ctx context.Context, post store.Post, viewerID string) PostPayload {
	payload := PostPayload{
		ID:        post.ID,
		Title:     post.Title,
		Content:   post.Content,
		AuthorID:  post.UserID,
		IdeaType:  post.IdeaType,
		Tags:      post.Tags,
		ImageKey:  post.ImageKey,
		Views:     post.Analytics.Views,
		Likes:     post.Analytics.Likes,
		Shares:    post.Analytics.Shares,
		CreatedAt: post.CreatedAt.Unix(),
	}
	if payload.Tags == nil {
		payload.Tags = []string{}
	}
	if author, err := s.store.GetUserByID(ctx, post.UserID); err == nil {
		payload.Author = author.DisplayName
	}
	if viewerID != "" {
		if liked, err := s.store.IsPostLiked(ctx, post.ID, viewerID); err == nil {
			payload.LikedByViewer = liked
		}
	}
	return payload
}

// CreatePost publishes a new idea card for the authenticated user.
func (s *Service) CreatePost(ctx context.Context, session Session, title, content, ideaType string, tags []string) (PostPayload, error) {
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" {
		return PostPayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if content == "" {
		return PostPayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	ideaType = strings.ToLower(strings.TrimSpace(ideaType))
	if ideaType == "" {
		ideaType = store.IdeaTypeConcept
	}
	switch ideaType {
	case store.IdeaTypeConcept, store.IdeaTypeMVP, store.IdeaTypeTesting, store.IdeaTypeScaling:
	default:
		return PostPayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "ideaType must be concept, mvp, testing, or scaling", nil)
	}

	post := store.Post{
		ID:       util.NewID("post"),
		UserID:   session.UserID,
		Title:    title,
		Content:  content,
		IdeaType: ideaType,
		Tags:     tags,
	}
	if err := s.store.InsertPost(ctx, post); err != nil {
		return PostPayload{}, err
	}
	if s.search != nil {
		s.search.IndexIdea(search.IdeaRecord{
			ID:       post.ID,
			Title:    post.Title,
			Content:  post.Content,
			IdeaType: post.IdeaType,
			Tags:     post.Tags,
		})
	}

	created, err := s.store.GetPost(ctx, post.ID)
	if err != nil {
		return PostPayload{}, err
	}
	return s.postPayload(ctx, created, session.UserID), nil
}

func (s *Service) GetPost(ctx context.Context, viewerID, postID string) (PostPayload, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return PostPayload{}, err
	}
	return s.postPayload(ctx, post, viewerID), nil
}

// DeletePost removes an idea. Only the author may delete it.
func (s *Service) DeletePost(ctx context.Context, session Session, postID string) error {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.UserID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can delete this idea", nil)
	}
	if err := s.store.DeletePost(ctx, postID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteIdea(postID)
	}
	return nil
}

func (s *Service) LikedPosts(ctx context.Context, userID string) ([]PostPayload, error) {
	posts, err := s.store.ListLikedPosts(ctx, userID)
	if err != nil {
		return nil, err
	}
	payloads := make([]PostPayload, 0, len(posts))
	for _, post := range posts {
		payload := s.postPayload(ctx, post, "")
		payload.LikedByViewer = true
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

func (s *Service) IncrementViews(ctx context.Context, postID string) error {
	return s.store.IncrementPostViews(ctx, postID)
}

// ToggleLike flips the viewer's like on a post through the optimistic
// coordinator. A duplicate in-flight toggle for the same post returns Busy;
// a failed store write is rolled back and surfaces as an upstream error.
func (s *Service) ToggleLike(ctx context.Context, session Session, postID string) (feed.PostView, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return feed.PostView{}, err
	}

	coord := s.coordinatorFor(session.UserID)
	if _, ok := coord.View(postID); !ok {
		liked, err := s.store.IsPostLiked(ctx, postID, session.UserID)
		if err != nil {
			return feed.PostView{}, err
		}
		coord.Prime(post, liked)
	}

	edit, err := coord.ToggleLike(ctx, postID, func(ctx context.Context) (string, int, error) {
		return s.store.TogglePostLike(ctx, postID, session.UserID)
	})
	if err != nil {
		if errors.Is(err, feed.ErrBusy) {
			return feed.PostView{}, err
		}
		return feed.PostView{}, domainError(http.StatusBadGateway, "UPSTREAM_ERROR", "Like could not be saved and was rolled back", nil)
	}
	return edit.Applied, nil
}

// CommentPayload is one comment with its direct replies.
type CommentPayload struct {
	ID        string           `json:"id"`
	PostID    string           `json:"postId"`
	Author    string           `json:"author"`
	AuthorID  string           `json:"authorId"`
	Content   string           `json:"content"`
	ParentID  string           `json:"parentId,omitempty"`
	CreatedAt int64            `json:"createdAt"`
	Replies   []CommentPayload `json:"replies,omitempty"`
}

func (s *Service) commentPayload(ctx context.Context, c store.Comment, names map[string]string) CommentPayload {
	payload := CommentPayload{
		ID:        c.ID,
		PostID:    c.PostID,
		AuthorID:  c.UserID,
		Content:   c.Content,
		CreatedAt: c.CreatedAt.Unix(),
	}
	if c.ParentCommentID != nil {
		payload.ParentID = *c.ParentCommentID
	}
	name, ok := names[c.UserID]
	if !ok {
		if author, err := s.store.GetUserByID(ctx, c.UserID); err == nil {
			name = author.DisplayName
		}
		names[c.UserID] = name
	}
	payload.Author = name
	return payload
}

// CommentTree returns the post's comments as a two-level tree. Comments whose
// parent is missing or is itself a reply are dropped from the payload.
func (s *Service) CommentTree(ctx context.Context, postID string) ([]CommentPayload, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, postID)
	if err != nil {
		return nil, err
	}

	tree := thread.BuildTree(comments)
	if len(tree.Orphans) > 0 {
		log.Printf("post %s: dropping %d orphaned comments from thread", postID, len(tree.Orphans))
	}

	names := make(map[string]string)
	payloads := make([]CommentPayload, 0, len(tree.TopLevel))
	for _, top := range tree.TopLevel {
		payload := s.commentPayload(ctx, top, names)
		for _, reply := range tree.Replies[top.ID] {
			payload.Replies = append(payload.Replies, s.commentPayload(ctx, reply, names))
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// AddComment appends a top-level comment or a reply. Replies are limited to
// one level and gated on the reply capability (post owner or parent author).
func (s *Service) AddComment(ctx context.Context, session Session, postID, content, parentID string) (CommentPayload, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return CommentPayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}

	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return CommentPayload{}, err
	}

	comment := store.Comment{
		ID:      util.NewID("cmt"),
		PostID:  postID,
		UserID:  session.UserID,
		Content: content,
	}
	if parentID != "" {
		parent, err := s.store.GetComment(ctx, postID, parentID)
		if err != nil {
			return CommentPayload{}, err
		}
		if err := thread.ValidateParent(parent, postID); err != nil {
			return CommentPayload{}, err
		}
		if !thread.CanReply(session.UserID, post, parent) {
			return CommentPayload{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the idea owner or the comment author can reply", nil)
		}
		comment.ParentCommentID = &parentID
	}

	coord := s.coordinatorFor(session.UserID)
	err = coord.Run(ctx, feed.CommentKey(postID), func(ctx context.Context) error {
		return s.store.InsertComment(ctx, comment)
	})
	if err != nil {
		return CommentPayload{}, err
	}

	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:      comment.ID,
			Content: comment.Content,
			PostID:  comment.PostID,
		})
	}

	created, err := s.store.GetComment(ctx, postID, comment.ID)
	if err != nil {
		// Comment was written; fall back to what we sent.
		created = comment
		created.CreatedAt = time.Now()
	}
	return s.commentPayload(ctx, created, map[string]string{session.UserID: session.UserName}), nil
}

// Search queries ideas and comments.
func (s *Service) Search(ctx context.Context, q, filterType, ideaType string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q}, nil
	}
	return s.search.Search(search.Query{
		Text:           q,
		FilterType:     search.ResultType(filterType),
		FilterIdeaType: ideaType,
		Limit:          limit,
		Offset:         offset,
	}), nil
}

// PresignImage returns a presigned upload slot for the post's image.
// Only the post author may attach an image.
func (s *Service) PresignImage(ctx context.Context, session Session, postID, contentType string, contentLength int64) (*media.Upload, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "IMAGE_UPLOADS_DISABLED", "Image uploads are not configured", nil)
	}
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can attach an image", nil)
	}
	return s.media.PresignImageUpload(ctx, postID, contentType, contentLength)
}

// ConfirmImage verifies the uploaded object and records it on the post.
func (s *Service) ConfirmImage(ctx context.Context, session Session, postID, imageKey string) error {
	if s.media == nil {
		return domainError(http.StatusServiceUnavailable, "IMAGE_UPLOADS_DISABLED", "Image uploads are not configured", nil)
	}
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.UserID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can attach an image", nil)
	}
	if err := s.media.ConfirmImageUpload(ctx, postID, imageKey); err != nil {
		return err
	}
	return s.store.SetPostImage(ctx, postID, imageKey)
}

// ExportLiked renders the user's liked ideas as a PDF or DOCX digest.
func (s *Service) ExportLiked(ctx context.Context, session Session, format export.Format) (*export.Result, error) {
	return s.export.Export(ctx, export.Request{
		UserID:   session.UserID,
		UserName: session.UserName,
		Format:   format,
	})
}

// likedIdeasSource adapts the data store to the exporter's input shape.
type likedIdeasSource struct {
	service *Service
}

func (l *likedIdeasSource) ListLikedIdeas(ctx context.Context, userID string) ([]export.Idea, error) {
	posts, err := l.service.store.ListLikedPosts(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string)
	ideas := make([]export.Idea, 0, len(posts))
	for _, post := range posts {
		name, ok := names[post.UserID]
		if !ok {
			if author, err := l.service.store.GetUserByID(ctx, post.UserID); err == nil {
				name = author.DisplayName
			}
			names[post.UserID] = name
		}
		ideas = append(ideas, export.Idea{
			Title:     post.Title,
			Content:   post.Content,
			IdeaType:  post.IdeaType,
			Tags:      post.Tags,
			Author:    name,
			Likes:     post.Analytics.Likes,
			CreatedAt: post.CreatedAt,
		})
	}
	return ideas, nil
}
