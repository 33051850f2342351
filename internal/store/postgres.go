package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified, created_at
		FROM users WHERE id=$1
	`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified, created_at
		FROM users WHERE email=LOWER($1)
	`, email))
}

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// --- refresh sessions / token revocation ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.password_hash, u.is_email_verified, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, tokenHash))
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// --- posts ---

func (s *PostgresStore) InsertPost(ctx context.Context, post Post) error {
	tags, err := json.Marshal(post.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert post: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO posts (id, user_id, title, content, idea_type, tags)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, post.ID, post.UserID, post.Title, post.Content, post.IdeaType, tags); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert post: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO post_analytics (post_id) VALUES ($1)
	`, post.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert post analytics: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert post: %w", err)
	}
	return nil
}

const postColumns = `
	p.id, p.user_id, p.title, p.content, p.idea_type, p.tags, COALESCE(p.image_key, ''),
	COALESCE(a.views, 0), COALESCE(a.likes, 0), COALESCE(a.shares, 0),
	p.created_at
`

func (s *PostgresStore) GetPost(ctx context.Context, postID string) (Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		LEFT JOIN post_analytics a ON a.post_id = p.id
		WHERE p.id=$1
	`, postID)
	return scanPost(row)
}

// ListPosts returns the feed queue, newest first.
func (s *PostgresStore) ListPosts(ctx context.Context) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		LEFT JOIN post_analytics a ON a.post_id = p.id
		ORDER BY p.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

func (s *PostgresStore) DeletePost(ctx context.Context, postID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id=$1`, postID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete post rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SetPostImage(ctx context.Context, postID, imageKey string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE posts SET image_key=$2 WHERE id=$1`, postID, imageKey)
	if err != nil {
		return fmt.Errorf("set post image: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set post image rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) IncrementPostViews(ctx context.Context, postID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_analytics (post_id, views) VALUES ($1, 1)
		ON CONFLICT (post_id) DO UPDATE SET views = post_analytics.views + 1
	`, postID)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementPostShares(ctx context.Context, postID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_analytics (post_id, shares) VALUES ($1, 1)
		ON CONFLICT (post_id) DO UPDATE SET shares = post_analytics.shares + 1
	`, postID)
	if err != nil {
		return fmt.Errorf("increment shares: %w", err)
	}
	return nil
}

func (s *PostgresStore) PostCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return count, nil
}

func scanPost(row *sql.Row) (Post, error) {
	var post Post
	var tags []byte
	err := row.Scan(&post.ID, &post.UserID, &post.Title, &post.Content, &post.IdeaType, &tags, &post.ImageKey,
		&post.Analytics.Views, &post.Analytics.Likes, &post.Analytics.Shares, &post.CreatedAt)
	if err != nil {
		return Post{}, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &post.Tags); err != nil {
			return Post{}, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return post, nil
}

func collectPosts(rows *sql.Rows) ([]Post, error) {
	var posts []Post
	for rows.Next() {
		var post Post
		var tags []byte
		if err := rows.Scan(&post.ID, &post.UserID, &post.Title, &post.Content, &post.IdeaType, &tags, &post.ImageKey,
			&post.Analytics.Views, &post.Analytics.Likes, &post.Analytics.Shares, &post.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &post.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags: %w", err)
			}
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// --- likes ---

// TogglePostLike flips the like row for (post, user) and keeps the analytics
// counter in step, returning the action taken and the authoritative count.
func (s *PostgresStore) TogglePostLike(ctx context.Context, postID, userID string) (string, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, fmt.Errorf("begin toggle like: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM post_likes WHERE post_id=$1 AND user_id=$2)
	`, postID, userID).Scan(&exists)
	if err != nil {
		return "", 0, fmt.Errorf("lookup post like: %w", err)
	}

	action := LikeActionLiked
	if exists {
		action = LikeActionUnliked
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM post_likes WHERE post_id=$1 AND user_id=$2
		`, postID, userID); err != nil {
			return "", 0, fmt.Errorf("delete post like: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE post_analytics SET likes = GREATEST(likes - 1, 0) WHERE post_id=$1
		`, postID); err != nil {
			return "", 0, fmt.Errorf("decrement like count: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO post_likes (post_id, user_id) VALUES ($1, $2)
		`, postID, userID); err != nil {
			return "", 0, fmt.Errorf("insert post like: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO post_analytics (post_id, likes) VALUES ($1, 1)
			ON CONFLICT (post_id) DO UPDATE SET likes = post_analytics.likes + 1
		`, postID); err != nil {
			return "", 0, fmt.Errorf("increment like count: %w", err)
		}
	}

	var likes int
	if err := tx.QueryRowContext(ctx, `
		SELECT likes FROM post_analytics WHERE post_id=$1
	`, postID).Scan(&likes); err != nil {
		return "", 0, fmt.Errorf("read like count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", 0, fmt.Errorf("commit toggle like: %w", err)
	}
	return action, likes, nil
}

func (s *PostgresStore) IsPostLiked(ctx context.Context, postID, userID string) (bool, error) {
	var liked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM post_likes WHERE post_id=$1 AND user_id=$2)
	`, postID, userID).Scan(&liked)
	if err != nil {
		return false, fmt.Errorf("check post like: %w", err)
	}
	return liked, nil
}

// ListLikedPosts returns the viewer's liked posts, most recently liked first.
func (s *PostgresStore) ListLikedPosts(ctx context.Context, userID string) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM post_likes l
		JOIN posts p ON p.id = l.post_id
		LEFT JOIN post_analytics a ON a.post_id = p.id
		WHERE l.user_id=$1
		ORDER BY l.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list liked posts: %w", err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

// --- comments ---

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, post_id, user_id, content, parent_comment_id)
		VALUES ($1, $2, $3, $4, $5)
	`, comment.ID, comment.PostID, comment.UserID, comment.Content, comment.ParentCommentID)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, postID, commentID string) (Comment, error) {
	var comment Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, post_id, user_id, content, parent_comment_id, created_at
		FROM comments WHERE post_id=$1 AND id=$2
	`, postID, commentID).Scan(&comment.ID, &comment.PostID, &comment.UserID, &comment.Content, &comment.ParentCommentID, &comment.CreatedAt)
	if err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// ListComments returns the flat comment set for a post, oldest first. The
// two-level shape is derived in memory by the thread package.
func (s *PostgresStore) ListComments(ctx context.Context, postID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, user_id, content, parent_comment_id, created_at
		FROM comments
		WHERE post_id=$1
		ORDER BY created_at ASC, id ASC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		var comment Comment
		if err := rows.Scan(&comment.ID, &comment.PostID, &comment.UserID, &comment.Content, &comment.ParentCommentID, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}
