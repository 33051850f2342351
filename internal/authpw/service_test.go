package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"ideadeck/api/internal/store"
)

type resetRecord struct {
	userID    string
	expiresAt time.Time
	used      bool
}

type fakeUserStore struct {
	users         map[string]store.User
	emailIndex    map[string]string
	verifications map[string]string // token -> userID
	resets        map[string]resetRecord
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:         make(map[string]store.User),
		emailIndex:    make(map[string]string),
		verifications: make(map[string]string),
		resets:        make(map[string]resetRecord),
	}
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if id, ok := f.emailIndex[email]; ok {
		return f.users[id], nil
	}
	return store.User{}, errors.New("user not found")
}

func (f *fakeUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := f.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user store.User) error {
	f.users[user.ID] = user
	f.emailIndex[user.Email] = user.ID
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if user, ok := f.users[userID]; ok {
		user.VerificationToken = token
		user.VerificationExpiresAt = &expiresAt
		f.users[userID] = user
		f.verifications[token] = userID
	}
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	if userID, ok := f.verifications[token]; ok {
		user := f.users[userID]
		user.IsEmailVerified = true
		f.users[userID] = user
		return nil
	}
	return errors.New("invalid token")
}

func (f *fakeUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	if user, ok := f.users[userID]; ok {
		user.PasswordHash = passwordHash
		f.users[userID] = user
		return nil
	}
	return errors.New("user not found")
}

func (f *fakeUserStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.resets[token] = resetRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeUserStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	reset, ok := f.resets[token]
	if !ok || reset.used || time.Now().After(reset.expiresAt) {
		return "", errors.New("invalid reset token")
	}
	return reset.userID, nil
}

func (f *fakeUserStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	if reset, ok := f.resets[token]; ok {
		reset.used = true
		f.resets[token] = reset
	}
	return nil
}

func TestSignUpAndVerifyAndSignIn(t *testing.T) {
	users := newFakeUserStore()
	svc := NewService(users)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "ada@example.com",
		Password:    "correct-horse",
		DisplayName: "Ada",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if !resp.RequiresEmailVerify || resp.VerificationToken == "" {
		t.Fatalf("expected pending verification, got %+v", resp)
	}

	// Unverified accounts cannot sign in yet.
	signIn, err := svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("sign in unverified: %v", err)
	}
	if !signIn.RequiresVerify {
		t.Fatal("expected RequiresVerify before email verification")
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("verify email: %v", err)
	}

	signIn, err = svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("sign in verified: %v", err)
	}
	if signIn.RequiresVerify {
		t.Fatal("verified account should not require verification")
	}
	if signIn.User.DisplayName != "Ada" {
		t.Fatalf("user = %+v", signIn.User)
	}
}

func TestSignUpRejectsWeakAndDuplicate(t *testing.T) {
	users := newFakeUserStore()
	svc := NewService(users)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "short", DisplayName: "A"}); err == nil {
		t.Fatal("expected short password to be rejected")
	}

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "long-enough", DisplayName: "A"}); err != nil {
		t.Fatalf("first sign up: %v", err)
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "long-enough", DisplayName: "A"}); err == nil {
		t.Fatal("expected duplicate email to be rejected")
	}
}

func TestSignInWrongPassword(t *testing.T) {
	users := newFakeUserStore()
	svc := NewService(users)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "long-enough", DisplayName: "A"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "a@b.c", Password: "wrong-password"}); err == nil {
		t.Fatal("expected wrong password to fail")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	users := newFakeUserStore()
	svc := NewService(users)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "original-pass", DisplayName: "A"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("verify: %v", err)
	}

	token, err := svc.RequestPasswordReset(ctx, "a@b.c")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if token == "" {
		t.Fatal("expected reset token for known email")
	}

	// Unknown email yields no token and no error.
	unknown, err := svc.RequestPasswordReset(ctx, "nobody@b.c")
	if err != nil || unknown != "" {
		t.Fatalf("unknown email = (%q, %v), want empty, nil", unknown, err)
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "brand-new-pass"}); err != nil {
		t.Fatalf("reset password: %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "a@b.c", Password: "original-pass"}); err == nil {
		t.Fatal("old password should no longer work")
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "a@b.c", Password: "brand-new-pass"}); err != nil {
		t.Fatalf("sign in with new password: %v", err)
	}

	// Token is single-use.
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "another-pass"}); err == nil {
		t.Fatal("expected used token to be rejected")
	}
}
