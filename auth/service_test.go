package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bellhop/docstore"
)

func TestService_RegisterAndSignIn(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret", time.Hour)

	req := RegisterRequest{
		Email:       "Sam@Example.com",
		Password:    "supersafe",
		DisplayName: "Sam",
	}

	ctx := context.Background()
	identity, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}
	if identity.UID == "" {
		t.Fatal("register: expected uid")
	}
	if identity.Anonymous {
		t.Fatal("register: password identities are not anonymous")
	}

	signedIn, err := svc.SignInWithPassword(ctx, LoginRequest{Email: "sam@example.com", Password: req.Password})
	if err != nil {
		t.Fatalf("sign in: unexpected error: %v", err)
	}
	if signedIn.UID != identity.UID {
		t.Fatalf("sign in: expected uid %q got %q", identity.UID, signedIn.UID)
	}
	if signedIn.DisplayName != "Sam" {
		t.Fatalf("sign in: expected display name Sam got %q", signedIn.DisplayName)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret", time.Hour)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "sam@example.com",
		Password: "short",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "not-an-email",
		Password: "strongpassword",
	}); err == nil {
		t.Fatal("expected validation error for bad email")
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret", time.Hour)

	req := RegisterRequest{Email: "sam@example.com", Password: "strongpassword"}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	req.Email = "SAM@example.com"
	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_SignInInvalidCredentials(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret", time.Hour)
	ctx := context.Background()

	_, err := svc.SignInWithPassword(ctx, LoginRequest{Email: "unknown@example.com", Password: "irrelevant"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if _, err := svc.Register(ctx, RegisterRequest{Email: "sam@example.com", Password: "strongpassword"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = svc.SignInWithPassword(ctx, LoginRequest{Email: "sam@example.com", Password: "wrongpassword"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_AnonymousIdentitiesAreDistinct(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret", time.Hour)

	a := svc.SignInAnonymous()
	b := svc.SignInAnonymous()
	if !a.Anonymous || !b.Anonymous {
		t.Fatal("expected anonymous identities")
	}
	if a.UID == "" || a.UID == b.UID {
		t.Fatalf("expected distinct uids, got %q and %q", a.UID, b.UID)
	}
}

func TestService_TokenRoundTrip(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret", time.Hour)
	identity := Identity{UID: "u-1", Email: "sam@example.com", DisplayName: "Sam"}

	token, err := svc.IssueToken(identity, "sess-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	claims, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.Identity != identity {
		t.Fatalf("expected identity %+v got %+v", identity, claims.Identity)
	}
	if claims.SessionID != "sess-1" {
		t.Fatalf("expected session id sess-1 got %q", claims.SessionID)
	}

	other := NewService(newFakeRepository(), "other-secret", time.Hour)
	if _, err := other.VerifyToken(token); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated for foreign signature, got %v", err)
	}
	if _, err := svc.VerifyToken(""); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated for empty token, got %v", err)
	}
}

func TestService_TokenExpires(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret", time.Minute)
	issued := time.Now()
	svc.now = func() time.Time { return issued }

	token, err := svc.IssueToken(Identity{UID: "u-1", Anonymous: true}, "sess-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	svc.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := svc.VerifyToken(token); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestDocRepository_Credentials(t *testing.T) {
	store := docstore.NewMemStore(nil)
	defer store.Close()
	repo := NewRepository(store)
	ctx := context.Background()

	cred := Credential{UID: "u-1", Email: "Sam@Example.com", DisplayName: "Sam", PasswordHash: "hash"}
	if err := repo.CreateCredential(ctx, cred); err != nil {
		t.Fatalf("create credential: %v", err)
	}
	if err := repo.CreateCredential(ctx, cred); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}

	got, err := repo.GetCredentialByEmail(ctx, " sam@example.COM ")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.UID != "u-1" || got.PasswordHash != "hash" {
		t.Fatalf("unexpected credential %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected server-stamped createdAt")
	}

	if _, err := repo.GetCredentialByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

type fakeRepository struct {
	byEmail map[string]Credential
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{byEmail: make(map[string]Credential)}
}

func (f *fakeRepository) CreateCredential(ctx context.Context, cred Credential) error {
	key := strings.ToLower(cred.Email)
	if _, exists := f.byEmail[key]; exists {
		return ErrDuplicateEmail
	}
	f.byEmail[key] = cred
	return nil
}

func (f *fakeRepository) GetCredentialByEmail(ctx context.Context, email string) (Credential, error) {
	cred, ok := f.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return Credential{}, ErrUserNotFound
	}
	return cred, nil
}
