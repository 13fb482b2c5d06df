package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bellhop/docstore"
)

// CredentialsCollection holds one document per registered email.
const CredentialsCollection = "credentials"

var (
	// ErrUserNotFound signals that no credential exists for the email.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// Repository handles credential storage.
type Repository interface {
	CreateCredential(ctx context.Context, cred Credential) error
	GetCredentialByEmail(ctx context.Context, email string) (Credential, error)
}

// DocRepository implements Repository on a document store, keyed by the
// normalized email so uniqueness is enforced by the store itself.
type DocRepository struct {
	store docstore.Store
}

// NewRepository creates a document-store backed credential repository.
func NewRepository(store docstore.Store) *DocRepository {
	return &DocRepository{store: store}
}

type credentialDoc struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName,omitempty"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CreateCredential stores a new credential.
func (r *DocRepository) CreateCredential(ctx context.Context, cred Credential) error {
	err := r.store.CreateWithID(ctx, CredentialsCollection, normalizeEmail(cred.Email), docstore.Fields{
		"uid":          cred.UID,
		"email":        cred.Email,
		"displayName":  cred.DisplayName,
		"passwordHash": cred.PasswordHash,
		"createdAt":    docstore.ServerTimestamp,
	})
	if err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("auth: create credential: %w", err)
	}
	return nil
}

// GetCredentialByEmail retrieves a credential by email address.
func (r *DocRepository) GetCredentialByEmail(ctx context.Context, email string) (Credential, error) {
	doc, err := r.store.Get(ctx, CredentialsCollection, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Credential{}, ErrUserNotFound
		}
		return Credential{}, fmt.Errorf("auth: get credential: %w", err)
	}

	var row credentialDoc
	if err := doc.Decode(&row); err != nil {
		return Credential{}, fmt.Errorf("auth: get credential: %w", err)
	}
	return Credential{
		UID:          row.UID,
		Email:        row.Email,
		DisplayName:  row.DisplayName,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
