// Package profile maps authenticated identities to role-bearing user
// profiles, creating a guest profile the first time an identity is seen.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"bellhop/auth"
	"bellhop/docstore"
)

// Collection holds one profile document per uid.
const Collection = "users"

// DefaultDisplayName is given to profiles created without a name.
const DefaultDisplayName = "Guest"

// Role is a coarse authorization class.
type Role string

const (
	RoleGuest   Role = "guest"
	RoleBellman Role = "bellman"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleGuest, RoleBellman, RoleAdmin:
		return true
	}
	return false
}

// IsStaff reports whether r belongs to hotel staff.
func (r Role) IsStaff() bool {
	return r == RoleBellman || r == RoleAdmin
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

var (
	// ErrProfileExists signals an attempt to provision a role for a uid that
	// already has a profile.
	ErrProfileExists = errors.New("profile: profile already exists")
	// ErrInvalidRole signals an unknown role name.
	ErrInvalidRole = errors.New("profile: invalid role")
)

// UserProfile is the application-level record of a user.
type UserProfile struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName,omitempty"`
}

// Label is the human-facing name of the user: the display name, else the
// email, else the uid.
func (p UserProfile) Label() string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.Email != "":
		return p.Email
	}
	return p.UID
}

// Resolver loads and creates profiles.
type Resolver struct {
	store docstore.Store
	log   *logrus.Logger
}

// NewResolver returns a Resolver backed by store.
func NewResolver(store docstore.Store, log *logrus.Logger) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{store: store, log: log}
}

// Resolve returns the profile for identity, creating a guest profile on
// first sight. Concurrent first resolutions for the same uid converge on a
// single profile because creation is create-if-absent.
func (r *Resolver) Resolve(ctx context.Context, identity *auth.Identity) (UserProfile, error) {
	if identity == nil || identity.UID == "" {
		return UserProfile{}, auth.ErrNotAuthenticated
	}

	p, err := r.Get(ctx, identity.UID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return UserProfile{}, err
	}

	p = newProfile(*identity, RoleGuest)
	err = r.store.CreateWithID(ctx, Collection, p.UID, profileFields(p))
	switch {
	case err == nil:
		r.log.WithFields(logrus.Fields{"uid": p.UID, "role": p.Role}).Info("profile: created default profile")
		return p, nil
	case errors.Is(err, docstore.ErrAlreadyExists):
		return r.Get(ctx, identity.UID)
	}
	return UserProfile{}, fmt.Errorf("profile: create: %w", err)
}

// Provision creates a profile with the given role. It never changes the role
// of an existing profile.
func (r *Resolver) Provision(ctx context.Context, identity auth.Identity, role Role) (UserProfile, error) {
	if identity.UID == "" {
		return UserProfile{}, auth.ErrNotAuthenticated
	}
	if !role.Valid() {
		return UserProfile{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	p := newProfile(identity, role)
	if err := r.store.CreateWithID(ctx, Collection, p.UID, profileFields(p)); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return UserProfile{}, ErrProfileExists
		}
		return UserProfile{}, fmt.Errorf("profile: provision: %w", err)
	}
	r.log.WithFields(logrus.Fields{"uid": p.UID, "role": p.Role}).Info("profile: provisioned")
	return p, nil
}

// Get reads a stored profile. A missing profile yields docstore.ErrNotFound.
func (r *Resolver) Get(ctx context.Context, uid string) (UserProfile, error) {
	doc, err := r.store.Get(ctx, Collection, uid)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return UserProfile{}, err
		}
		return UserProfile{}, fmt.Errorf("profile: get: %w", err)
	}
	var p UserProfile
	if err := doc.Decode(&p); err != nil {
		return UserProfile{}, fmt.Errorf("profile: get: %w", err)
	}
	if p.UID == "" {
		p.UID = doc.ID
	}
	return p, nil
}

func newProfile(identity auth.Identity, role Role) UserProfile {
	name := strings.TrimSpace(identity.DisplayName)
	if name == "" && role == RoleGuest {
		name = DefaultDisplayName
	}
	return UserProfile{
		UID:         identity.UID,
		Email:       identity.Email,
		Role:        role,
		DisplayName: name,
	}
}

func profileFields(p UserProfile) docstore.Fields {
	return docstore.Fields{
		"uid":         p.UID,
		"email":       p.Email,
		"role":        string(p.Role),
		"displayName": p.DisplayName,
		"createdAt":   docstore.ServerTimestamp,
	}
}
