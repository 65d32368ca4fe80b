package core

import (
	"context"

	"github.com/zen-ai/zen-backend/internal/apperr"
	"github.com/zen-ai/zen-backend/internal/identity"
	"github.com/zen-ai/zen-backend/internal/store"
)

// UserService keeps the local profile collection in sync with the identity
// provider's account records.
type UserService struct {
	db       *store.SQLiteStore
	identity *identity.Client
}

func NewUserService(db *store.SQLiteStore, identityClient *identity.Client) *UserService {
	return &UserService{db: db, identity: identityClient}
}

func (s *UserService) GetProfile(uid string) (*store.UserProfile, error) {
	profile, err := s.db.GetUserProfile(uid)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, apperr.NotFoundf("User profile not found.")
	}
	return profile, nil
}

// UpsertProfile merges the given fields into the stored profile, creating it
// on first sight. Nil fields are left untouched.
func (s *UserService) UpsertProfile(uid string, email, displayName, photoURL *string) (*store.UserProfile, error) {
	if uid == "" {
		return nil, apperr.Validationf("uid is required.")
	}
	return s.db.UpsertUserProfile(uid, email, displayName, photoURL)
}

// UpdateProfile pushes the change to the identity provider first, then
// mirrors it into the stored profile. A provider failure leaves the stored
// profile untouched.
func (s *UserService) UpdateProfile(ctx context.Context, uid string, displayName, photoURL *string) (*store.UserProfile, error) {
	if uid == "" {
		return nil, apperr.Validationf("uid is required.")
	}
	if displayName == nil && photoURL == nil {
		return nil, apperr.Validationf("Provide at least one field to update (displayName or photoUrl).")
	}

	if err := s.identity.UpdateAccount(ctx, uid, displayName, photoURL); err != nil {
		return nil, err
	}
	return s.db.UpsertUserProfile(uid, nil, displayName, photoURL)
}
