package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/sakif/incubator/internal/apperror"
	"github.com/sakif/incubator/internal/model"
	"github.com/sakif/incubator/internal/repository"
)

const msgEmailOtherGoogle = "email already registered with a different Google account"

// ResolveOAuthIdentity maps a Google profile onto a User and signs it in.
//
// Resolution order:
//  1. a user already holding this Google ID → sign in, refresh name/photo
//  2. a user holding the profile's email → link the Google ID onto it
//  3. otherwise → create a new user
//
// Every write is a filtered update, so a concurrent change to the same user
// is never overwritten. Linking never replaces a different Google ID. Races
// between two first sign-ins end in the store's UNIQUE constraint and come
// back as ErrIdentityConflict.
func (s *AuthService) ResolveOAuthIdentity(ctx context.Context, p model.OAuthProfile) (*AuthResult, error) {
	if strings.TrimSpace(p.Subject) == "" {
		return nil, apperror.ValidationFailed(repository.FieldGoogleID, "Google profile has no account ID")
	}
	email := model.NormalizeEmail(p.Email)
	name := strings.TrimSpace(p.Name)
	now := s.now().UTC()

	login := repository.GoogleLogin{Subject: p.Subject, Email: email, Name: name, Photo: p.Photo, At: now}

	user, err := s.users.GetByGoogleID(ctx, p.Subject)
	switch {
	case err == nil:
		if !user.IsActive {
			return nil, apperror.InvalidCredential(msgInactive)
		}
		if user.Email == "" && email != "" {
			// Backfill only an email nobody else holds; the UNIQUE
			// constraint still catches a concurrent claim.
			owner, err := s.users.GetByEmail(ctx, email)
			switch {
			case err == nil && owner.ID != user.ID:
				login.Email = ""
			case err != nil && !errors.Is(err, apperror.ErrNotFound):
				return nil, err
			}
		}
		updated, err := s.users.RefreshGoogleLogin(ctx, login)
		if err != nil {
			return nil, s.explainMiss(ctx, user.ID, "", err)
		}
		return s.issue(updated, false)

	case !errors.Is(err, apperror.ErrNotFound):
		return nil, err
	}

	if email != "" {
		user, err = s.users.GetByEmail(ctx, email)
		switch {
		case err == nil:
			if user.GoogleID != "" && user.GoogleID != p.Subject {
				return nil, apperror.IdentityConflict(repository.FieldEmail, msgEmailOtherGoogle)
			}
			if !user.IsActive {
				return nil, apperror.InvalidCredential(msgInactive)
			}
			updated, err := s.users.LinkGoogle(ctx, user.ID, login)
			if err != nil {
				return nil, s.explainMiss(ctx, user.ID, p.Subject, err)
			}
			s.logger.Info("google account linked", slog.String("user_id", updated.ID))
			return s.issue(updated, false)

		case !errors.Is(err, apperror.ErrNotFound):
			return nil, err
		}
	}

	if name == "" {
		name = defaultOAuthName(email)
	}
	user = &model.User{
		Name:          name,
		Email:         email,
		GoogleID:      p.Subject,
		Photo:         p.Photo,
		EmailVerified: email != "",
		Role:          model.RoleUser,
		IsActive:      true,
		LastLogin:     &now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, oauthConflict(err)
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID), slog.String("method", "google"))
	return s.issue(user, true)
}

// oauthConflict turns a duplicate-key error into an identity conflict that
// says which identity was already taken. Other errors pass through.
func oauthConflict(err error) error {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrDuplicate) {
		return err
	}
	switch appErr.Field {
	case repository.FieldEmail:
		return apperror.IdentityConflict(repository.FieldEmail, "email already registered")
	case repository.FieldGoogleID:
		return apperror.IdentityConflict(repository.FieldGoogleID, "Google account already registered")
	}
	return apperror.IdentityConflict(appErr.Field, appErr.Message)
}

func defaultOAuthName(email string) string {
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local
	}
	return "Google User"
}
