package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/mail"
	"strings"

	"mediro-bff/internal/domain"
	"mediro-bff/internal/integrations/backend"
	"mediro-bff/internal/kvstore"
)

type ProfileAPI interface {
	GetProfile(ctx context.Context, creds backend.Credentials) (domain.User, error)
	UpdateProfile(ctx context.Context, creds backend.Credentials, p domain.Profile) error
}

// Session is what services need to know about the signed-in user.
type Session interface {
	backend.Credentials
	IsAuthenticated(ctx context.Context) (bool, error)
}

// ProfileService persists the profile form. The local copy is authoritative;
// the backend is updated best-effort when signed in.
type ProfileService struct {
	store   kvstore.Store
	api     ProfileAPI
	session Session
}

// NewProfileService creates the service. api and session may be nil, which
// keeps the profile purely local.
func NewProfileService(store kvstore.Store, api ProfileAPI, session Session) (*ProfileService, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	return &ProfileService{store: store, api: api, session: session}, nil
}

// Load returns the saved profile. With nothing saved it returns the blank
// form, seeded from the backend account when signed in.
func (s *ProfileService) Load(ctx context.Context) (domain.Profile, error) {
	raw, ok, err := s.store.Get(ctx, kvstore.KeyProfile)
	if err != nil {
		return domain.Profile{}, newError(ErrorInternal, "store_read_error", err)
	}
	if ok {
		var p domain.Profile
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			return p, nil
		}
		// malformed -> start fresh
		slog.WarnContext(ctx, "discarding malformed stored profile")
	}
	p := domain.EmptyProfile()
	if s.signedIn(ctx) {
		user, err := s.api.GetProfile(ctx, s.session)
		if err != nil {
			if IsSessionExpired(err) {
				return domain.Profile{}, err
			}
			slog.WarnContext(ctx, "profile prefill failed", "err", err)
			return p, nil
		}
		p.Name = strings.TrimSpace(user.FirstName + " " + user.LastName)
		p.Email = user.Email
		p.Phone = user.Phone
	}
	return p, nil
}

// Save stores the profile and pushes it to the backend when signed in.
func (s *ProfileService) Save(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return domain.Profile{}, newError(ErrorValidation, "invalid_email", err)
		}
	}
	if p.CountryCode == "" {
		p.CountryCode = domain.DialCode(p.Country)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return domain.Profile{}, newError(ErrorInternal, "marshal_profile", err)
	}
	if err := s.store.Set(ctx, kvstore.KeyProfile, string(raw)); err != nil {
		return domain.Profile{}, newError(ErrorInternal, "store_write_error", err)
	}
	if s.signedIn(ctx) {
		if err := s.api.UpdateProfile(ctx, s.session, p); err != nil {
			if IsSessionExpired(err) {
				return p, err
			}
			slog.WarnContext(ctx, "profile push failed", "err", err)
		}
	}
	return p, nil
}

// Delete removes the saved profile.
func (s *ProfileService) Delete(ctx context.Context) error {
	if err := s.store.Delete(ctx, kvstore.KeyProfile); err != nil {
		return newError(ErrorInternal, "store_write_error", err)
	}
	return nil
}

func (s *ProfileService) signedIn(ctx context.Context) bool {
	if s.api == nil || s.session == nil {
		return false
	}
	ok, err := s.session.IsAuthenticated(ctx)
	return err == nil && ok
}
