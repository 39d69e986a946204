package usecase

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/language"

	"mediro-bff/internal/domain"
	"mediro-bff/internal/kvstore"
)

const (
	ThemeLight      = "light"
	ThemeDark       = "dark"
	DefaultLanguage = "en"
)

// PreferencesService persists UI preferences and restores UI state.
type PreferencesService struct {
	store kvstore.Store
}

func NewPreferencesService(store kvstore.Store) (*PreferencesService, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	return &PreferencesService{store: store}, nil
}

func (s *PreferencesService) SetTheme(ctx context.Context, theme string) error {
	theme = strings.ToLower(strings.TrimSpace(theme))
	if theme != ThemeLight && theme != ThemeDark {
		return newError(ErrorValidation, "invalid_theme", nil)
	}
	if err := s.store.Set(ctx, kvstore.KeyTheme, theme); err != nil {
		return newError(ErrorInternal, "store_write_error", err)
	}
	return nil
}

// SetLanguage stores a BCP 47 tag in canonical form and returns it.
func (s *PreferencesService) SetLanguage(ctx context.Context, lang string) (string, error) {
	tag, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return "", newError(ErrorValidation, "invalid_language", err)
	}
	canonical := tag.String()
	if err := s.store.Set(ctx, kvstore.KeyLanguage, canonical); err != nil {
		return "", newError(ErrorInternal, "store_write_error", err)
	}
	return canonical, nil
}

// Restore reads what the page needs on startup.
func (s *PreferencesService) Restore(ctx context.Context) (domain.UIState, error) {
	state := domain.UIState{Theme: ThemeLight, Language: DefaultLanguage}

	theme, ok, err := s.store.Get(ctx, kvstore.KeyTheme)
	if err != nil {
		return domain.UIState{}, newError(ErrorInternal, "store_read_error", err)
	}
	if ok && theme == ThemeDark {
		state.Theme = ThemeDark
	}
	lang, ok, err := s.store.Get(ctx, kvstore.KeyLanguage)
	if err != nil {
		return domain.UIState{}, newError(ErrorInternal, "store_read_error", err)
	}
	if ok && lang != "" {
		state.Language = lang
	}
	tok, ok, err := s.store.Get(ctx, kvstore.KeyAccessToken)
	if err != nil {
		return domain.UIState{}, newError(ErrorInternal, "store_read_error", err)
	}
	state.LoggedIn = ok && tok != ""
	return state, nil
}
