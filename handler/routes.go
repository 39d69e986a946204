package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/aws/aws-lambda-go/events"

	"mediro-bff/internal/domain"
	"mediro-bff/internal/integrations/backend"
	"mediro-bff/internal/usecase"
)

type identifierRequest struct {
	Identifier string `json:"identifier"`
}

type verifyOTPRequest struct {
	Identifier string `json:"identifier"`
	OTP        string `json:"otp"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type stateResponse struct {
	State domain.SessionState `json:"state"`
	UI    domain.UIState      `json:"ui"`
	Auth  *domain.AuthMeta    `json:"auth,omitempty"`
}

type imagePayload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	// Data is base64 in JSON.
	Data []byte `json:"data"`
}

type chatRequest struct {
	Message string        `json:"message"`
	Image   *imagePayload `json:"image,omitempty"`
}

type chatResponse struct {
	Reply    *usecase.DisplayMessage  `json:"reply,omitempty"`
	Messages []usecase.DisplayMessage `json:"messages"`
	Features usecase.Features         `json:"features"`
}

type toggleResponse struct {
	ID       string                  `json:"id"`
	Expanded bool                    `json:"expanded"`
	Message  *usecase.DisplayMessage `json:"message,omitempty"`
}

type preferencesRequest struct {
	Theme    *string `json:"theme"`
	Language *string `json:"language"`
}

func (h *Handler) sendOTP(ctx context.Context, logger *slog.Logger, s *session, body string) events.APIGatewayProxyResponse {
	var in identifierRequest
	if err := decodeBody(body, &in); err != nil {
		return writeError(ctx, logger, err)
	}
	if err := s.auth.SendOTP(ctx, in.Identifier); err != nil {
		return writeError(ctx, logger, err)
	}
	return h.writeState(ctx, logger, s)
}

func (h *Handler) verifyOTP(ctx context.Context, logger *slog.Logger, s *session, body string) events.APIGatewayProxyResponse {
	var in verifyOTPRequest
	if err := decodeBody(body, &in); err != nil {
		return writeError(ctx, logger, err)
	}
	if err := s.auth.VerifyOTP(ctx, in.Identifier, in.OTP); err != nil {
		return writeError(ctx, logger, err)
	}
	return h.writeState(ctx, logger, s)
}

func (h *Handler) login(ctx context.Context, logger *slog.Logger, s *session, body string) events.APIGatewayProxyResponse {
	var in loginRequest
	if err := decodeBody(body, &in); err != nil {
		return writeError(ctx, logger, err)
	}
	if err := s.auth.Login(ctx, in.Email, in.Password); err != nil {
		return writeError(ctx, logger, err)
	}
	return h.writeState(ctx, logger, s)
}

func (h *Handler) register(ctx context.Context, logger *slog.Logger, s *session, body string) events.APIGatewayProxyResponse {
	var in backend.RegisterRequest
	if err := decodeBody(body, &in); err != nil {
		return writeError(ctx, logger, err)
	}
	if err := s.auth.Register(ctx, in); err != nil {
		return writeError(ctx, logger, err)
	}
	return h.writeState(ctx, logger, s)
}

func (h *Handler) logout(ctx context.Context, logger *slog.Logger, s *session) events.APIGatewayProxyResponse {
	if err := s.auth.Logout(ctx); err != nil {
		return writeError(ctx, logger, err)
	}
	h.views.Drop(s.id)
	return h.writeState(ctx, logger, s)
}

func (h *Handler) changePassword(ctx context.Context, logger *slog.Logger, s *session, body string) events.APIGatewayProxyResponse {
	var in changePasswordRequest
	if err := decodeBody(body, &in); err != nil {
		return writeError(ctx, logger, err)
	}
	if err := s.auth.ChangePassword(ctx, in.CurrentPassword, in.NewPassword); err != nil {
		return writeError(ctx, logger, err)
	}
	return writeJSON(http.StatusNoContent, nil)
}

func (h *Handler) googleSignIn(ctx context.Context, logger *slog.Logger, s *session) events.APIGatewayProxyResponse {
	location, err := s.auth.GoogleSignInURL(ctx)
	if err != nil {
		return writeError(ctx, logger, err)
	}
	return redirect(location)
}

// oauthSuccess is where the backend sends the browser back after Google
// sign-in. The browser is forwarded to the chat or back to sign-in.
func (h *Handler) oauthSuccess(ctx context.Context, logger *slog.Logger, s *session) events.APIGatewayProxyResponse {
	if err := s.auth.CompleteOAuth(ctx, s.query["token"], s.query["state"]); err != nil {
		logger.InfoContext(ctx, "google sign-in rejected", "code", usecase.CodeOf(err), "err", err)
		v := url.Values{"error": {string(usecase.CodeOf(err))}}
		return redirect(loginPath + "?" + v.Encode())
	}
	return redirect(chatPath)
}

func (h *Handler) getChat(s *session) events.APIGatewayProxyResponse {
	return writeJSON(http.StatusOK, chatResponse{
		Messages: s.view.Conversation.Render(),
		Features: h.chat.Features(),
	})
}

func (h *Handler) postChat(ctx context.Context, logger *slog.Logger, s *session, body string) events.APIGatewayProxyResponse {
	var in chatRequest
	if err := decodeBody(body, &in); err != nil {
		return writeError(ctx, logger, err)
	}
	draft := usecase.Draft{Text: in.Message}
	if in.Image != nil {
		draft.Image = &domain.Attachment{
			Filename:    in.Image.Filename,
			ContentType: in.Image.ContentType,
			Data:        in.Image.Data,
		}
	}

	msg, err := h.chat.SendDraft(ctx, s.auth, s.view, draft)
	if err != nil {
		return writeError(ctx, logger, err)
	}
	reply, _ := s.view.Conversation.Lookup(msg.ID)
	return writeJSON(http.StatusOK, chatResponse{
		Reply:    &reply,
		Messages: s.view.Conversation.Render(),
		Features: h.chat.Features(),
	})
}

func (h *Handler) resetChat(ctx context.Context, logger *slog.Logger, s *session) events.APIGatewayProxyResponse {
	if err := h.chat.Reset(s.view); err != nil {
		return writeError(ctx, logger, err)
	}
	return h.getChat(s)
}

func (h *Handler) toggleMessage(s *session) events.APIGatewayProxyResponse {
	id := s.pathArgs[0]
	out := toggleResponse{ID: id, Expanded: s.view.Conversation.ToggleExpanded(id)}
	if msg, ok := s.view.Conversation.Lookup(id); ok {
		out.Message = &msg
	}
	return writeJSON(http.StatusOK, out)
}

func (h *Handler) getProfile(ctx context.Context, logger *slog.Logger, s *session) events.APIGatewayProxyResponse {
	p, err := s.profile.Load(ctx)
	if err != nil {
		return writeError(ctx, logger, err)
	}
	return writeJSON(http.StatusOK, p)
}

func (h *Handler) putProfile(ctx context.Context, logger *slog.Logger, s *session, body string) events.APIGatewayProxyResponse {
	var in domain.Profile
	if err := decodeBody(body, &in); err != nil {
		return writeError(ctx, logger, err)
	}
	p, err := s.profile.Save(ctx, in)
	if err != nil {
		return writeError(ctx, logger, err)
	}
	return writeJSON(http.StatusOK, p)
}

func (h *Handler) deleteProfile(ctx context.Context, logger *slog.Logger, s *session) events.APIGatewayProxyResponse {
	if err := s.profile.Delete(ctx); err != nil {
		return writeError(ctx, logger, err)
	}
	return writeJSON(http.StatusNoContent, nil)
}

func (h *Handler) getPreferences(ctx context.Context, logger *slog.Logger, s *session) events.APIGatewayProxyResponse {
	ui, err := s.prefs.Restore(ctx)
	if err != nil {
		return writeError(ctx, logger, err)
	}
	return writeJSON(http.StatusOK, ui)
}

func (h *Handler) putPreferences(ctx context.Context, logger *slog.Logger, s *session, body string) events.APIGatewayProxyResponse {
	var in preferencesRequest
	if err := decodeBody(body, &in); err != nil {
		return writeError(ctx, logger, err)
	}
	if in.Theme != nil {
		if err := s.prefs.SetTheme(ctx, *in.Theme); err != nil {
			return writeError(ctx, logger, err)
		}
	}
	if in.Language != nil {
		if _, err := s.prefs.SetLanguage(ctx, *in.Language); err != nil {
			return writeError(ctx, logger, err)
		}
	}
	return h.getPreferences(ctx, logger, s)
}

func (h *Handler) getState(ctx context.Context, logger *slog.Logger, s *session) events.APIGatewayProxyResponse {
	return h.writeState(ctx, logger, s)
}

func (h *Handler) writeState(ctx context.Context, logger *slog.Logger, s *session) events.APIGatewayProxyResponse {
	state, err := s.auth.State(ctx)
	if err != nil {
		return writeError(ctx, logger, err)
	}
	ui, err := s.prefs.Restore(ctx)
	if err != nil {
		return writeError(ctx, logger, err)
	}
	out := stateResponse{State: state, UI: ui}
	meta, ok, err := s.auth.Meta(ctx)
	if err != nil {
		return writeError(ctx, logger, err)
	}
	if ok {
		out.Auth = &meta
	}
	return writeJSON(http.StatusOK, out)
}

func (h *Handler) health(ctx context.Context, logger *slog.Logger) events.APIGatewayProxyResponse {
	if err := h.backend.Health(ctx); err != nil {
		logger.WarnContext(ctx, "backend health check failed", "err", err)
		return writeJSON(http.StatusBadGateway, errorResponse{Error: string(usecase.ErrorTransport), Reason: "backend_unhealthy"})
	}
	return writeJSON(http.StatusOK, map[string]string{"status": "ok"})
}
