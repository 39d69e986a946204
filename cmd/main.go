package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/oauth2"

	"mediro-bff/handler"
	"mediro-bff/internal/config"
	"mediro-bff/internal/integrations/backend"
	"mediro-bff/internal/integrations/paramstore"
	"mediro-bff/internal/kvstore"
	"mediro-bff/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	// ---- Session storage ----
	var sessions kvstore.Provider = kvstore.NewMemory()
	var google *oauth2.Config
	if cfg.StateTable != "" || cfg.ParamPrefix != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			slog.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}

		if cfg.StateTable != "" {
			db, err := kvstore.NewDynamoDB(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, cfg.SessionTTL)
			if err != nil {
				slog.Error("failed to create session store", "err", err)
				os.Exit(1)
			}
			sessions = db
		}

		if cfg.ParamPrefix != "" {
			ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				slog.Error("failed to create SSM client", "err", err)
				os.Exit(1)
			}
			signIn, err := paramstore.LoadGoogleSignIn(ctx, ssmClient, cfg.ParamPrefix)
			switch {
			case errors.Is(err, paramstore.ErrNotFound):
				slog.Warn("Google sign-in not configured", "prefix", cfg.ParamPrefix)
			case err != nil:
				slog.Error("failed to load Google sign-in settings", "err", err)
				os.Exit(1)
			default:
				google = googleOAuthConfig(cfg, signIn)
			}
		}
	}
	if cfg.StateTable == "" {
		slog.Warn("STATE_TABLE not set, keeping session state in memory")
	}

	// ---- Clients ----
	client, err := backend.NewClient(cfg.BackendBaseURL, backend.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		slog.Error("failed to create backend client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	features := usecase.ParseFeatures(cfg.ChatFeatures)
	chat, err := usecase.NewChatService(client, features, usecase.WithFallbackReply(cfg.FallbackReply))
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}
	views, err := usecase.NewViewCache(cfg.ViewCacheSize, func() *usecase.ChatView {
		return &usecase.ChatView{
			Conversation: usecase.NewConversation(cfg.PreviewLimit),
			// Speech capture runs in the browser; the server has no recognizer.
			Composer: usecase.NewComposer(features, nil),
		}
	})
	if err != nil {
		slog.Error("failed to create view cache", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(handler.Deps{
		Backend:  client,
		Sessions: sessions,
		Chat:     chat,
		Views:    views,
		Google:   google,
	})
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

// googleOAuthConfig points the authorization URL at the backend, which runs
// the actual exchange with Google and redirects back with a token.
func googleOAuthConfig(cfg *config.Config, signIn paramstore.GoogleSignIn) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    signIn.ClientID,
		Scopes:      signIn.Scopes,
		RedirectURL: cfg.OAuthRedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL: strings.TrimRight(cfg.BackendBaseURL, "/") + "/auth/google",
		},
	}
}
