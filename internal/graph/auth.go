package graph

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/tonimelisma/onedrive-open/internal/tokenfile"
)

// Azure AD public client registration (multi-tenant + personal accounts).
const defaultClientID = "8efac532-bbe7-4bc5-919c-1443ccab860a"

// RequiredScopes are requested at sign-in and must all be present in a
// stored credential for it to count as signed in.
var RequiredScopes = []string{
	"offline_access",
	"Files.Read",
	"User.Read",
}

// DeviceAuth holds the device code fields shown to the user.
type DeviceAuth struct {
	UserCode        string
	VerificationURI string
}

// Credential is the outcome of a successful sign-in.
type Credential struct {
	Source TokenSource
	// Scopes granted by the user, which may be fewer than requested.
	Scopes []string
}

// Login performs the device code flow: request a code, hand it to display,
// poll until the user authorizes or ctx ends, then save the token at
// tokenPath. An HTTP client for the token endpoint can be supplied through
// ctx with oauth2.HTTPClient.
//
// The returned TokenSource stays bound to ctx for silent refreshes, so ctx
// must outlive it.
func Login(
	ctx context.Context,
	tokenPath string,
	display func(DeviceAuth) error,
	logger *slog.Logger,
) (*Credential, error) {
	return doLogin(ctx, tokenPath, oauthConfig(tokenPath, logger), display, logger)
}

func doLogin(
	ctx context.Context,
	tokenPath string,
	cfg *oauth2.Config,
	display func(DeviceAuth) error,
	logger *slog.Logger,
) (*Credential, error) {
	logger.Info("starting device code auth flow")

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: device auth request failed: %w", err)
	}

	if err := display(DeviceAuth{UserCode: da.UserCode, VerificationURI: da.VerificationURI}); err != nil {
		return nil, fmt.Errorf("graph: showing sign-in prompt: %w", err)
	}

	logger.Info("device code shown, waiting for user authorization")

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("graph: device code authorization failed: %w", err)
	}

	return saveCredential(ctx, cfg, tokenPath, tok, logger)
}

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// callbackPath must match the registered "http://localhost" redirect URI
// exactly; the v2.0 endpoint ignores the port but not the path.
const callbackPath = "/"

// shutdownTimeout bounds callback server draining.
const shutdownTimeout = 5 * time.Second

type callbackResult struct {
	code string
	err  error
}

// LoginWithBrowser performs the authorization code + PKCE flow through a
// localhost callback server. openURL receives the authorization URL; it is
// expected to show or launch it and return promptly.
func LoginWithBrowser(
	ctx context.Context,
	tokenPath string,
	openURL func(string) error,
	logger *slog.Logger,
) (*Credential, error) {
	return doAuthCodeLogin(ctx, tokenPath, oauthConfig(tokenPath, logger), openURL, logger)
}

func doAuthCodeLogin(
	ctx context.Context,
	tokenPath string,
	cfg *oauth2.Config,
	openURL func(string) error,
	logger *slog.Logger,
) (*Credential, error) {
	logger.Info("starting browser auth flow (authorization code + PKCE)")

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, logger)

	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d", port)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("graph: generating state token: %w", err)
	}

	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})

	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	if err := openURL(authURL); err != nil {
		return nil, fmt.Errorf("graph: showing sign-in prompt: %w", err)
	}

	var code string

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, result.err
		}

		code = result.code
	case <-ctx.Done():
		return nil, fmt.Errorf("graph: browser auth canceled: %w", ctx.Err())
	}

	logger.Info("received authorization code, exchanging for token")

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("graph: token exchange failed: %w", err)
	}

	return saveCredential(ctx, cfg, tokenPath, tok, logger)
}

func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("graph: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, errors.New("graph: listener address is not TCP")
	}

	logger.Debug("callback server listening", slog.Int("port", tcpAddr.Port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("graph: callback server error: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, tcpAddr.Port, nil
}

// handleOAuthCallback validates the state, extracts the code, and reports
// the result. Only the first callback is delivered.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	report := func(res callbackResult) {
		select {
		case resultCh <- res:
		default:
		}
	}

	q := r.URL.Query()

	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		report(callbackResult{err: errors.New("graph: OAuth2 state mismatch (possible CSRF)")})

		return
	}

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		report(callbackResult{err: fmt.Errorf("graph: authorization failed: %s: %s", errParam, q.Get("error_description"))})

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		report(callbackResult{err: errors.New("graph: callback missing authorization code")})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Signed in</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	report(callbackResult{code: code})
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// saveCredential persists a fresh token with its granted scopes.
func saveCredential(
	ctx context.Context,
	cfg *oauth2.Config,
	tokenPath string,
	tok *oauth2.Token,
	logger *slog.Logger,
) (*Credential, error) {
	scopes := grantedScopes(tok, cfg.Scopes)

	if err := tokenfile.Save(tokenPath, &tokenfile.File{Token: tok, Scopes: scopes}); err != nil {
		return nil, fmt.Errorf("graph: saving token: %w", err)
	}

	logger.Info("login successful",
		slog.Time("expiry", tok.Expiry),
		slog.Int("scopes", len(scopes)),
	)

	return &Credential{
		Source: &tokenBridge{src: cfg.TokenSource(ctx, tok), logger: logger},
		Scopes: scopes,
	}, nil
}

// grantedScopes reads the space-separated "scope" field of the token
// response. Servers that omit it granted what was requested.
func grantedScopes(tok *oauth2.Token, requested []string) []string {
	raw, _ := tok.Extra("scope").(string)
	if strings.TrimSpace(raw) == "" {
		return slices.Clone(requested)
	}

	return strings.Fields(raw)
}

// TokenSourceFromPath loads the saved credential at tokenPath and returns a
// TokenSource that refreshes silently and persists refreshed tokens, along
// with the stored file so callers can inspect account and scopes. Returns
// ErrNotLoggedIn when nothing is saved.
func TokenSourceFromPath(ctx context.Context, tokenPath string, logger *slog.Logger) (TokenSource, *tokenfile.File, error) {
	f, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, nil, err
	}

	if f == nil {
		return nil, nil, ErrNotLoggedIn
	}

	logger.Debug("loaded saved token",
		slog.Time("expiry", f.Token.Expiry),
		slog.Bool("expired", !f.Token.Expiry.IsZero() && f.Token.Expiry.Before(time.Now())),
	)

	src := oauthConfig(tokenPath, logger).TokenSource(ctx, f.Token)

	return &tokenBridge{src: src, logger: logger}, f, nil
}

// SaveAccount records the signed-in account next to the saved token.
func SaveAccount(tokenPath string, u *User) error {
	f, err := tokenfile.Load(tokenPath)
	if err != nil {
		return err
	}

	if f == nil {
		return ErrNotLoggedIn
	}

	f.Account = tokenfile.Account{UserID: u.ID, Email: u.Email, DisplayName: u.DisplayName}

	return tokenfile.Save(tokenPath, f)
}

// Logout removes the saved token. Already logged out is not an error.
func Logout(tokenPath string, logger *slog.Logger) error {
	if err := tokenfile.Remove(tokenPath); err != nil {
		return err
	}

	logger.Info("removed saved token")

	return nil
}

// oauthConfig builds the oauth2.Config with OnTokenChange wired to persist
// refreshed tokens without losing the account and scopes on disk.
func oauthConfig(tokenPath string, logger *slog.Logger) *oauth2.Config {
	return &oauth2.Config{
		ClientID: defaultClientID,
		Scopes:   RequiredScopes,
		Endpoint: microsoft.AzureADEndpoint("common"),
		// Called by ReuseTokenSource after each silent refresh, outside its mutex.
		OnTokenChange: func(tok *oauth2.Token) {
			if err := tokenfile.UpdateToken(tokenPath, tok); err != nil {
				logger.Warn("failed to persist refreshed token", slog.String("error", err.Error()))
				return
			}

			logger.Debug("persisted refreshed token", slog.Time("new_expiry", tok.Expiry))
		},
	}
}

// tokenBridge adapts oauth2.TokenSource to graph.TokenSource.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("graph: obtaining token: %w", err)
	}

	return t.AccessToken, nil
}
