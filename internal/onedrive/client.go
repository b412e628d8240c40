// Package onedrive implements remote.Client on top of the Microsoft Graph
// client: it signs the user in, hands a drive browser to the host's picker,
// stages the picked file into the download directory, and signs out.
package onedrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/tonimelisma/onedrive-open/internal/event"
	"github.com/tonimelisma/onedrive-open/internal/graph"
	"github.com/tonimelisma/onedrive-open/internal/remote"
	"github.com/tonimelisma/onedrive-open/internal/tokenfile"
)

// Auth flows.
const (
	FlowDevice  = "device"
	FlowBrowser = "browser"
)

// requiredScopes must all be present in the stored grant for a saved
// credential to count as signed in. offline_access is requested but not
// echoed back in every token response, so it is not checked.
var requiredScopes = []string{"Files.Read", "User.Read"}

var (
	errNotSignedIn = errors.New("onedrive: not signed in")
	errNoLauncher  = errors.New("onedrive: no launcher configured")
)

// driveAPI is the subset of graph.Client the OneDrive client uses.
type driveAPI interface {
	Me(ctx context.Context) (*graph.User, error)
	GetItem(ctx context.Context, itemID string) (*graph.Item, error)
	GetItemByPath(ctx context.Context, remotePath string) (*graph.Item, error)
	ListChildren(ctx context.Context, folderID string) ([]graph.Item, error)
	Download(ctx context.Context, item *graph.Item, w io.Writer) (int64, error)
}

// Options configures a Client.
type Options struct {
	TokenPath   string
	Service     remote.ServiceConfig
	AuthFlow    string // FlowDevice (default) or FlowBrowser
	DownloadDir string
	// BandwidthLimit caps download throughput in bytes per second. Zero is
	// unlimited.
	BandwidthLimit int64
	HTTPClient     *http.Client
	BaseURL        string
	UserAgent      string
	Launcher       remote.Launcher
	Logger         *slog.Logger
}

// Client is the OneDrive remote.Client.
type Client struct {
	tokenPath   string
	service     remote.ServiceConfig
	authFlow    string
	downloadDir string
	limiter     *rate.Limiter
	launcher    remote.Launcher
	http        *http.Client
	logger      *slog.Logger

	// tokenCtx carries the HTTP client used by oauth2 and outlives every
	// request so silent refreshes keep working.
	tokenCtx context.Context

	// Seams, replaced in tests.
	loadTokenSource func(ctx context.Context, path string, logger *slog.Logger) (graph.TokenSource, *tokenfile.File, error)
	deviceLogin     func(ctx context.Context, path string, display func(graph.DeviceAuth) error, logger *slog.Logger) (*graph.Credential, error)
	browserLogin    func(ctx context.Context, path string, openURL func(string) error, logger *slog.Logger) (*graph.Credential, error)
	saveAccount     func(path string, u *graph.User) error
	removeToken     func(path string, logger *slog.Logger) error
	newAPI          func(ts graph.TokenSource) driveAPI

	mu      sync.Mutex
	api     driveAPI
	account string
	auth    *pendingAuth
	pick    *pendingPick
	// epoch counts logouts; a sign-in started in an older epoch is dropped.
	epoch uint64
}

type pendingAuth struct {
	cancel context.CancelFunc
}

type pendingPick struct {
	out     *event.Once
	ctx     context.Context
	cancel  context.CancelFunc
	api     driveAPI
	started bool // a host result has been accepted
}

var _ remote.Client = (*Client)(nil)

// New creates a Client. Nothing touches the network until a method is
// called.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	flow := opts.AuthFlow
	if flow == "" {
		flow = FlowDevice
	}

	c := &Client{
		tokenPath:       opts.TokenPath,
		service:         opts.Service,
		authFlow:        flow,
		downloadDir:     opts.DownloadDir,
		limiter:         newLimiter(opts.BandwidthLimit, logger),
		launcher:        opts.Launcher,
		http:            httpClient,
		logger:          logger,
		tokenCtx:        context.WithValue(context.Background(), oauth2.HTTPClient, httpClient),
		loadTokenSource: graph.TokenSourceFromPath,
		deviceLogin:     graph.Login,
		browserLogin:    graph.LoginWithBrowser,
		saveAccount:     graph.SaveAccount,
		removeToken:     graph.Logout,
	}

	c.newAPI = func(ts graph.TokenSource) driveAPI {
		return graph.NewClient(opts.BaseURL, httpClient, ts, opts.UserAgent, logger)
	}

	return c
}

// Account returns the signed-in account name, or "" when signed out.
func (c *Client) Account() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.account
}

// CheckLoginStatus looks for a saved credential with the required scopes
// and validates it against /me. The handle closes without an event when
// there is none or it does not work.
func (c *Client) CheckLoginStatus(ctx context.Context) <-chan event.Event {
	out := event.NewOnce()
	epoch := c.currentEpoch()

	go func() {
		defer out.Close()

		api, account, err := c.restore(ctx)
		if err != nil {
			if errors.Is(err, graph.ErrNotLoggedIn) {
				c.logger.Debug("no saved credential")
			} else {
				c.logger.Warn("saved credential not usable", slog.String("error", err.Error()))
			}

			return
		}

		if !c.signedIn(epoch, api, account) {
			c.logger.Info("dropping saved credential check that finished after logout")
			return
		}

		out.Emit(event.LoggedIn{Account: account})
	}()

	return out.C()
}

// restore builds an API client from the saved token and confirms it works.
func (c *Client) restore(ctx context.Context) (driveAPI, string, error) {
	ts, f, err := c.loadTokenSource(c.tokenCtx, c.tokenPath, c.logger)
	if err != nil {
		return nil, "", err
	}

	if !f.HasScopes(requiredScopes) {
		return nil, "", fmt.Errorf("onedrive: saved credential lacks scopes %v (granted %v)", requiredScopes, f.Scopes)
	}

	api := c.newAPI(ts)

	u, err := api.Me(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("onedrive: validating saved credential: %w", err)
	}

	if f.Account.UserID == "" {
		c.rememberAccount(u)
	}

	return api, accountName(u), nil
}

// Auth runs the configured interactive sign-in flow. The prompt is shown
// through the Launcher; a (RequestSignIn, ResultCanceled) host result
// aborts the flow.
func (c *Client) Auth(ctx context.Context) <-chan event.Event {
	if c.launcher == nil {
		return event.Deliver(event.Fail(event.OpAuth, event.KindAuth, errNoLauncher))
	}

	authCtx, cancel := context.WithCancel(context.WithValue(ctx, oauth2.HTTPClient, c.http))

	c.mu.Lock()
	if c.auth != nil {
		c.mu.Unlock()
		cancel()

		return event.Deliver(event.Busy(event.OpAuth))
	}

	pending := &pendingAuth{cancel: cancel}
	c.auth = pending
	epoch := c.epoch
	c.mu.Unlock()

	out := event.NewOnce()

	go func() {
		ev := c.runAuth(authCtx, epoch)

		// Clear before delivering so a caller reacting to the event can
		// start a new sign-in right away.
		c.mu.Lock()
		if c.auth == pending {
			c.auth = nil
		}
		c.mu.Unlock()
		cancel()

		out.Emit(ev)
	}()

	return out.C()
}

func (c *Client) runAuth(ctx context.Context, epoch uint64) event.Event {
	c.logger.Info("starting sign-in", slog.String("flow", c.authFlow))

	var err error

	switch c.authFlow {
	case FlowBrowser:
		_, err = c.browserLogin(ctx, c.tokenPath, func(url string) error {
			return c.launcher.PromptSignIn(remote.SignInPrompt{URL: url})
		}, c.logger)
	default:
		_, err = c.deviceLogin(ctx, c.tokenPath, func(da graph.DeviceAuth) error {
			return c.launcher.PromptSignIn(remote.SignInPrompt{URL: da.VerificationURI, UserCode: da.UserCode})
		}, c.logger)
	}

	if ctx.Err() != nil {
		c.logger.Info("sign-in canceled")
		return event.Cancelled{Op: event.OpAuth}
	}

	if err != nil {
		return event.Fail(event.OpAuth, event.KindAuth, err)
	}

	// The credential from the login flow is bound to ctx, which ends with
	// this call. Rebuild from the saved token on the long-lived context.
	api, account, err := c.restore(ctx)
	if err != nil {
		return event.Fail(event.OpAuth, event.KindAuth, err)
	}

	if !c.signedIn(epoch, api, account) {
		c.logger.Info("sign-in finished after logout, discarding")
		return event.Cancelled{Op: event.OpAuth}
	}

	return event.LoggedIn{Account: account}
}

// Logout cancels pending operations, forgets the API client and removes
// the saved token. Removing an absent token is not an error.
func (c *Client) Logout() error {
	c.mu.Lock()

	if c.auth != nil {
		c.auth.cancel()
	}

	if c.pick != nil {
		c.pick.cancel()
	}

	c.api = nil
	c.account = ""
	c.epoch++
	c.mu.Unlock()

	if err := c.removeToken(c.tokenPath, c.logger); err != nil {
		return fmt.Errorf("onedrive: removing token: %w", err)
	}

	return nil
}

// HandleHostResult routes a host round-trip result by request code.
func (c *Client) HandleHostResult(res remote.HostResult) {
	switch res.RequestCode {
	case remote.RequestSignIn:
		c.handleSignInResult(res)
	case remote.RequestOpenItem:
		c.handlePickResult(res)
	default:
		c.logger.Warn("ignoring host result with unknown request code",
			slog.Int("request_code", int(res.RequestCode)))
	}
}

func (c *Client) handleSignInResult(res remote.HostResult) {
	if res.ResultCode != remote.ResultCanceled {
		c.logger.Debug("sign-in prompt acknowledged")
		return
	}

	c.mu.Lock()
	pending := c.auth
	c.mu.Unlock()

	if pending == nil {
		c.logger.Debug("sign-in cancel with no sign-in pending")
		return
	}

	pending.cancel()
}

func (c *Client) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.epoch
}

// signedIn installs api unless Logout ran since epoch was captured.
func (c *Client) signedIn(epoch uint64, api driveAPI, account string) bool {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return false
	}

	c.api = api
	c.account = account
	c.mu.Unlock()

	c.logger.Info("signed in", slog.String("account", account))

	return true
}

func (c *Client) rememberAccount(u *graph.User) {
	if err := c.saveAccount(c.tokenPath, u); err != nil {
		c.logger.Warn("failed to cache account details", slog.String("error", err.Error()))
	}
}

func accountName(u *graph.User) string {
	return tokenfile.Account{UserID: u.ID, Email: u.Email, DisplayName: u.DisplayName}.Name()
}
