// Package session owns the signed-in/signed-out state of the user's session
// with the remote storage service. The Controller is the only writer of that
// state; it changes it in response to completion events from the remote
// client or an explicit logout.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tonimelisma/onedrive-open/internal/event"
)

// State is the session state.
type State int

// Session states.
const (
	LoggedOut State = iota
	LoggedIn
)

func (s State) String() string {
	if s == LoggedIn {
		return "logged-in"
	}

	return "logged-out"
}

// errNoResult is attached when a client closes an auth handle without
// delivering the event it owes.
var errNoResult = errors.New("session: auth completed without a result")

// Authenticator is the subset of remote.Client the controller drives.
type Authenticator interface {
	CheckLoginStatus(ctx context.Context) <-chan event.Event
	Auth(ctx context.Context) <-chan event.Event
	Logout() error
}

// Controller tracks the session state. Safe for concurrent use.
type Controller struct {
	auth   Authenticator
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	account     string
	authPending bool
	// generation is bumped by every Logout. Completions started under an
	// older generation never change the state.
	generation uint64
}

// NewController creates a controller in the LoggedOut state.
func NewController(auth Authenticator, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{auth: auth, logger: logger}
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Account returns the signed-in account name, or "" when logged out.
func (c *Controller) Account() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.account
}

// Generation returns the current session generation. It changes on every
// Logout, so a caller can tell whether a result it started waiting for
// belongs to a session that has since been signed out.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.generation
}

// CheckLoginStatus asks the client for an existing credential. The returned
// handle yields LoggedIn when one is found; otherwise it closes without an
// event and the state is left alone.
func (c *Controller) CheckLoginStatus(ctx context.Context) <-chan event.Event {
	gen := c.Generation()
	src := c.auth.CheckLoginStatus(ctx)
	out := make(chan event.Event, 1)

	go func() {
		defer close(out)

		ev, ok := <-src
		if !ok {
			c.logger.Debug("no stored credential")
			return
		}

		switch e := ev.(type) {
		case event.LoggedIn:
			if !c.markLoggedIn(gen, e.Account) {
				c.logger.Info("ignoring credential check result from before logout")
				return
			}

			out <- e
		case event.Failed:
			c.logger.Warn("stored credential check failed",
				slog.String("kind", e.Kind.String()),
				slog.String("error", e.Detail),
			)
		case event.Cancelled, event.Downloaded:
			c.logger.Warn("ignoring unexpected credential check result",
				slog.String("type", typeName(ev)),
			)
		}
	}()

	return out
}

// Auth starts an interactive sign-in. Only one may be pending; a second call
// while one is in flight yields AlreadyInProgress without contacting the
// client. Failures from the client are reported as KindAuth.
func (c *Controller) Auth(ctx context.Context) <-chan event.Event {
	c.mu.Lock()
	if c.authPending {
		c.mu.Unlock()
		c.logger.Info("rejecting sign-in: another sign-in is pending")

		return event.Deliver(event.Busy(event.OpAuth))
	}

	c.authPending = true
	gen := c.generation
	c.mu.Unlock()

	c.logger.Info("sign-in started")

	src := c.auth.Auth(ctx)
	out := make(chan event.Event, 1)

	go func() {
		defer close(out)

		ev, ok := <-src
		out <- c.finishAuth(gen, ev, ok)
	}()

	return out
}

// finishAuth applies the sign-in outcome and normalises it to an auth event.
// A sign-in that completes after a Logout is reported as cancelled.
func (c *Controller) finishAuth(gen uint64, ev event.Event, ok bool) event.Event {
	c.mu.Lock()
	if c.generation == gen {
		c.authPending = false
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Error("sign-in handle closed without a result")
		return event.Fail(event.OpAuth, event.KindUnknown, errNoResult)
	}

	switch e := ev.(type) {
	case event.LoggedIn:
		if !c.markLoggedIn(gen, e.Account) {
			c.logger.Info("discarding sign-in that completed after logout")
			return event.Cancelled{Op: event.OpAuth}
		}

		return e
	case event.Cancelled:
		c.logger.Info("sign-in cancelled")
		return event.Cancelled{Op: event.OpAuth}
	case event.Failed:
		if e.Kind != event.KindAlreadyInProgress {
			e.Kind = event.KindAuth
		}

		e.Op = event.OpAuth
		c.logger.Warn("sign-in failed", slog.String("error", e.Detail))

		return e
	case event.Downloaded:
		c.logger.Error("sign-in produced a download result")
		return event.Fail(event.OpAuth, event.KindUnknown, errNoResult)
	default:
		return event.Fail(event.OpAuth, event.KindUnknown, errNoResult)
	}
}

// Logout clears the credential and moves to LoggedOut unconditionally. Safe
// to call when already logged out. The returned error only reports a failure
// to remove the stored credential; the state changes regardless. A sign-in
// still pending is orphaned: its result will not sign the session back in,
// and a new Auth may start right away.
func (c *Controller) Logout() error {
	err := c.auth.Logout()

	c.mu.Lock()
	prev := c.state
	c.state = LoggedOut
	c.account = ""
	c.authPending = false
	c.generation++
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("clearing credential failed", slog.String("error", err.Error()))
	}

	if prev != LoggedOut {
		c.logger.Info("session state changed",
			slog.String("from", prev.String()),
			slog.String("to", LoggedOut.String()),
		)
	}

	return err
}

// markLoggedIn moves to LoggedIn unless a Logout happened since gen was
// captured. It reports whether the transition was applied.
func (c *Controller) markLoggedIn(gen uint64, account string) bool {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return false
	}

	prev := c.state
	c.state = LoggedIn
	c.account = account
	c.mu.Unlock()

	c.logger.Info("session state changed",
		slog.String("from", prev.String()),
		slog.String("to", LoggedIn.String()),
		slog.String("account", account),
	)

	return true
}

func typeName(ev event.Event) string {
	switch ev.(type) {
	case event.LoggedIn:
		return "logged-in"
	case event.Downloaded:
		return "downloaded"
	case event.Cancelled:
		return "cancelled"
	case event.Failed:
		return "failed"
	default:
		return "unknown"
	}
}
