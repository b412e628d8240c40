// Package orchestrator sequences the user-facing flows: the start-up
// credential check, sign-in, sign-out, and pick/download/open. It holds no
// state of its own beyond the in-flight transfer; the session state is owned
// by the session controller.
//
// Hosts observe progress through notices delivered on subscriber channels.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tonimelisma/onedrive-open/internal/artifact"
	"github.com/tonimelisma/onedrive-open/internal/event"
	"github.com/tonimelisma/onedrive-open/internal/opener"
	"github.com/tonimelisma/onedrive-open/internal/remote"
	"github.com/tonimelisma/onedrive-open/internal/session"
)

// Notice is one of LoggedIn, LoggedOut, ArtifactReady, Cancelled or Error.
type Notice interface {
	notice()
}

// LoggedIn is published when the session becomes signed in.
type LoggedIn struct {
	Account string
}

// LoggedOut is published after every logout request.
type LoggedOut struct{}

// ArtifactReady is published when a downloaded file has been resolved,
// before it is handed to a viewer.
type ArtifactReady struct {
	Artifact artifact.Artifact
}

// Cancelled is published when the user aborted a flow. It is not an error.
type Cancelled struct {
	Op event.Op
}

// Error is published when a flow fails or a request is rejected.
type Error struct {
	Op     event.Op
	Kind   event.Kind
	Detail string
}

func (LoggedIn) notice()      {}
func (LoggedOut) notice()     {}
func (ArtifactReady) notice() {}
func (Cancelled) notice()     {}
func (Error) notice()         {}

func (e Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}

	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Detail)
}

var (
	errNotSignedIn     = errors.New("orchestrator: not signed in")
	errAlreadySignedIn = errors.New("orchestrator: already signed in")
	errNoPickResult    = errors.New("orchestrator: pick completed without a result")
)

// Session is the session controller surface the orchestrator drives.
type Session interface {
	CheckLoginStatus(ctx context.Context) <-chan event.Event
	Auth(ctx context.Context) <-chan event.Event
	Logout() error
	State() session.State
	Generation() uint64
}

// Remote is the part of the remote client used outside sign-in.
type Remote interface {
	PickFiles(ctx context.Context, filter *remote.Filter) <-chan event.Event
	HandleHostResult(result remote.HostResult)
}

// Resolver turns a staged path into an artifact.
type Resolver interface {
	Resolve(ctx context.Context, localPath string) (artifact.Artifact, error)
}

// Opener hands an artifact reference to a viewer.
type Opener interface {
	Open(ctx context.Context, ref, contentType string) error
}

// Options wires an Orchestrator.
type Options struct {
	Session  Session
	Remote   Remote
	Resolver Resolver
	Opener   Opener
	// Filter is passed to every pick; nil uses the service defaults.
	Filter *remote.Filter
	Logger *slog.Logger
}

type subscriber struct {
	ch   chan Notice
	done chan struct{}
	once sync.Once
}

// Orchestrator coordinates the session controller, the remote client, the
// resolver, and the opener. Safe for concurrent use.
type Orchestrator struct {
	session  Session
	remote   Remote
	resolver Resolver
	opener   Opener
	filter   *remote.Filter
	logger   *slog.Logger

	mu      sync.Mutex
	subs    map[int]*subscriber
	nextSub int
	// transfer is the id of the in-flight transfer, 0 when none.
	transfer     uint64
	lastTransfer uint64

	wg sync.WaitGroup
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		session:  opts.Session,
		remote:   opts.Remote,
		resolver: opts.Resolver,
		opener:   opts.Opener,
		filter:   opts.Filter,
		logger:   logger,
		subs:     make(map[int]*subscriber),
	}
}

// Subscribe registers a notice receiver with the given buffer size. Notices
// are never dropped: delivery blocks until the subscriber receives or calls
// the returned unsubscribe func. The channel is not closed on unsubscribe.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Notice, func()) {
	if buffer < 0 {
		buffer = 0
	}

	s := &subscriber{
		ch:   make(chan Notice, buffer),
		done: make(chan struct{}),
	}

	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = s
	o.mu.Unlock()

	unsubscribe := func() {
		s.once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
			close(s.done)
		})
	}

	return s.ch, unsubscribe
}

// State returns the session state.
func (o *Orchestrator) State() session.State {
	return o.session.State()
}

// Wait blocks until every flow started so far has published its notices.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Start runs the start-up credential check. A stored credential publishes
// LoggedIn; anything else leaves the session signed out without a notice.
func (o *Orchestrator) Start(ctx context.Context) {
	o.logger.Debug("checking stored credential")

	ch := o.session.CheckLoginStatus(ctx)

	o.watch(func() {
		ev, ok := <-ch
		if !ok {
			return
		}

		if e, isLogin := ev.(event.LoggedIn); isLogin {
			o.publish(LoggedIn{Account: e.Account})
		}
	})
}

// RequestLogin starts interactive sign-in. Only valid while signed out.
func (o *Orchestrator) RequestLogin(ctx context.Context) {
	if o.session.State() == session.LoggedIn {
		o.reject(event.OpAuth, event.KindNotPermitted, errAlreadySignedIn)
		return
	}

	ch := o.session.Auth(ctx)

	o.watch(func() {
		ev, ok := <-ch
		if !ok {
			o.publish(Error{Op: event.OpAuth, Kind: event.KindUnknown})
			return
		}

		switch e := ev.(type) {
		case event.LoggedIn:
			o.publish(LoggedIn{Account: e.Account})
		case event.Cancelled:
			o.publish(Cancelled{Op: event.OpAuth})
		case event.Failed:
			o.publish(Error{Op: event.OpAuth, Kind: e.Kind, Detail: e.Detail})
		default:
			o.publish(Error{Op: event.OpAuth, Kind: event.KindUnknown})
		}
	})
}

// RequestTransfer starts a pick/download and hands the result to a viewer.
// Only valid while signed in, and only one transfer may be in flight.
func (o *Orchestrator) RequestTransfer(ctx context.Context) {
	if o.session.State() != session.LoggedIn {
		o.reject(event.OpTransfer, event.KindNotPermitted, errNotSignedIn)
		return
	}

	gen := o.session.Generation()

	o.mu.Lock()
	if o.transfer != 0 {
		o.mu.Unlock()
		o.reject(event.OpTransfer, event.KindAlreadyInProgress, event.ErrAlreadyInProgress)

		return
	}

	o.lastTransfer++
	id := o.lastTransfer
	o.transfer = id
	o.mu.Unlock()

	o.logger.Info("transfer started")

	ch := o.remote.PickFiles(ctx, o.filter)

	o.watch(func() {
		defer func() {
			o.mu.Lock()
			if o.transfer == id {
				o.transfer = 0
			}
			o.mu.Unlock()
		}()

		ev, ok := <-ch
		if !ok {
			o.logger.Error("pick handle closed without a result")
			o.publish(Error{Op: event.OpTransfer, Kind: event.KindUnknown, Detail: errNoPickResult.Error()})

			return
		}

		switch e := ev.(type) {
		case event.Downloaded:
			o.handoff(ctx, gen, e)
		case event.Cancelled:
			o.logger.Info("transfer cancelled")
			o.publish(Cancelled{Op: event.OpTransfer})
		case event.Failed:
			o.logger.Warn("transfer failed",
				slog.String("kind", e.Kind.String()),
				slog.String("error", e.Detail),
			)
			o.publish(Error{Op: event.OpTransfer, Kind: e.Kind, Detail: e.Detail})
		default:
			o.publish(Error{Op: event.OpTransfer, Kind: event.KindUnknown, Detail: errNoPickResult.Error()})
		}
	})
}

// handoff resolves a download, announces it, and requests a viewer. A
// download that lands after the session it started in was signed out is
// reported as cancelled and never opened.
func (o *Orchestrator) handoff(ctx context.Context, gen uint64, d event.Downloaded) {
	if o.outlived(gen, d) {
		return
	}

	a, err := o.resolver.Resolve(ctx, d.Path)
	if err != nil {
		o.logger.Error("resolving download failed", slog.String("error", err.Error()))
		o.publish(Error{Op: event.OpOpen, Kind: event.KindUnknown, Detail: err.Error()})

		return
	}

	if o.outlived(gen, d) {
		return
	}

	o.logger.Info("artifact ready",
		slog.String("path", a.LocalPath),
		slog.String("content_type", a.OpenType()),
	)

	o.publish(ArtifactReady{Artifact: a})

	err = o.opener.Open(ctx, a.Reference, a.OpenType())

	switch {
	case err == nil:
	case errors.Is(err, opener.ErrNoHandler):
		o.logger.Warn("no viewer for artifact", slog.String("content_type", a.OpenType()))
		o.publish(Error{Op: event.OpOpen, Kind: event.KindNoHandlerFound, Detail: err.Error()})
	default:
		o.logger.Error("opening artifact failed", slog.String("error", err.Error()))
		o.publish(Error{Op: event.OpOpen, Kind: event.KindUnknown, Detail: err.Error()})
	}
}

// outlived reports, and publishes as cancelled, a download whose session
// generation ended before it completed.
func (o *Orchestrator) outlived(gen uint64, d event.Downloaded) bool {
	if o.session.State() == session.LoggedIn && o.session.Generation() == gen {
		return false
	}

	o.logger.Info("discarding download that completed after logout",
		slog.String("name", d.Name),
	)
	o.publish(Cancelled{Op: event.OpTransfer})

	return true
}

// RequestLogout signs out. Always ends signed out and publishes LoggedOut.
// An in-flight transfer is released so a new one may start after sign-in.
func (o *Orchestrator) RequestLogout() {
	if err := o.session.Logout(); err != nil {
		o.logger.Warn("logout incomplete", slog.String("error", err.Error()))
	}

	o.mu.Lock()
	o.transfer = 0
	o.mu.Unlock()

	o.watch(func() {
		o.publish(LoggedOut{})
	})
}

// HandleHostResult forwards a host activity result to the remote client.
func (o *Orchestrator) HandleHostResult(result remote.HostResult) {
	o.logger.Debug("host result",
		slog.String("request", result.RequestCode.String()),
		slog.Int("result", int(result.ResultCode)),
	)

	o.remote.HandleHostResult(result)
}

func (o *Orchestrator) reject(op event.Op, kind event.Kind, err error) {
	o.logger.Info("request rejected",
		slog.String("op", op.String()),
		slog.String("kind", kind.String()),
	)

	o.watch(func() {
		o.publish(Error{Op: op, Kind: kind, Detail: err.Error()})
	})
}

// watch runs fn on a tracked goroutine so request methods never block on
// notice delivery.
func (o *Orchestrator) watch(fn func()) {
	o.wg.Add(1)

	go func() {
		defer o.wg.Done()
		fn()
	}()
}

func (o *Orchestrator) publish(n Notice) {
	o.mu.Lock()
	subs := make([]*subscriber, 0, len(o.subs))

	for _, s := range o.subs {
		subs = append(subs, s)
	}
	o.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- n:
		case <-s.done:
		}
	}
}
