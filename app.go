package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/onedrive-open/internal/artifact"
	"github.com/tonimelisma/onedrive-open/internal/capability"
	"github.com/tonimelisma/onedrive-open/internal/config"
	"github.com/tonimelisma/onedrive-open/internal/graph"
	"github.com/tonimelisma/onedrive-open/internal/onedrive"
	"github.com/tonimelisma/onedrive-open/internal/opener"
	"github.com/tonimelisma/onedrive-open/internal/orchestrator"
	"github.com/tonimelisma/onedrive-open/internal/remote"
	"github.com/tonimelisma/onedrive-open/internal/session"
)

// noticeBuffer lets a flow publish without waiting on the printer.
const noticeBuffer = 16

// app is one wired session: the OneDrive client behind a session controller,
// the resolver and opener behind the orchestrator, and the terminal host.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	host    *terminalHost
	session *session.Controller
	orch    *orchestrator.Orchestrator
	store   capability.Store
	// quiet suppresses notice output; status prints its own summary.
	quiet bool
}

// startApp wires an app from the resolved config for the terminal. A
// non-empty directPath replaces the interactive picker.
func startApp(ctx context.Context, directPath string, filter *remote.Filter) (*app, error) {
	logger := buildLogger()
	host := newTerminalHost(os.Stdin, os.Stderr, isatty.IsTerminal(os.Stdin.Fd()), directPath, logger)

	return newApp(ctx, resolvedCfg, logger, host, filter)
}

// newApp wires every component from cfg. filter is applied to every pick.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, host *terminalHost, filter *remote.Filter) (*app, error) {
	issuer, store, err := openIssuer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	limit, err := config.ParseBandwidth(cfg.Download.BandwidthLimit)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("download.bandwidth_limit: %w", err)
	}

	client := onedrive.New(onedrive.Options{
		TokenPath:      config.TokenPath(),
		Service:        remote.NewServiceConfig(cfg.Service.ApplicationLabel, cfg.Service.AcceptedContentTypes),
		AuthFlow:       cfg.Service.AuthFlow,
		DownloadDir:    cfg.Download.DownloadDir,
		BandwidthLimit: limit,
		HTTPClient:     graph.NewHTTPClient(cfg.Network.ConnectTimeoutDuration(), cfg.Network.DataTimeoutDuration()),
		UserAgent:      cfg.Network.UserAgent,
		Launcher:       host,
		Logger:         logger,
	})

	ctrl := session.NewController(client, logger)

	orch := orchestrator.New(orchestrator.Options{
		Session:  ctrl,
		Remote:   client,
		Resolver: artifact.NewResolver(issuer),
		Opener: opener.New(opener.Options{
			Handlers: cfg.Open.Handlers,
			Fallback: cfg.Open.Fallback,
			Redeemer: issuer,
			Logger:   logger,
		}),
		Filter: filter,
		Logger: logger,
	})

	host.results = orch.HandleHostResult

	return &app{
		cfg:     cfg,
		logger:  logger,
		host:    host,
		session: ctrl,
		orch:    orch,
		store:   store,
		quiet:   flagQuiet,
	}, nil
}

// openIssuer opens the configured grant store and signing key.
func openIssuer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*capability.Issuer, capability.Store, error) {
	key, err := capability.LoadOrCreateKey(cfg.Grants.KeyFile)
	if err != nil {
		return nil, nil, err
	}

	var store capability.Store

	switch cfg.Grants.Store {
	case config.StoreMemory:
		store = capability.NewMemoryStore()
	default:
		sqlStore, openErr := capability.OpenSQLiteStore(ctx, cfg.Grants.DBPath, logger)
		if openErr != nil {
			return nil, nil, openErr
		}

		store = sqlStore
	}

	issuer, err := capability.NewIssuer(cfg.Service.ApplicationLabel, key, store, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	return issuer, store, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing grant store", slog.String("error", err.Error()))
	}
}

// checkLogin runs the start-up credential check and waits for its outcome.
func (a *app) checkLogin(ctx context.Context) error {
	_, err := a.run(ctx, a.orch.Start)
	return err
}

// run starts a flow with request, prints its notices and returns them once
// every watcher started so far has finished. The first interrupt cancels the
// flow: pending prompts and pickers get a canceled host result and ctx is
// canceled for in-flight transfers.
func (a *app) run(ctx context.Context, request func(ctx context.Context)) ([]orchestrator.Notice, error) {
	parent, stop := context.WithCancel(ctx)
	defer stop()

	flowCtx := interruptContext(parent, a.logger, a.cancelPending)

	notices, unsubscribe := a.orch.Subscribe(noticeBuffer)
	defer unsubscribe()

	done := make(chan struct{})

	var got []orchestrator.Notice

	g := new(errgroup.Group)

	g.Go(func() error {
		request(flowCtx)
		a.orch.Wait()
		close(done)

		return nil
	})

	g.Go(func() error {
		for {
			select {
			case n := <-notices:
				got = append(got, n)
				a.report(n)
			case <-done:
				for {
					select {
					case n := <-notices:
						got = append(got, n)
						a.report(n)
					default:
						return nil
					}
				}
			}
		}
	})

	err := g.Wait()

	return got, err
}

// cancelPending answers any open prompt or picker with a cancel.
func (a *app) cancelPending() {
	a.host.hideAll()

	a.orch.HandleHostResult(remote.HostResult{RequestCode: remote.RequestSignIn, ResultCode: remote.ResultCanceled})
	a.orch.HandleHostResult(remote.HostResult{RequestCode: remote.RequestOpenItem, ResultCode: remote.ResultCanceled})
}

// report prints a notice for the user.
func (a *app) report(n orchestrator.Notice) {
	quiet := a.quiet

	switch e := n.(type) {
	case orchestrator.LoggedIn:
		statusf(quiet, "Signed in as %s.\n", e.Account)
	case orchestrator.LoggedOut:
		statusf(quiet, "Signed out.\n")
	case orchestrator.ArtifactReady:
		statusf(quiet, "Downloaded %s (%s)\n", e.Artifact.LocalPath, e.Artifact.OpenType())
	case orchestrator.Cancelled:
		statusf(quiet, "%s\n", cancelMessage(e.Op))
	case orchestrator.Error:
		a.logger.Debug("flow error",
			slog.String("op", e.Op.String()),
			slog.String("kind", e.Kind.String()),
		)
	}
}

// firstError returns the first Error notice, if any.
func firstError(notices []orchestrator.Notice) error {
	for _, n := range notices {
		if e, ok := n.(orchestrator.Error); ok {
			return e
		}
	}

	return nil
}

// has reports whether notices contain one of type T.
func has[T orchestrator.Notice](notices []orchestrator.Notice) bool {
	for _, n := range notices {
		if _, ok := n.(T); ok {
			return true
		}
	}

	return false
}
