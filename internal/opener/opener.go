// Package opener hands a staged artifact to a viewer on the host. Handler
// commands come from configuration keyed by content type, falling back to
// the platform's default opener.
package opener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
)

// FallbackNone disables the platform default opener.
const FallbackNone = "none"

// pathPlaceholder in a handler command line is replaced by the file path.
// Without it the path is appended as the last argument.
const pathPlaceholder = "%f"

// ErrNoHandler is returned when no installed command can open a content type.
var ErrNoHandler = errors.New("opener: no handler for content type")

// Redeemer turns an opaque reference back into a local path.
type Redeemer interface {
	Redeem(ctx context.Context, ref string) (string, error)
}

// Options configures a System.
type Options struct {
	// Handlers maps a content type ("application/pdf") or a wildcard
	// subtype ("image/*") to a command line.
	Handlers map[string]string
	// Fallback is "" for the platform default, FallbackNone, or a command line.
	Fallback string
	Redeemer Redeemer
	Logger   *slog.Logger
}

// System opens artifacts by running a handler command per content type.
type System struct {
	handlers map[string][]string
	fallback []string
	redeemer Redeemer
	logger   *slog.Logger

	lookPath func(file string) (string, error)
	start    func(name string, args []string) error
}

// New creates a System from opts.
func New(opts Options) *System {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handlers := make(map[string][]string, len(opts.Handlers))

	for ct, line := range opts.Handlers {
		if argv := strings.Fields(line); len(argv) > 0 {
			handlers[strings.ToLower(strings.TrimSpace(ct))] = argv
		}
	}

	return &System{
		handlers: handlers,
		fallback: fallbackCommand(opts.Fallback, runtime.GOOS),
		redeemer: opts.Redeemer,
		logger:   logger,
		lookPath: exec.LookPath,
		start:    startDetached,
	}
}

// fallbackCommand resolves the configured fallback for goos.
func fallbackCommand(fallback, goos string) []string {
	switch fallback {
	case FallbackNone:
		return nil
	case "":
		switch goos {
		case "darwin":
			return []string{"open"}
		case "windows":
			return []string{"rundll32", "url.dll,FileProtocolHandler"}
		default:
			return []string{"xdg-open"}
		}
	default:
		return strings.Fields(fallback)
	}
}

// Open redeems ref and starts a viewer for it. The viewer runs detached and
// outlives ctx.
func (s *System) Open(ctx context.Context, ref, contentType string) error {
	argv, err := s.pick(contentType)
	if err != nil {
		return err
	}

	path, err := s.redeemer.Redeem(ctx, ref)
	if err != nil {
		return fmt.Errorf("opener: redeeming reference: %w", err)
	}

	name, args := expand(argv, path)

	s.logger.Info("opening artifact",
		slog.String("content_type", contentType),
		slog.String("handler", name),
	)

	if err := s.start(name, args); err != nil {
		return fmt.Errorf("opener: starting %s: %w", name, err)
	}

	return nil
}

// pick chooses the first installed command among the exact handler, the
// wildcard handler, and the fallback.
func (s *System) pick(contentType string) ([]string, error) {
	var candidates [][]string

	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct != "" && ct != "*/*" {
		if argv, ok := s.handlers[ct]; ok {
			candidates = append(candidates, argv)
		}

		if major, _, ok := strings.Cut(ct, "/"); ok {
			if argv, ok := s.handlers[major+"/*"]; ok {
				candidates = append(candidates, argv)
			}
		}
	}

	if len(s.fallback) > 0 {
		candidates = append(candidates, s.fallback)
	}

	for _, argv := range candidates {
		resolved, err := s.lookPath(argv[0])
		if err != nil {
			s.logger.Debug("handler not installed",
				slog.String("command", argv[0]),
				slog.String("error", err.Error()),
			)

			continue
		}

		return append([]string{resolved}, argv[1:]...), nil
	}

	return nil, fmt.Errorf("%w %q", ErrNoHandler, contentType)
}

func expand(argv []string, path string) (string, []string) {
	args := make([]string, 0, len(argv))
	substituted := false

	for _, a := range argv[1:] {
		if strings.Contains(a, pathPlaceholder) {
			a = strings.ReplaceAll(a, pathPlaceholder, path)
			substituted = true
		}

		args = append(args, a)
	}

	if !substituted {
		args = append(args, path)
	}

	return argv[0], args
}

// startDetached starts the command without tying it to a context and reaps
// it in the background.
func startDetached(name string, args []string) error {
	cmd := exec.Command(name, args...) //nolint:gosec // handler commands come from the user's config
	if err := cmd.Start(); err != nil {
		return err
	}

	go func() {
		_ = cmd.Wait()
	}()

	return nil
}
