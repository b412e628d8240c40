package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/tonimelisma/onedrive-open/internal/remote"
)

var errNoTerminal = errors.New("interactive picker needs a terminal; pass --path")

// terminalHost is the remote.Launcher for the CLI. Sign-in prompts are
// printed; picks come from an interactive listing on the terminal or from
// a remote path given on the command line. Outcomes are reported back
// through results, which the app points at the orchestrator.
type terminalHost struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	directPath  string
	logger      *slog.Logger

	results func(remote.HostResult)

	mu     sync.Mutex
	gen    int
	cancel context.CancelFunc
}

var _ remote.Launcher = (*terminalHost)(nil)

func newTerminalHost(in io.Reader, out io.Writer, interactive bool, directPath string, logger *slog.Logger) *terminalHost {
	return &terminalHost{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: interactive,
		directPath:  directPath,
		logger:      logger,
		results:     func(remote.HostResult) {},
	}
}

// PromptSignIn prints how to authorize. Prompts are never suppressed by
// --quiet.
func (h *terminalHost) PromptSignIn(p remote.SignInPrompt) error {
	if p.UserCode == "" {
		fmt.Fprintf(h.out, "To sign in, open this URL in your browser:\n  %s\n", p.URL)
		return nil
	}

	fmt.Fprintf(h.out, "To sign in, visit: %s\n", p.URL)
	fmt.Fprintf(h.out, "Enter code: %s\n", p.UserCode)

	return nil
}

// StartPicker shows the picker in the background and returns at once.
func (h *terminalHost) StartPicker(req remote.PickRequest) error {
	if h.directPath == "" && !h.interactive {
		return errNoTerminal
	}

	ctx, cancel := context.WithCancel(context.Background())

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}

	h.gen++
	gen := h.gen
	h.cancel = cancel
	h.mu.Unlock()

	go func() {
		defer cancel()

		var (
			id  string
			err error
		)

		if h.directPath != "" {
			id, err = lookupFile(ctx, req, h.directPath)
		} else {
			id, err = h.browse(ctx, req)
		}

		h.finish(gen, id, err)
	}()

	return nil
}

// finish reports a pick outcome unless the picker was hidden meanwhile.
func (h *terminalHost) finish(gen int, itemID string, err error) {
	h.mu.Lock()
	if gen != h.gen {
		h.mu.Unlock()
		return
	}

	h.gen++
	h.cancel = nil
	h.mu.Unlock()

	res := remote.HostResult{RequestCode: remote.RequestOpenItem, ResultCode: remote.ResultCanceled}

	switch {
	case err != nil:
		h.logger.Debug("pick ended with error", slog.String("error", err.Error()))

		res.ResultCode = remote.ResultError
		res.Data = map[string]string{remote.DataError: err.Error()}
	case itemID != "":
		res.ResultCode = remote.ResultOK
		res.Data = map[string]string{remote.DataItemID: itemID}
	}

	h.results(res)
}

// hideAll abandons the running picker. Its outcome is never reported.
func (h *terminalHost) hideAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.gen++

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// lookupFile resolves a remote path to a pickable file id.
func lookupFile(ctx context.Context, req remote.PickRequest, remotePath string) (string, error) {
	e, err := req.Browser.Lookup(ctx, remotePath)
	if err != nil {
		return "", fmt.Errorf("looking up %s: %w", remotePath, err)
	}

	if e.IsFolder {
		return "", fmt.Errorf("%s is a folder", remotePath)
	}

	if !req.Accepts(e.ContentType) {
		return "", fmt.Errorf("%s has content type %q, which is not accepted (see --type)", remotePath, e.ContentType)
	}

	return e.ID, nil
}

// crumb is one level of the folder trail shown by the picker.
type crumb struct {
	id   string
	name string
}

// browse runs the interactive picker. It returns "" with a nil error when
// the user quits.
func (h *terminalHost) browse(ctx context.Context, req remote.PickRequest) (string, error) {
	var trail []crumb

	if req.StartFolder != "" {
		e, err := req.Browser.Lookup(ctx, req.StartFolder)

		switch {
		case err != nil:
			h.logger.Warn("start folder not found, using root",
				slog.String("folder", req.StartFolder), slog.String("error", err.Error()))
		case !e.IsFolder:
			h.logger.Warn("start folder is not a folder, using root", slog.String("folder", req.StartFolder))
		default:
			trail = append(trail, crumb{id: e.ID, name: strings.Trim(req.StartFolder, "/")})
		}
	}

	for {
		folderID := ""
		if len(trail) > 0 {
			folderID = trail[len(trail)-1].id
		}

		entries, err := req.Browser.List(ctx, folderID)
		if err != nil {
			return "", fmt.Errorf("listing folder: %w", err)
		}

		visible := pickable(req, entries)
		h.printListing(req.Title, trail, visible)

		fmt.Fprint(h.out, "Select a number, '..' to go up, 'q' to quit: ")

		line, err := h.in.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				return "", nil
			}

			return "", fmt.Errorf("reading selection: %w", err)
		}

		if ctx.Err() != nil {
			return "", nil
		}

		choice := strings.TrimSpace(line)

		switch choice {
		case "q", "quit":
			return "", nil
		case "..":
			if len(trail) > 0 {
				trail = trail[:len(trail)-1]
			}

			continue
		case "":
			continue
		}

		n, convErr := strconv.Atoi(choice)
		if convErr != nil || n < 1 || n > len(visible) {
			fmt.Fprintf(h.out, "No entry %q.\n", choice)
			continue
		}

		e := visible[n-1]
		if e.IsFolder {
			trail = append(trail, crumb{id: e.ID, name: e.Name})
			continue
		}

		return e.ID, nil
	}
}

// pickable keeps folders and the files the request accepts.
func pickable(req remote.PickRequest, entries []remote.Entry) []remote.Entry {
	out := make([]remote.Entry, 0, len(entries))

	for _, e := range entries {
		if e.IsFolder || req.Accepts(e.ContentType) {
			out = append(out, e)
		}
	}

	return out
}

func (h *terminalHost) printListing(title string, trail []crumb, entries []remote.Entry) {
	names := make([]string, 0, len(trail))
	for _, c := range trail {
		names = append(names, c.name)
	}

	fmt.Fprintf(h.out, "\n%s: %s\n", title, path.Join("/", strings.Join(names, "/")))

	if len(entries) == 0 {
		fmt.Fprintln(h.out, "  (nothing to pick here)")
		return
	}

	rows := make([][]string, 0, len(entries))

	for i, e := range entries {
		name, size := e.Name, formatSize(e.Size)
		if e.IsFolder {
			name, size = e.Name+"/", ""
		}

		rows = append(rows, []string{strconv.Itoa(i + 1), name, size})
	}

	printTable(h.out, []string{"#", "NAME", "SIZE"}, rows)
}
