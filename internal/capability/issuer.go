// Package capability issues opaque read-only references to staged files.
//
// A reference has the form content://<authority>/<token>, where the token is
// an HS256-signed JWT naming a grant. Grants map an id to the local path and
// live in a Store, so only the process that holds the signing key and the
// store can turn a reference back into a path. Tokens carry no time-varying
// claims: issuing twice for the same path yields the same reference.
package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scheme is the URI scheme of every reference.
const Scheme = "content"

// ScopeRead is the only scope references are issued with.
const ScopeRead = "read"

// ErrInvalidReference is returned for references that are malformed, signed
// with another key, or issued by another authority.
var ErrInvalidReference = errors.New("capability: invalid reference")

// grantNamespace seeds the UUIDv5 grant ids.
var grantNamespace = uuid.MustParse("6f1c9a52-3d4e-5b8a-9c27-0e4d1f6a8b35")

type claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// Issuer signs and redeems references.
type Issuer struct {
	key       []byte
	authority string
	store     Store
	now       func() time.Time
	logger    *slog.Logger
}

// NewIssuer creates an Issuer for the given application label. The key must
// be non-empty; see LoadOrCreateKey.
func NewIssuer(label string, key []byte, store Store, logger *slog.Logger) (*Issuer, error) {
	if len(key) == 0 {
		return nil, errors.New("capability: empty signing key")
	}

	if store == nil {
		return nil, errors.New("capability: nil grant store")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Issuer{
		key:       key,
		authority: Authority(label),
		store:     store,
		now:       time.Now,
		logger:    logger,
	}, nil
}

// Authority derives the reference authority from an application label:
// lower-cased, characters outside [a-z0-9.-] replaced with '-', suffixed
// with ".provider".
func Authority(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))

	var b strings.Builder

	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}

	if b.Len() == 0 {
		b.WriteString("app")
	}

	return b.String() + ".provider"
}

// Authority returns the authority this issuer signs for.
func (i *Issuer) Authority() string {
	return i.authority
}

// Issue records a grant for localPath and returns its reference.
func (i *Issuer) Issue(ctx context.Context, localPath string) (string, error) {
	if localPath == "" {
		return "", errors.New("capability: empty path")
	}

	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", fmt.Errorf("capability: resolving %s: %w", localPath, err)
	}

	abs = filepath.Clean(abs)
	id := uuid.NewSHA1(grantNamespace, []byte(abs)).String()

	if err := i.store.Put(ctx, Grant{ID: id, Path: abs, IssuedAt: i.now()}); err != nil {
		return "", err
	}

	ref, err := i.Reference(id)
	if err != nil {
		return "", err
	}

	i.logger.Debug("issued capability", slog.String("grant_id", id))

	return ref, nil
}

// Reference signs a reference for an existing grant id.
func (i *Issuer) Reference(id string) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:     id,
			Issuer: i.authority,
		},
		Scope: ScopeRead,
	})

	signed, err := tok.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("capability: signing token: %w", err)
	}

	return Scheme + "://" + i.authority + "/" + signed, nil
}

// Redeem verifies ref and returns the local path it grants read access to.
func (i *Issuer) Redeem(ctx context.Context, ref string) (string, error) {
	id, err := i.parse(ref)
	if err != nil {
		return "", err
	}

	g, err := i.store.Get(ctx, id)
	if err != nil {
		return "", err
	}

	return g.Path, nil
}

// Revoke deletes the grant behind ref. A bare grant id is accepted too.
func (i *Issuer) Revoke(ctx context.Context, ref string) error {
	id := ref
	if strings.Contains(ref, "://") {
		var err error

		id, err = i.parse(ref)
		if err != nil {
			return err
		}
	}

	if err := i.store.Delete(ctx, id); err != nil {
		return err
	}

	i.logger.Info("revoked capability", slog.String("grant_id", id))

	return nil
}

// List returns every live grant.
func (i *Issuer) List(ctx context.Context) ([]Grant, error) {
	return i.store.List(ctx)
}

func (i *Issuer) parse(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidReference, err)
	}

	if u.Scheme != Scheme || u.Host != i.authority {
		return "", fmt.Errorf("%w: unexpected scheme or authority", ErrInvalidReference)
	}

	raw := strings.TrimPrefix(u.Path, "/")
	if raw == "" {
		return "", fmt.Errorf("%w: missing token", ErrInvalidReference)
	}

	var c claims

	_, err = jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.authority),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidReference, err)
	}

	if c.Scope != ScopeRead || c.ID == "" {
		return "", fmt.Errorf("%w: unexpected claims", ErrInvalidReference)
	}

	return c.ID, nil
}
