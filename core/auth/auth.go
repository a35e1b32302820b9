// Package auth turns bearer tokens issued by an OpenID Connect provider
// into request claims.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/irsalhamdi/storefront/core/claims"
	"github.com/irsalhamdi/storefront/core/user"
	"github.com/jmoiron/sqlx"
)

// Verifier checks a raw bearer token and returns the identity it carries.
type Verifier interface {
	Verify(ctx context.Context, raw string) (user.Identity, error)
}

type oidcVerifier struct {
	v *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider at issuer. An empty clientID skips
// the audience check.
func NewOIDCVerifier(ctx context.Context, issuer string, clientID string) (Verifier, error) {
	prov, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discovering provider %s: %w", issuer, err)
	}

	cfg := &oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: clientID == "",
	}
	return &oidcVerifier{v: prov.Verifier(cfg)}, nil
}

func (o *oidcVerifier) Verify(ctx context.Context, raw string) (user.Identity, error) {
	tok, err := o.v.Verify(ctx, raw)
	if err != nil {
		return user.Identity{}, err
	}

	var cl struct {
		Email string `json:"email"`
	}
	if err := tok.Claims(&cl); err != nil {
		return user.Identity{}, fmt.Errorf("decoding token claims: %w", err)
	}

	return user.Identity{Subject: tok.Subject, Email: cl.Email}, nil
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || tok == "" {
		return "", false
	}
	return tok, true
}

// Authenticate requires a valid bearer token and stores the caller's claims
// in the request context. The local user row is created on first sight.
func Authenticate(db *sqlx.DB, v Verifier) web.Middleware {
	return func(next web.Handler) web.Handler {
		return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			raw, ok := bearer(r)
			if !ok {
				return weberr.NotAuthorized(errors.New("missing bearer token"))
			}

			id, err := v.Verify(ctx, raw)
			if err != nil {
				return weberr.NotAuthorized(fmt.Errorf("verifying token: %w", err))
			}

			u, err := user.Ensure(ctx, db, id)
			if err != nil {
				return fmt.Errorf("loading user of subject[%s]: %w", id.Subject, err)
			}

			ctx = claims.Set(ctx, claims.Claims{
				UserID: u.ID,
				Email:  u.Email,
				Role:   claims.RoleOf(u.IsAdmin),
			})
			return next(ctx, w, r)
		}
	}
}

// Admin authenticates the caller like Authenticate and then requires the
// admin role.
func Admin(db *sqlx.DB, v Verifier) web.Middleware {
	authen := Authenticate(db, v)

	return func(next web.Handler) web.Handler {
		admin := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if !claims.IsAdmin(ctx) {
				return weberr.Forbidden(errors.New("admin role required"))
			}
			return next(ctx, w, r)
		}
		return authen(admin)
	}
}
