package claims

import (
	"context"
	"errors"
)

const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// Claims identifies the caller of a request once its bearer token has been
// verified and mapped to a local user row.
type Claims struct {
	UserID string
	Email  string
	Role   string
}

type ctxKey int

const claimsKey ctxKey = 1

func Set(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func Get(ctx context.Context) (Claims, error) {
	v, ok := ctx.Value(claimsKey).(Claims)
	if !ok {
		return Claims{}, errors.New("claim value missing from context")
	}
	return v, nil
}

func IsAdmin(ctx context.Context) bool {
	c, err := Get(ctx)
	if err != nil {
		return false
	}

	return c.Role == RoleAdmin
}

// CanAccess reports whether the caller owns the resource of userID or is an
// administrator.
func CanAccess(ctx context.Context, userID string) bool {
	c, err := Get(ctx)
	if err != nil {
		return false
	}

	return c.UserID == userID || c.Role == RoleAdmin
}

func RoleOf(admin bool) string {
	if admin {
		return RoleAdmin
	}
	return RoleUser
}
