package auth

import "context"

type contextKey struct{}

// UserContext is the authenticated caller.
type UserContext struct {
	UserID     string
	Role       string
	Department string
}

// WithUser stores the caller on ctx.
func WithUser(ctx context.Context, u UserContext) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// GetUserContext returns the caller stored by WithUser.
func GetUserContext(ctx context.Context) (UserContext, bool) {
	u, ok := ctx.Value(contextKey{}).(UserContext)
	if !ok || u.UserID == "" {
		return UserContext{}, false
	}
	return u, true
}
