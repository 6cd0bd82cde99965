package api

import (
	"context"
	"fmt"

	"ba-agent-core/pkg/types"
)

type contextKey string

const userContextKey contextKey = "api_user"

// User identifies the caller of a request, attached to the context by
// sessionMiddleware. Mirrors pkg/types.Caller's shape so handlers can pass
// it straight through to the file store's access checks.
type User struct {
	SessionID string
	UserID    string
}

func (u User) toCaller() types.Caller {
	return types.Caller{SessionID: u.SessionID, UserID: u.UserID}
}

func withUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

func userFromContext(ctx context.Context) (User, error) {
	u, ok := ctx.Value(userContextKey).(User)
	if !ok {
		return User{}, fmt.Errorf("no user in request context")
	}
	return u, nil
}
