package connect

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

const (
	userLocalsKey    = "connect.user"
	sessionLocalsKey = "connect.session"
)

var userCtxKey = &contextKey{"user"}

type contextKey struct {
	name string
}

// WithContext sets the staff user in the given context
func WithContext(ctx context.Context, user UserData) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// FromContext finds the staff user from the context.
func FromContext(ctx context.Context) (UserData, bool) {
	raw, ok := ctx.Value(userCtxKey).(UserData)
	return raw, ok
}

// SetRequestUser stores the authenticated staff user and its session on c
func SetRequestUser(c *fiber.Ctx, user UserData, session AuthSession) {
	c.Locals(userLocalsKey, user)
	c.Locals(sessionLocalsKey, session)
	c.SetUserContext(WithContext(c.UserContext(), user))
}

// RequestUser returns the staff user stored by the route guard
func RequestUser(c *fiber.Ctx) (UserData, bool) {
	user, ok := c.Locals(userLocalsKey).(UserData)
	return user, ok
}

// RequestSession returns the authorization session stored by the route guard
func RequestSession(c *fiber.Ctx) (AuthSession, bool) {
	session, ok := c.Locals(sessionLocalsKey).(AuthSession)
	return session, ok
}
