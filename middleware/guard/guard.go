// Package guard protects staff screens behind the signed user cookie and the
// role/screen permission list.
package guard

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	connect "github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/metrics"
)

// UserTokens verifies and re-signs the staff session cookie
type UserTokens interface {
	ParseUser(token string) (connect.UserData, error)
	SignUser(user connect.UserData) (string, error)
	UserTTL() time.Duration
}

// Authorizer reconciles a user against the permission list and derives its session
type Authorizer interface {
	Reconcile(user connect.UserData) (connect.UserData, bool)
	Session(user connect.UserData) connect.AuthSession
}

// ValidationListener is invoked after the session has been verified but before authorization checks.
type ValidationListener func(c *fiber.Ctx, user connect.UserData) error

type Config struct {
	Filter       func(*fiber.Ctx) bool
	Tokens       UserTokens
	Authorizer   Authorizer
	TokenLookup  string
	ActivitySink connect.ActivitySink
	Logger       connect.Logger
	// UnauthenticatedRoute receives visitors without a valid session
	UnauthenticatedRoute string
	// ForbiddenRoute receives sessions without permission for the screen
	ForbiddenRoute      string
	SecureCookies       bool
	ValidationListeners []ValidationListener
	Now                 func() time.Time
}

// New returns the guard middleware
func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	extractors := GetExtractors(cfg.TokenLookup)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw := ExtractRawToken(c, extractors)
		if raw == "" {
			return cfg.reject(c, "unauthenticated", connect.ErrUnableToFindSession, cfg.UnauthenticatedRoute)
		}

		user, err := cfg.Tokens.ParseUser(raw)
		if err != nil {
			cfg.Logger.Debug("guard rejected session cookie: %v", err)
			cfg.clearSession(c)
			return cfg.reject(c, "invalid_session", err, cfg.UnauthenticatedRoute)
		}

		if updated, changed := cfg.Authorizer.Reconcile(user); changed {
			user = updated
			cfg.rewriteSession(c, user)
			cfg.record(c.UserContext(), connect.ActivityEvent{
				EventType: connect.ActivityEventPermissionsUpdated,
				Subject:   user.UserCode,
				Metadata: map[string]any{
					"role":    user.UserRole,
					"screens": len(user.Screens),
				},
			})
		}

		for _, listener := range cfg.ValidationListeners {
			if listener == nil {
				continue
			}
			if err := listener(c, user); err != nil {
				return err
			}
		}

		session := cfg.Authorizer.Session(user)
		if !session.Allows(c.Path()) {
			cfg.record(c.UserContext(), connect.ActivityEvent{
				EventType: connect.ActivityEventGuardDenied,
				Subject:   user.UserCode,
				Metadata: map[string]any{
					"role": user.UserRole,
					"path": c.Path(),
				},
			})
			return cfg.reject(c, "forbidden", connect.ErrScreenForbidden, cfg.ForbiddenRoute)
		}

		metrics.GuardDecisions.WithLabelValues("allowed").Inc()
		connect.SetRequestUser(c, user, session)
		return c.Next()
	}
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Tokens == nil {
		panic("GUARD: middleware configuration: Tokens is required.")
	}

	if cfg.Authorizer == nil {
		panic("GUARD: middleware configuration: Authorizer is required.")
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = "cookie:" + connect.UserCookieName
	}

	if cfg.UnauthenticatedRoute == "" {
		cfg.UnauthenticatedRoute = connect.RootRoute
	}

	if cfg.ForbiddenRoute == "" {
		cfg.ForbiddenRoute = connect.UnauthorizedRoute
	}

	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return cfg
}

// reject redirects page requests and hands API calls to the app error handler
func (cfg Config) reject(c *fiber.Ctx, result string, err error, route string) error {
	metrics.GuardDecisions.WithLabelValues(result).Inc()
	if connect.WantsJSON(c) {
		return err
	}
	status := http.StatusFound
	if c.Method() != fiber.MethodGet {
		status = http.StatusSeeOther
	}
	return c.Redirect(route, status)
}

func (cfg Config) rewriteSession(c *fiber.Ctx, user connect.UserData) {
	signed, err := cfg.Tokens.SignUser(user)
	if err != nil {
		cfg.Logger.Error("guard failed to re-sign session for %s: %v", user.UserCode, err)
		return
	}
	c.Cookie(&fiber.Cookie{
		Name:     connect.UserCookieName,
		Value:    signed,
		Path:     "/",
		Expires:  cfg.Now().Add(cfg.Tokens.UserTTL()),
		HTTPOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func (cfg Config) clearSession(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     connect.UserCookieName,
		Value:    "",
		Path:     "/",
		Expires:  cfg.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func (cfg Config) record(ctx context.Context, event connect.ActivityEvent) {
	metrics.ActivityEvents.WithLabelValues(string(event.EventType)).Inc()
	if cfg.ActivitySink == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = cfg.Now()
	}
	if err := cfg.ActivitySink.Record(ctx, event); err != nil {
		cfg.Logger.Error("activity sink failed for %s: %v", event.EventType, err)
	}
}

// ExtractRawToken returns the first non empty token found by extractors
func ExtractRawToken(c *fiber.Ctx, extractors []Extractor) string {
	for _, extractor := range extractors {
		if raw := extractor(c); raw != "" {
			return raw
		}
	}
	return ""
}

type Extractor func(c *fiber.Ctx) string

// GetExtractors parses a lookup such as "cookie:user,header:X-User-Session"
func GetExtractors(tokenLookup string) []Extractor {
	extractors := make([]Extractor, 0)

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[1])

		switch strings.TrimSpace(parts[0]) {
		case "cookie":
			extractors = append(extractors, func(c *fiber.Ctx) string {
				return c.Cookies(name)
			})
		case "header":
			extractors = append(extractors, func(c *fiber.Ctx) string {
				return strings.TrimSpace(c.Get(name))
			})
		case "query":
			extractors = append(extractors, func(c *fiber.Ctx) string {
				return c.Query(name)
			})
		}
	}

	return extractors
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
