package guard_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	connect "github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/middleware/guard"
)

type approvalsStub struct {
	approvals []connect.Approval
}

func (s approvalsStub) UserApprovals(context.Context) ([]connect.Approval, error) {
	return s.approvals, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []connect.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event connect.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []connect.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]connect.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func newResolver(t *testing.T, approvals ...connect.Approval) *connect.Resolver {
	t.Helper()
	r := connect.NewResolver(approvalsStub{approvals: approvals})
	require.NoError(t, r.Refresh(context.Background()))
	return r
}

func newApp(t *testing.T, tokens *connect.TokenService, authz guard.Authorizer, sink connect.ActivitySink) *fiber.App {
	t.Helper()
	app := fiber.New()
	app.Use(guard.New(guard.Config{
		Tokens:       tokens,
		Authorizer:   authz,
		ActivitySink: sink,
	}))

	handler := func(c *fiber.Ctx) error {
		user, ok := connect.RequestUser(c)
		if !ok {
			return c.SendStatus(http.StatusInternalServerError)
		}
		return c.JSON(user)
	}
	app.Get("/staffqr", handler)
	app.Get("/mktgreports", handler)
	app.Get("/mktgreports/summary", handler)
	app.Post("/staffqr/generate", handler)
	app.Get("/api/reports", handler)
	return app
}

func signedUser(t *testing.T, tokens *connect.TokenService, user connect.UserData) string {
	t.Helper()
	signed, err := tokens.SignUser(user)
	require.NoError(t, err)
	return signed
}

func TestGuard_RedirectsWithoutSession(t *testing.T) {
	tokens := connect.NewTokenService([]byte("test-secret"), "test")
	app := newApp(t, tokens, newResolver(t), nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/staffqr", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestGuard_InvalidCookieIsClearedAndRedirected(t *testing.T) {
	tokens := connect.NewTokenService([]byte("test-secret"), "test")
	app := newApp(t, tokens, newResolver(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/staffqr", nil)
	req.AddCookie(&http.Cookie{Name: connect.UserCookieName, Value: "not-a-token"})

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	var cleared bool
	for _, ck := range resp.Cookies() {
		if ck.Name == connect.UserCookieName && ck.Value == "" {
			cleared = true
		}
	}
	assert.True(t, cleared, "expected the user cookie to be expired")
}

func TestGuard_AlwaysAllowedRoutePasses(t *testing.T) {
	tokens := connect.NewTokenService([]byte("test-secret"), "test")
	app := newApp(t, tokens, newResolver(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/StaffQR", nil)
	req.AddCookie(&http.Cookie{
		Name:  connect.UserCookieName,
		Value: signedUser(t, tokens, connect.UserData{UserCode: "42", UserRole: "sales"}),
	})

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGuard_DeniesScreenOutsideRole(t *testing.T) {
	tokens := connect.NewTokenService([]byte("test-secret"), "test")
	sink := &recordingSink{}
	app := newApp(t, tokens, newResolver(t), sink)

	req := httptest.NewRequest(http.MethodGet, "/mktgreports", nil)
	req.AddCookie(&http.Cookie{
		Name:  connect.UserCookieName,
		Value: signedUser(t, tokens, connect.UserData{UserCode: "42", UserRole: "sales"}),
	})

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/unauthorized", resp.Header.Get("Location"))
	assert.Contains(t, sink.types(), connect.ActivityEventGuardDenied)
}

func TestGuard_APIRequestGetsError(t *testing.T) {
	tokens := connect.NewTokenService([]byte("test-secret"), "test")
	app := fiber.New(fiber.Config{ErrorHandler: connect.NewErrorHandler()})
	app.Use(guard.New(guard.Config{Tokens: tokens, Authorizer: newResolver(t)}))
	app.Get("/api/reports", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	req.AddCookie(&http.Cookie{
		Name:  connect.UserCookieName,
		Value: signedUser(t, tokens, connect.UserData{UserCode: "42", UserRole: "sales"}),
	})

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGuard_ReconcilesPermissionsAndRewritesCookie(t *testing.T) {
	tokens := connect.NewTokenService([]byte("test-secret"), "test")
	sink := &recordingSink{}
	resolver := newResolver(t, connect.Approval{
		UserRole:     "marketing",
		PortalName:   "staff",
		PortalScreen: "mktgreports",
	})
	app := newApp(t, tokens, resolver, sink)

	req := httptest.NewRequest(http.MethodGet, "/mktgreports", nil)
	req.AddCookie(&http.Cookie{
		Name:  connect.UserCookieName,
		Value: signedUser(t, tokens, connect.UserData{UserCode: "7", UserRole: "marketing"}),
	})

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	user := connect.UserData{}
	require.NoError(t, json.Unmarshal(body, &user))
	assert.Equal(t, []connect.Option{{Value: "mktgreports", Label: "mktgreports"}}, user.Screens)
	assert.Equal(t, []connect.Option{{Value: "staff", Label: "staff"}}, user.PortalNames)

	var rewritten string
	for _, ck := range resp.Cookies() {
		if ck.Name == connect.UserCookieName {
			rewritten = ck.Value
		}
	}
	require.NotEmpty(t, rewritten)

	parsed, err := tokens.ParseUser(rewritten)
	require.NoError(t, err)
	assert.Len(t, parsed.Screens, 1)
	assert.Contains(t, sink.types(), connect.ActivityEventPermissionsUpdated)
}

func TestGuard_FilterSkipsChecks(t *testing.T) {
	tokens := connect.NewTokenService([]byte("test-secret"), "test")
	app := fiber.New()
	app.Use(guard.New(guard.Config{
		Tokens:     tokens,
		Authorizer: newResolver(t),
		Filter: func(c *fiber.Ctx) bool {
			return c.Path() == "/healthz"
		},
	}))
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetDefaultConfig_PanicsWithoutTokens(t *testing.T) {
	assert.Panics(t, func() {
		guard.GetDefaultConfig(guard.Config{})
	})
}

func TestGuard_SubRoutesFollowTheirScreen(t *testing.T) {
	tokens := connect.NewTokenService([]byte("test-secret"), "test")
	resolver := newResolver(t, connect.Approval{UserRole: "marketing", PortalName: "staff", PortalScreen: "mktgreports"})
	app := newApp(t, tokens, resolver, nil)

	tests := []struct {
		name     string
		method   string
		path     string
		role     string
		status   int
		location string
	}{
		{name: "staff qr generate", method: http.MethodPost, path: "/staffqr/generate", role: "sales", status: http.StatusOK},
		{name: "granted screen sub route", method: http.MethodGet, path: "/mktgreports/summary", role: "marketing", status: http.StatusOK},
		{name: "missing screen sub route", method: http.MethodGet, path: "/mktgreports/summary", role: "sales", status: http.StatusFound, location: "/unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Accept", fiber.MIMETextHTML)
			req.AddCookie(&http.Cookie{
				Name:  connect.UserCookieName,
				Value: signedUser(t, tokens, connect.UserData{UserCode: "42", UserRole: tt.role}),
			})

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.location, resp.Header.Get("Location"))
		})
	}
}

func TestGuard_RejectsQRGrantAsSession(t *testing.T) {
	tokens := connect.NewTokenService([]byte("test-secret"), "test")
	app := newApp(t, tokens, newResolver(t), nil)

	_, grant, err := tokens.IssueGrant("9876543210", "https://connect.example.com/verify", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/staffqr", nil)
	req.AddCookie(&http.Cookie{Name: connect.UserCookieName, Value: grant})

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
}
