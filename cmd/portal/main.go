package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/django/v3"
	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	connect "github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/backend"
	"github.com/goliatone/go-connect/config"
	"github.com/goliatone/go-connect/geo"
	"github.com/goliatone/go-connect/metrics"
	"github.com/goliatone/go-connect/middleware/guard"
	"github.com/goliatone/go-connect/postal"
	"github.com/goliatone/go-connect/qr"
)

const (
	approvalsCacheKey = "connect:user-approvals"
	approvalsCacheTTL = 24 * time.Hour
	shutdownTimeout   = 10 * time.Second
)

type App struct {
	config   *config.Config
	logger   *zap.Logger
	srv      *fiber.App
	resolver *connect.Resolver
	redis    redis.UniversalClient
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	lgr, err := newLogger(cfg.Env, cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		panic(err)
	}
	defer lgr.Sync()

	app := &App{config: cfg, logger: lgr}

	ctx := context.Background()
	if err := WithServices(ctx, app); err != nil {
		lgr.Fatal("failed to start services", zap.Error(err))
	}

	go func() {
		if err := app.srv.Listen(cfg.Addr); err != nil {
			lgr.Error("http server stopped", zap.Error(err))
		}
	}()

	sig := WaitExitSignal()
	lgr.Info("shutting down", zap.String("signal", sig.String()))
	app.Close()
}

// WithServices builds the collaborators and the HTTP server
func WithServices(ctx context.Context, app *App) error {
	cfg := app.config
	sink := activityLogger(app.logger)

	backendClient := backend.New(backend.Config{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
	})
	postalClient := postal.New(postal.Config{BaseURL: cfg.PostalURL})
	locator := geo.New(geo.Config{ReverseURL: cfg.GeocodeURL})
	renderer := qr.New()

	tokens := connect.NewTokenService([]byte(cfg.SigningKey), cfg.Issuer,
		connect.WithUserTTL(cfg.UserCookieTTL),
		connect.WithTokenLogger(newZapLogger(app.logger, "tokens")),
	)

	var cache connect.ApprovalCache = connect.NewMemoryApprovalCache()
	if cfg.RedisAddr != "" {
		app.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := app.redis.Ping(ctx).Err(); err != nil {
			app.logger.Warn("redis unavailable, approvals snapshot is process local", zap.Error(err))
		}
		cache = connect.NewRedisApprovalCache(app.redis, approvalsCacheKey, approvalsCacheTTL)
	}

	app.resolver = connect.NewResolver(backendClient,
		connect.WithApprovalCache(cache),
		connect.WithRefreshSchedule(cfg.ApprovalsSchedule),
		connect.WithRetryPolicy(cfg.ApprovalsStaleAfter, cfg.ApprovalsRetryDelay),
		connect.WithResolverLogger(newZapLogger(app.logger, "approvals")),
	)
	if err := app.resolver.Start(ctx); err != nil {
		return err
	}

	gate := connect.NewOTPGate(backendClient,
		connect.WithGrantIssuer(tokens),
		connect.WithQRWindow(cfg.CustomerQRTTL),
		connect.WithQRLinkBase(cfg.PublicBaseURL),
		connect.WithOTPActivitySink(sink),
		connect.WithOTPLogger(newZapLogger(app.logger, "otp")),
	)

	srv := fiber.New(fiber.Config{
		AppName:      "go-connect",
		ProxyHeader:  cfg.ProxyHeader,
		Views:        newViewEngine(cfg),
		ErrorHandler: connect.NewErrorHandler(connect.WithErrorHandlerLogger(newZapLogger(app.logger, "errors"))),
	})

	srv.Use(recover.New())
	srv.Use(requestLogger(app.logger))
	srv.Use("/static", filesystem.New(filesystem.Config{
		Root: http.FS(connect.GetPublicFS()),
	}))

	srv.Get("/metrics", metrics.Handler())
	srv.Get("/healthz", func(c *fiber.Ctx) error {
		_, loaded := app.resolver.Snapshot()
		return c.JSON(fiber.Map{
			"status":               "ok",
			"approvals_loaded":     loaded,
			"approvals_updated_at": app.resolver.LastUpdate(),
		})
	})

	srv.Use(csrf.New(csrf.Config{
		KeyLookup:      "header:X-Csrf-Token",
		CookieName:     "csrf_",
		CookieSameSite: "Strict",
		CookieSecure:   cfg.SecureCookies,
		Expiration:     cfg.UserCookieTTL,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return goerrors.Wrap(err, goerrors.CategoryAuthz, "Invalid request token. Please reload the page.").
				WithTextCode("CSRF_INVALID").
				WithCode(goerrors.CodeForbidden)
		},
	}))

	connect.RegisterRegistrationRoutes(srv,
		connect.WithRegistrationGate(gate),
		connect.WithRegistrationLookups(backendClient, postalClient),
		connect.WithLocationDescriber(locator),
		connect.WithQRDisplay(tokens, renderer),
		connect.WithRegistrationActivitySink(sink),
		connect.WithRegistrationLogger(newZapLogger(app.logger, "registration")),
		connect.WithRegistrationSession(cfg.FormCookieTTL, cfg.SecureCookies),
	)

	staffGuard := guard.New(guard.Config{
		Tokens:        tokens,
		Authorizer:    app.resolver,
		ActivitySink:  sink,
		Logger:        newZapLogger(app.logger, "guard"),
		SecureCookies: cfg.SecureCookies,
	})

	connect.RegisterStaffRoutes(srv, staffGuard,
		connect.WithStaffBackend(backendClient),
		connect.WithStaffTokens(tokens),
		connect.WithUserReconciler(app.resolver),
		connect.WithStaffLocator(locator),
		connect.WithStaffQRRenderer(renderer),
		connect.WithStaffActivitySink(sink),
		connect.WithStaffLogger(newZapLogger(app.logger, "staff")),
		connect.WithStaffConfig(cfg),
	)

	app.srv = srv
	return nil
}

// newViewEngine serves the embedded templates unless a views directory is configured
func newViewEngine(cfg *config.Config) *django.Engine {
	var engine *django.Engine
	if cfg.ViewsDir != "" {
		engine = django.New(cfg.ViewsDir, ".html")
	} else {
		engine = django.NewFileSystem(http.FS(connect.GetViewsFS()), ".html")
	}
	engine.Reload(!cfg.IsProduction())
	return engine
}

// Close stops the background refresher and drains the server
func (a *App) Close() {
	if a.resolver != nil {
		a.resolver.Stop()
	}
	if a.srv != nil {
		if err := a.srv.ShutdownWithTimeout(shutdownTimeout); err != nil {
			a.logger.Error("http shutdown failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close failed", zap.Error(err))
		}
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
