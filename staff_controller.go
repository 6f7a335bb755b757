package connect

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// StaffTokens signs and verifies staff sessions and QR grants
type StaffTokens interface {
	GrantIssuer
	GrantVerifier
	SignUser(user UserData) (string, error)
	ParseUser(token string) (UserData, error)
	UserTTL() time.Duration
}

// UserReconciler recomputes the screens of a user from the permission list
type UserReconciler interface {
	Reconcile(user UserData) (UserData, bool)
}

type StaffControllerRoutes struct {
	Home         string
	Unauthorized string
	LoginOptions string
	LoginOTP     string
	Login        string
	Logout       string
	StaffQR      string
	Generate     string
	QRImage      string
	Reports      string
}

type StaffControllerViews struct {
	Home         string
	Unauthorized string
	StaffQR      string
	Reports      string
}

// StaffController serves login, the staff QR generator and the marketing reports
type StaffController struct {
	Logger        Logger
	Backend       StaffBackend
	Tokens        StaffTokens
	Reconciler    UserReconciler
	Locator       LocationDescriber
	QR            QRRenderer
	ActivitySink  ActivitySink
	PublicBaseURL string
	SecureCookies bool
	QRWindow      time.Duration
	QRSize        int
	Routes        *StaffControllerRoutes
	Views         *StaffControllerViews
	now           func() time.Time
}

type StaffControllerOption func(*StaffController) *StaffController

func WithStaffBackend(backend StaffBackend) StaffControllerOption {
	return func(c *StaffController) *StaffController {
		c.Backend = backend
		return c
	}
}

func WithStaffTokens(tokens StaffTokens) StaffControllerOption {
	return func(c *StaffController) *StaffController {
		c.Tokens = tokens
		return c
	}
}

// WithUserReconciler aligns freshly logged in users with the permission list
func WithUserReconciler(r UserReconciler) StaffControllerOption {
	return func(c *StaffController) *StaffController {
		c.Reconciler = r
		return c
	}
}

func WithStaffLocator(locator LocationDescriber) StaffControllerOption {
	return func(c *StaffController) *StaffController {
		c.Locator = locator
		return c
	}
}

func WithStaffQRRenderer(renderer QRRenderer) StaffControllerOption {
	return func(c *StaffController) *StaffController {
		c.QR = renderer
		return c
	}
}

func WithStaffActivitySink(sink ActivitySink) StaffControllerOption {
	return func(c *StaffController) *StaffController {
		c.ActivitySink = normalizeActivitySink(sink)
		return c
	}
}

func WithStaffLogger(logger Logger) StaffControllerOption {
	return func(c *StaffController) *StaffController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithStaffConfig reads the public URL and cookie settings from cfg
func WithStaffConfig(cfg Config) StaffControllerOption {
	return func(c *StaffController) *StaffController {
		c.PublicBaseURL = strings.TrimRight(cfg.GetPublicBaseURL(), "/")
		c.SecureCookies = cfg.GetSecureCookies()
		return c
	}
}

// WithStaffClock injects a custom clock (useful for tests).
func WithStaffClock(clock func() time.Time) StaffControllerOption {
	return func(c *StaffController) *StaffController {
		if clock != nil {
			c.now = clock
		}
		return c
	}
}

func NewStaffController(opts ...StaffControllerOption) *StaffController {
	c := &StaffController{
		Logger:        defLogger{},
		ActivitySink:  noopActivitySink{},
		SecureCookies: true,
		QRWindow:      DefaultStaffQRTTL,
		QRSize:        200,
		now:           time.Now,
		Routes: &StaffControllerRoutes{
			Home:         RootRoute,
			Unauthorized: UnauthorizedRoute,
			LoginOptions: "/api/login-options",
			LoginOTP:     "/api/login-otp",
			Login:        "/login",
			Logout:       "/logout",
			StaffQR:      StaffQRRoute,
			Generate:     StaffQRRoute + "/generate",
			QRImage:      StaffQRRoute + "/qr.png",
			Reports:      "/mktgreports",
		},
		Views: &StaffControllerViews{
			Home:         "index",
			Unauthorized: "unauthorized",
			StaffQR:      "staffqr",
			Reports:      "mktgreports",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Backend == nil {
		panic("Missing StaffBackend in staff controller...")
	}

	if c.Tokens == nil {
		panic("Missing StaffTokens in staff controller...")
	}

	return c
}

// RegisterStaffRoutes mounts the staff area. guard protects the screens
// that need a permitted session.
func RegisterStaffRoutes(app fiber.Router, guard fiber.Handler, opts ...StaffControllerOption) *StaffController {
	c := NewStaffController(opts...)

	app.Get(c.Routes.Home, c.Home).Name("staff.home")
	app.Get(c.Routes.Unauthorized, c.Unauthorized).Name("staff.unauthorized")
	app.Get(c.Routes.LoginOptions, c.LoginOptions).Name("staff.login-options")
	app.Post(c.Routes.LoginOTP, c.LoginOTP).Name("staff.login-otp")
	app.Post(c.Routes.Login, c.Login).Name("staff.login")
	app.Post(c.Routes.Logout, c.Logout).Name("staff.logout")

	app.Get(c.Routes.StaffQR, guard, c.StaffQR).Name("staff.qr")
	app.Post(c.Routes.Generate, guard, c.Generate).Name("staff.qr.generate")
	app.Get(c.Routes.QRImage, guard, c.QRImage).Name("staff.qr.image")
	app.Get(c.Routes.Reports, guard, c.Reports).Name("staff.reports")

	return c
}

// StaffOTPPayload asks for a login OTP
type StaffOTPPayload struct {
	UserCode string `form:"user_code" json:"user_code"`
	Concern  string `form:"concern" json:"concern"`
	Division string `form:"division" json:"division"`
	Branch   string `form:"branch" json:"branch"`
}

func (p StaffOTPPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.UserCode, validation.Required.Error("User code is required")),
		validation.Field(&p.Concern, validation.Required.Error("Concern is required")),
		validation.Field(&p.Branch, validation.Required.Error("Branch is required")),
	)
}

// StaffLoginPayload verifies a login OTP
type StaffLoginPayload struct {
	StaffOTPPayload
	OTP string `form:"otp" json:"otp"`
	LocationPayload
}

func (p StaffLoginPayload) Validate() error {
	if err := p.StaffOTPPayload.Validate(); err != nil {
		return err
	}
	if err := p.LocationPayload.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(&p,
		validation.Field(&p.OTP,
			validation.Required.Error("OTP is required"),
			validation.Match(otpPattern).Error("OTP must be 6 digits"),
		),
	)
}

// LoginResponse tells the page where to go next
type LoginResponse struct {
	Success       bool           `json:"success"`
	Redirect      string         `json:"redirect,omitempty"`
	User          *UserData      `json:"user,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
}

// StaffQRResponse describes a freshly generated staff QR
type StaffQRResponse struct {
	Grant         QRGrant        `json:"grant"`
	ReferenceCode string         `json:"reference_code"`
	SessionID     string         `json:"session_id"`
	ImageURL      string         `json:"image_url"`
	Remaining     int            `json:"remaining"`
	Notifications []Notification `json:"notifications,omitempty"`
}

func (sc *StaffController) Home(c *fiber.Ctx) error {
	return c.Render(sc.Views.Home, fiber.Map{
		"login_options": sc.Routes.LoginOptions,
		"login":         sc.Routes.Login,
	})
}

func (sc *StaffController) Unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusForbidden).Render(sc.Views.Unauthorized, fiber.Map{
		"home": sc.Routes.Home,
	})
}

func (sc *StaffController) LoginOptions(c *fiber.Ctx) error {
	raw, err := sc.Backend.LoginOptions(c.UserContext())
	if err != nil {
		return backendError(err, "Failed to load login options")
	}
	c.Type("json")
	return c.Send(raw)
}

func (sc *StaffController) LoginOTP(c *fiber.Ctx) error {
	payload := new(StaffOTPPayload)
	if err := parsePayload(c, payload); err != nil {
		return err
	}

	if err := sc.Backend.SendStaffOTP(c.UserContext(), StaffOTPRequest{
		UserCode: payload.UserCode,
		Concern:  payload.Concern,
		Division: payload.Division,
		Branch:   payload.Branch,
	}); err != nil {
		if AsRichError(err).TextCode == TextCodeStaffOTPRejected {
			return err
		}
		return backendError(err, "Failed to send OTP. Please try again.")
	}

	notify := NewNotify(sc.now)
	notify.Success("OTP sent successfully!")
	return c.JSON(LoginResponse{Success: true, Notifications: notify.Items()})
}

func (sc *StaffController) Login(c *fiber.Ctx) error {
	payload := new(StaffLoginPayload)
	if err := parsePayload(c, payload); err != nil {
		return err
	}

	ctx := c.UserContext()
	loc, err := ResolveLocation(ctx, sc.Locator, sc.Logger, c.IP(), payload.LocationPayload)
	if err != nil {
		return err
	}

	res, err := sc.Backend.VerifyStaffOTP(ctx, StaffLoginRequest{
		UserCode: payload.UserCode,
		Concern:  payload.Concern,
		Branch:   payload.Branch,
		OTP:      payload.OTP,
		Location: loc.LocationName,
		IP:       loc.IPAddress,
	})
	if err != nil {
		return backendError(err, "Invalid OTP. Please try again.")
	}
	if !res.Success {
		if res.Message != "" {
			return goerrors.Wrap(ErrLoginRejected, goerrors.CategoryAuth, res.Message).
				WithTextCode(TextCodeLoginRejected).
				WithCode(goerrors.CodeUnauthorized)
		}
		return ErrLoginRejected
	}

	user := res.User
	if user.UserCode == "" {
		user.UserCode = payload.UserCode
	}
	user.Concern = payload.Concern
	user.Division = payload.Division
	user.Branch = payload.Branch
	user.Location = loc.LocationName

	if sc.Reconciler != nil {
		user, _ = sc.Reconciler.Reconcile(user)
	}

	signed, err := sc.Tokens.SignUser(user)
	if err != nil {
		return err
	}

	expires := sc.now().Add(sc.Tokens.UserTTL())
	setCookie(c, StaffTokenCookieName, res.Token, expires, sc.SecureCookies)
	setCookie(c, UserCookieName, signed, expires, sc.SecureCookies)

	recordActivity(ctx, sc.ActivitySink, sc.Logger, sc.now, ActivityEvent{
		EventType: ActivityEventStaffLogin,
		Subject:   user.UserCode,
		Metadata: map[string]any{
			"role":     user.UserRole,
			"branch":   user.Branch,
			"location": user.Location,
		},
	})

	return c.JSON(LoginResponse{
		Success:  true,
		Redirect: sc.Routes.StaffQR,
		User:     &user,
	})
}

// Logout clears the staff cookies even when the backend call fails
func (sc *StaffController) Logout(c *fiber.Ctx) error {
	ctx := c.UserContext()
	notify := NewNotify(sc.now)

	user, err := sc.Tokens.ParseUser(c.Cookies(UserCookieName))
	if err == nil && user.UserCode != "" {
		if err := sc.Backend.StaffLogout(ctx, user.UserCode); err != nil {
			sc.Logger.Error("staff logout call failed for %s: %v", user.UserCode, err)
			notify.Error("Logging out...")
		}
		recordActivity(ctx, sc.ActivitySink, sc.Logger, sc.now, ActivityEvent{
			EventType: ActivityEventStaffLogout,
			Subject:   user.UserCode,
		})
	}

	cookieDel(c, StaffTokenCookieName, sc.SecureCookies)
	cookieDel(c, UserCookieName, sc.SecureCookies)

	return c.JSON(LoginResponse{
		Success:       true,
		Redirect:      sc.Routes.Home,
		Notifications: notify.Items(),
	})
}

func (sc *StaffController) StaffQR(c *fiber.Ctx) error {
	user, ok := RequestUser(c)
	if !ok {
		return ErrUnableToFindSession
	}

	data := fiber.Map{
		"user":     user,
		"generate": sc.Routes.Generate,
	}

	coins, err := sc.Backend.StaffCoins(c.UserContext(), user.UserCode)
	switch {
	case err == nil:
		data["coins"] = coins
	case goerrors.Is(err, ErrStaffNotFound):
		data["message"] = ErrStaffNotFound.Message
	default:
		sc.Logger.Error("coin summary failed for %s: %v", user.UserCode, err)
		data["message"] = "Failed to fetch coin data"
	}

	if WantsJSON(c) {
		return c.JSON(data)
	}
	return c.Render(sc.Views.StaffQR, data)
}

// Generate stores the staff location and issues a short lived QR pointing
// at the registration wizard
func (sc *StaffController) Generate(c *fiber.Ctx) error {
	user, ok := RequestUser(c)
	if !ok {
		return ErrUnableToFindSession
	}

	payload := new(LocationPayload)
	if err := parsePayload(c, payload); err != nil {
		return err
	}

	ctx := c.UserContext()
	loc, err := ResolveLocation(ctx, sc.Locator, sc.Logger, c.IP(), *payload)
	if err != nil {
		return err
	}

	ref, err := ReferenceCode(user.UserCode)
	if err != nil {
		return err
	}

	now := sc.now()
	sessionID := NewSessionID(user.UserCode, now)

	if err := sc.Backend.StoreLocation(ctx, LocationRecord{
		Ecno:          user.UserCode,
		UserName:      user.UserName,
		UserRole:      user.UserRole,
		ReferenceCode: ref,
		SessionID:     sessionID,
		Branch:        user.Branch,
		LocationName:  loc.LocationName,
		IPAddress:     loc.IPAddress,
		Latitude:      loc.Latitude,
		Longitude:     loc.Longitude,
		Timestamp:     now.UTC().Format(time.RFC3339),
	}); err != nil {
		return backendError(err, "Failed to store location data")
	}

	link := fmt.Sprintf("%s/connect/%s/%s",
		sc.PublicBaseURL,
		url.PathEscape(EncodeCorrelationID(user.UserCode, CorrelationLayers)),
		ref,
	)

	grant, signed, err := sc.Tokens.IssueGrant(user.UserCode, link, sc.QRWindow)
	if err != nil {
		return err
	}

	recordActivity(ctx, sc.ActivitySink, sc.Logger, sc.now, ActivityEvent{
		EventType: ActivityEventStaffQRGenerated,
		Subject:   user.UserCode,
		Metadata: map[string]any{
			"reference_code": ref,
			"session_id":     sessionID,
			"location":       loc.LocationName,
		},
	})

	notify := NewNotify(sc.now)
	notify.Success("QR code generated")

	return c.JSON(StaffQRResponse{
		Grant:         grant,
		ReferenceCode: ref,
		SessionID:     sessionID,
		ImageURL:      sc.Routes.QRImage + "?grant=" + url.QueryEscape(signed),
		Remaining:     int(grant.Remaining(now) / time.Second),
		Notifications: notify.Items(),
	})
}

// QRImage renders the staff QR while its grant is valid
func (sc *StaffController) QRImage(c *fiber.Ctx) error {
	if sc.QR == nil {
		return fiber.ErrNotFound
	}

	grant, err := sc.Tokens.ParseGrant(c.Query("grant"))
	if err != nil {
		return err
	}

	user, ok := RequestUser(c)
	if !ok || grant.Identifier != user.UserCode {
		return ErrScreenForbidden
	}

	png, err := sc.QR.PNG(grant.URL, sc.QRSize)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "Failed to generate QR code")
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Type("png")
	return c.Send(png)
}

func (sc *StaffController) Reports(c *fiber.Ctx) error {
	raw, err := sc.Backend.MarketingReports(c.UserContext())
	if err != nil {
		return backendError(err, "Failed to fetch data")
	}

	if WantsJSON(c) {
		c.Type("json")
		return c.Send(raw)
	}

	user, _ := RequestUser(c)
	return c.Render(sc.Views.Reports, fiber.Map{
		"user":    user,
		"reports": string(raw),
	})
}

// ResolveLocation completes a browser location with its name and the caller IP.
// Coordinates or a location name are required. ip is the address the request
// came from (honoring the configured proxy header) and wins over any address
// the browser reported.
func ResolveLocation(ctx context.Context, locator LocationDescriber, logger Logger, ip string, p LocationPayload) (LocationData, error) {
	loc := LocationData{
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		LocationName: p.LocationName,
		IPAddress:    ip,
	}

	hasCoords := p.Latitude != 0 || p.Longitude != 0
	if !hasCoords && loc.LocationName == "" {
		return LocationData{}, ErrLocationRequired
	}

	if hasCoords && locator != nil {
		described, err := locator.Describe(ctx, p.Latitude, p.Longitude)
		if err != nil {
			logger.Error("location describe failed: %v", err)
		} else if described.LocationName != "" {
			loc.LocationName = described.LocationName
		}
	}

	if loc.LocationName == "" {
		loc.LocationName = UnknownLocation
	}
	if loc.IPAddress == "" {
		loc.IPAddress = p.IPAddress
	}
	return loc, nil
}
