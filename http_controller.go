package connect

import (
	"context"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

const TextCodeInvalidPayload = "INVALID_PAYLOAD"

// RegistrationRoutes are the paths served by the registration controller
type RegistrationRoutes struct {
	Wizard string
	QR     string
}

// RegistrationViews are the templates rendered for browsers
type RegistrationViews struct {
	Wizard string
}

// GrantVerifier checks a signed QR grant
type GrantVerifier interface {
	ParseGrant(token string) (QRGrant, error)
}

// WizardView is what a registration page or API call gets back
type WizardView struct {
	WizardSnapshot
	OTPState      OTPState       `json:"otpState"`
	Remaining     int            `json:"remaining"`
	Code          string         `json:"code,omitempty"`
	Refocus       bool           `json:"refocus,omitempty"`
	Verified      bool           `json:"verified,omitempty"`
	Grant         *QRGrant       `json:"grant,omitempty"`
	Location      *LocationData  `json:"location,omitempty"`
	Error         string         `json:"error,omitempty"`
	TextCode      string         `json:"text_code,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
}

// RegistrationController serves the customer wizard
type RegistrationController struct {
	Logger        Logger
	Gate          *OTPGate
	Mobile        MobileChecker
	Postal        PostalLookup
	Locator       LocationDescriber
	Grants        GrantVerifier
	QR            QRRenderer
	ActivitySink  ActivitySink
	Routes        *RegistrationRoutes
	Views         *RegistrationViews
	SessionTTL    time.Duration
	SecureCookies bool
	QRSize        int
	now           func() time.Time
}

type RegistrationControllerOption func(*RegistrationController) *RegistrationController

func WithRegistrationGate(gate *OTPGate) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		c.Gate = gate
		return c
	}
}

// WithRegistrationLookups sets the mobile and pin code collaborators
func WithRegistrationLookups(mobile MobileChecker, postal PostalLookup) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		c.Mobile = mobile
		c.Postal = postal
		return c
	}
}

func WithLocationDescriber(locator LocationDescriber) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		c.Locator = locator
		return c
	}
}

// WithQRDisplay sets who verifies grants and renders the customer QR
func WithQRDisplay(grants GrantVerifier, renderer QRRenderer) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		c.Grants = grants
		c.QR = renderer
		return c
	}
}

func WithRegistrationActivitySink(sink ActivitySink) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		c.ActivitySink = normalizeActivitySink(sink)
		return c
	}
}

func WithRegistrationLogger(logger Logger) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithRegistrationSession sets the envelope lifetime and the cookie Secure attribute
func WithRegistrationSession(ttl time.Duration, secure bool) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		if ttl > 0 {
			c.SessionTTL = ttl
		}
		c.SecureCookies = secure
		return c
	}
}

// WithRegistrationClock injects a custom clock (useful for tests).
func WithRegistrationClock(clock func() time.Time) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		if clock != nil {
			c.now = clock
		}
		return c
	}
}

func NewRegistrationController(opts ...RegistrationControllerOption) *RegistrationController {
	c := &RegistrationController{
		Logger:        defLogger{},
		ActivitySink:  noopActivitySink{},
		SessionTTL:    DefaultFormTTL,
		SecureCookies: true,
		QRSize:        256,
		now:           time.Now,
		Routes: &RegistrationRoutes{
			Wizard: "/connect/:encodedEcno/:referenceCode",
			QR:     "/connect/qr.png",
		},
		Views: &RegistrationViews{
			Wizard: "connect",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Gate == nil {
		panic("Missing OTPGate in registration controller...")
	}

	return c
}

// RegisterRegistrationRoutes mounts the wizard endpoints on app
func RegisterRegistrationRoutes(app fiber.Router, opts ...RegistrationControllerOption) *RegistrationController {
	c := NewRegistrationController(opts...)

	app.Get(c.Routes.QR, c.QRImage).Name("connect.qr")

	base := c.Routes.Wizard
	app.Get(base, c.Show).Name("connect.get")
	app.Post(base+"/location", c.Location).Name("connect.location")
	app.Post(base+"/field", c.Field).Name("connect.field")
	app.Post(base+"/blur", c.Blur).Name("connect.blur")
	app.Post(base+"/next", c.Next).Name("connect.next")
	app.Post(base+"/previous", c.Previous).Name("connect.previous")
	app.Post(base+"/submit", c.Submit).Name("connect.submit")
	app.Post(base+"/otp", c.OTP).Name("connect.otp")
	app.Post(base+"/otp/resend", c.Resend).Name("connect.otp.resend")
	app.Post(base+"/reset", c.Reset).Name("connect.reset")

	return c
}

// FieldPayload edits one form field
type FieldPayload struct {
	Field  string `form:"field" json:"field"`
	Value  string `form:"value" json:"value"`
	Toggle bool   `form:"toggle" json:"toggle"`
	// Seq numbers the edits of one page so late responses cannot win
	Seq int64 `form:"seq" json:"seq"`
}

func (p FieldPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Field, validation.Required),
		validation.Field(&p.Seq, validation.Min(int64(0))),
	)
}

// LocationPayload carries the browser geolocation
type LocationPayload struct {
	Latitude     float64 `form:"latitude" json:"latitude"`
	Longitude    float64 `form:"longitude" json:"longitude"`
	LocationName string  `form:"location_name" json:"location_name"`
	IPAddress    string  `form:"ip_address" json:"ip_address"`
}

func (p LocationPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Latitude, validation.Min(-90.0), validation.Max(90.0)),
		validation.Field(&p.Longitude, validation.Min(-180.0), validation.Max(180.0)),
	)
}

// OTPPayload carries the digits typed so far
type OTPPayload struct {
	Code string `form:"code" json:"code"`
}

func (p OTPPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Code, validation.Length(0, 32)),
	)
}

func (rc *RegistrationController) Show(c *fiber.Ctx) error {
	sessions := rc.sessions(c)
	env, _ := sessions.Load()
	w := rc.wizard(env)

	view := rc.view(w, NewNotify(rc.now))
	if grant, ok := rc.activeGrant(c); ok {
		view.Verified = true
		view.Grant = &grant
	}

	if WantsJSON(c) {
		return c.JSON(view)
	}

	return c.Render(rc.Views.Wizard, fiber.Map{
		"view":          view,
		"encoded_ecno":  c.Params("encodedEcno"),
		"reference":     c.Params("referenceCode"),
		"titles":        Titles,
		"step":          int(view.State.CurrentStep),
		"notifications": view.Notifications,
	})
}

func (rc *RegistrationController) Location(c *fiber.Ctx) error {
	payload := new(LocationPayload)
	if err := parsePayload(c, payload); err != nil {
		return err
	}

	return rc.run(c, func(ctx context.Context, w *Wizard, _ *CookieSessionStore, _ *WizardView, _ *Notify) error {
		loc, err := ResolveLocation(ctx, rc.Locator, rc.Logger, c.IP(), *payload)
		if err != nil {
			return err
		}
		w.SetLocation(loc)
		return nil
	})
}

func (rc *RegistrationController) Field(c *fiber.Ctx) error {
	payload := new(FieldPayload)
	if err := parsePayload(c, payload); err != nil {
		return err
	}

	return rc.run(c, func(ctx context.Context, w *Wizard, _ *CookieSessionStore, view *WizardView, notify *Notify) error {
		if err := w.AcceptSequence(payload.Seq); err != nil {
			return err
		}
		if payload.Toggle {
			return w.ToggleFlag(payload.Field)
		}
		return w.Edit(ctx, payload.Field, payload.Value)
	})
}

func (rc *RegistrationController) Blur(c *fiber.Ctx) error {
	payload := new(FieldPayload)
	if err := parsePayload(c, payload); err != nil {
		return err
	}

	return rc.run(c, func(_ context.Context, w *Wizard, _ *CookieSessionStore, _ *WizardView, _ *Notify) error {
		return w.Blur(payload.Field)
	})
}

func (rc *RegistrationController) Next(c *fiber.Ctx) error {
	return rc.run(c, func(_ context.Context, w *Wizard, _ *CookieSessionStore, _ *WizardView, _ *Notify) error {
		return w.Next()
	})
}

func (rc *RegistrationController) Previous(c *fiber.Ctx) error {
	return rc.run(c, func(_ context.Context, w *Wizard, _ *CookieSessionStore, _ *WizardView, _ *Notify) error {
		return w.Previous()
	})
}

func (rc *RegistrationController) Submit(c *fiber.Ctx) error {
	req := SubmitRequest{
		EncodedEcno:   pathParam(c, "encodedEcno"),
		ReferenceCode: pathParam(c, "referenceCode"),
	}

	return rc.run(c, func(ctx context.Context, w *Wizard, _ *CookieSessionStore, _ *WizardView, notify *Notify) error {
		if err := rc.Gate.Submit(ctx, w, req); err != nil {
			return err
		}
		notify.Success("OTP sent to " + DisplayMobile(w.Record().MobileNo))
		return nil
	})
}

func (rc *RegistrationController) OTP(c *fiber.Ctx) error {
	payload := new(OTPPayload)
	if err := parsePayload(c, payload); err != nil {
		return err
	}

	return rc.run(c, func(ctx context.Context, w *Wizard, sessions *CookieSessionStore, view *WizardView, notify *Notify) error {
		outcome, err := rc.Gate.Input(ctx, w, sessions, payload.Code)
		if err != nil {
			return err
		}

		view.Code = outcome.Code
		view.Refocus = outcome.Refocus
		view.Verified = outcome.Verified
		view.Grant = outcome.Grant

		if outcome.Message != "" {
			if outcome.Verified {
				notify.Success(outcome.Message)
			} else {
				notify.Error(outcome.Message)
			}
		}
		return nil
	})
}

func (rc *RegistrationController) Resend(c *fiber.Ctx) error {
	return rc.run(c, func(ctx context.Context, w *Wizard, _ *CookieSessionStore, _ *WizardView, notify *Notify) error {
		if err := rc.Gate.Resend(ctx, w); err != nil {
			return err
		}
		notify.Success("OTP resent successfully")
		return nil
	})
}

func (rc *RegistrationController) Reset(c *fiber.Ctx) error {
	sessions := rc.sessions(c)
	env, _ := sessions.Load()
	w := rc.wizard(env)

	subject := w.Record().MobileNo
	w.Reset()
	sessions.Clear()

	recordActivity(c.UserContext(), rc.ActivitySink, rc.Logger, rc.now, ActivityEvent{
		EventType: ActivityEventRegistrationReset,
		Subject:   subject,
	})

	return c.JSON(rc.view(w, NewNotify(rc.now)))
}

// QRImage renders the customer QR while its grant cookie is valid
func (rc *RegistrationController) QRImage(c *fiber.Ctx) error {
	if rc.Grants == nil || rc.QR == nil {
		return fiber.ErrNotFound
	}

	grant, err := rc.Grants.ParseGrant(c.Cookies(QRGrantCookieName))
	if err != nil {
		return err
	}

	png, err := rc.QR.PNG(grant.URL, rc.QRSize)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "Failed to generate secure QR code")
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Type("png")
	return c.Send(png)
}

type wizardAction func(ctx context.Context, w *Wizard, sessions *CookieSessionStore, view *WizardView, notify *Notify) error

// run restores the wizard, applies action, persists the result and answers
// with the view. Domain failures still answer with the view so the page can
// show the inline errors.
func (rc *RegistrationController) run(c *fiber.Ctx, action wizardAction) error {
	sessions := rc.sessions(c)
	env, _ := sessions.Load()
	w := rc.wizard(env)

	notify := NewNotify(rc.now)
	view := &WizardView{}

	actionErr := action(c.UserContext(), w, sessions, view, notify)

	// a stale edit must not overwrite the envelope a newer edit already wrote
	if !view.Verified && !goerrors.Is(actionErr, ErrStaleEdit) {
		sessions.SaveEnvelope(w.Envelope())
	}

	out := rc.view(w, notify)
	out.Code = view.Code
	out.Refocus = view.Refocus
	out.Verified = view.Verified
	out.Grant = view.Grant

	if actionErr == nil {
		out.Notifications = notify.Items()
		return c.JSON(out)
	}

	var richErr *goerrors.Error
	if !goerrors.As(actionErr, &richErr) {
		return actionErr
	}

	rc.Logger.Debug("registration action failed path=%s text_code=%s: %v", c.Path(), richErr.TextCode, actionErr)

	if richErr.TextCode != TextCodeStepInvalid {
		notify.Error(richErr.Message)
	}

	out.Error = richErr.Message
	out.TextCode = richErr.TextCode
	out.Notifications = notify.Items()
	return c.Status(StatusFor(richErr)).JSON(out)
}

func (rc *RegistrationController) view(w *Wizard, notify *Notify) *WizardView {
	state := w.State()
	view := &WizardView{
		WizardSnapshot: w.Snapshot(),
		OTPState:       rc.Gate.StateOf(state),
		Remaining:      rc.Gate.Remaining(state),
		Notifications:  notify.Items(),
	}
	if loc, ok := w.Location(); ok {
		view.Location = &loc
	}
	return view
}

func (rc *RegistrationController) sessions(c *fiber.Ctx) *CookieSessionStore {
	return NewCookieSessionStore(NewFiberCookieJar(c),
		WithSessionTTL(rc.SessionTTL),
		WithSecureCookies(rc.SecureCookies),
		WithSessionClock(rc.now),
		WithSessionLogger(rc.Logger),
	)
}

func (rc *RegistrationController) wizard(env *PersistedEnvelope) *Wizard {
	return NewWizard(env,
		WithMobileChecker(rc.Mobile),
		WithPostalLookup(rc.Postal),
		WithWizardLogger(rc.Logger),
	)
}

func (rc *RegistrationController) activeGrant(c *fiber.Ctx) (QRGrant, bool) {
	token := c.Cookies(QRGrantCookieName)
	if token == "" || rc.Grants == nil {
		return QRGrant{}, false
	}
	grant, err := rc.Grants.ParseGrant(token)
	if err != nil {
		return QRGrant{}, false
	}
	return grant, true
}

type validatable interface {
	Validate() error
}

func parsePayload(c *fiber.Ctx, payload validatable) error {
	if err := c.BodyParser(payload); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "Failed to parse request body").
			WithTextCode(TextCodeInvalidPayload).
			WithCode(goerrors.CodeBadRequest)
	}
	if err := payload.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "Invalid request payload").
			WithTextCode(TextCodeInvalidPayload).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"fields": collectFieldErrors(err)})
	}
	return nil
}

// pathParam returns the unescaped route parameter
func pathParam(c *fiber.Ctx, name string) string {
	raw := c.Params(name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
