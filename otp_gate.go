package connect

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// OTPState is a node of the verification flow
type OTPState string

const (
	OTPIdle      OTPState = "idle"
	OTPSubmitted OTPState = "submitted"
	OTPSent      OTPState = "otp_sent"
	OTPVerifying OTPState = "verifying"
	OTPVerified  OTPState = "verified"
)

const (
	DefaultResendCountdown = 60 * time.Second
	OTPLength              = 6
	// submitted registrations are recorded as pending until verified
	customerStatusPending = "P"
)

// SubmitRequest carries the encoded correlation identifiers from the registration link
type SubmitRequest struct {
	EncodedEcno   string
	ReferenceCode string
}

// OTPOutcome is the result of an input or verification round
type OTPOutcome struct {
	State     OTPState `json:"state"`
	Code      string   `json:"code"`
	Verified  bool     `json:"verified"`
	Refocus   bool     `json:"refocus,omitempty"`
	Message   string   `json:"message,omitempty"`
	Remaining int      `json:"remaining"`
	Grant     *QRGrant `json:"grant,omitempty"`
}

// GrantIssuer signs QR display grants
type GrantIssuer interface {
	IssueGrant(identifier, link string, ttl time.Duration) (QRGrant, string, error)
}

// OTPGateOption customizes the gate
type OTPGateOption func(*OTPGate)

// WithOTPClock injects a custom clock (useful for tests).
func WithOTPClock(clock func() time.Time) OTPGateOption {
	return func(g *OTPGate) {
		if clock != nil {
			g.now = clock
		}
	}
}

// WithOTPActivitySink sets the ActivitySink used to publish verification events.
func WithOTPActivitySink(sink ActivitySink) OTPGateOption {
	return func(g *OTPGate) {
		g.activitySink = normalizeActivitySink(sink)
	}
}

// WithOTPLogger overrides the logger
func WithOTPLogger(logger Logger) OTPGateOption {
	return func(g *OTPGate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGrantIssuer sets who signs the QR grant handed out after verification
func WithGrantIssuer(issuer GrantIssuer) OTPGateOption {
	return func(g *OTPGate) {
		g.grants = issuer
	}
}

// WithQRWindow overrides how long the customer QR stays valid
func WithQRWindow(d time.Duration) OTPGateOption {
	return func(g *OTPGate) {
		if d > 0 {
			g.qrWindow = d
		}
	}
}

// WithCredentialTTL overrides the lifetime of the stored credential cookie
func WithCredentialTTL(d time.Duration) OTPGateOption {
	return func(g *OTPGate) {
		if d > 0 {
			g.credentialTTL = d
		}
	}
}

// WithQRLinkBase sets the public base URL encoded in customer QR codes
func WithQRLinkBase(base string) OTPGateOption {
	return func(g *OTPGate) {
		g.linkBase = strings.TrimRight(base, "/")
	}
}

// OTPGate drives submission, OTP delivery and verification of a registration
type OTPGate struct {
	backend       RegistrationBackend
	grants        GrantIssuer
	transitions   map[OTPState]map[OTPState]struct{}
	countdown     time.Duration
	qrWindow      time.Duration
	credentialTTL time.Duration
	linkBase      string
	now           func() time.Time
	activitySink  ActivitySink
	logger        Logger
}

// NewOTPGate returns a gate talking to backend
func NewOTPGate(backend RegistrationBackend, opts ...OTPGateOption) *OTPGate {
	g := &OTPGate{
		backend: backend,
		transitions: map[OTPState]map[OTPState]struct{}{
			OTPIdle: {
				OTPSubmitted: {},
			},
			OTPSubmitted: {
				OTPSent: {},
				OTPIdle: {},
			},
			OTPSent: {
				OTPSent:      {},
				OTPVerifying: {},
			},
			OTPVerifying: {
				OTPVerified: {},
				OTPSent:     {},
			},
		},
		countdown:     DefaultResendCountdown,
		qrWindow:      DefaultCustomerQRTTL,
		credentialTTL: DefaultUserTTL,
		now:           time.Now,
		activitySink:  noopActivitySink{},
		logger:        defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g
}

// StateOf derives the resting state from persisted progress
func (g *OTPGate) StateOf(state WizardState) OTPState {
	switch {
	case state.OtpVerified:
		return OTPVerified
	case state.OtpSent:
		return OTPSent
	case state.FormSubmitted:
		return OTPSubmitted
	}
	return OTPIdle
}

// Remaining returns the resend countdown in whole seconds, within 0 and the
// countdown window. It is derived from the persisted submission time so reloads
// do not restart it.
func (g *OTPGate) Remaining(state WizardState) int {
	if !state.OtpSent || state.OtpVerified || state.SubmissionTimestamp == nil {
		return 0
	}
	elapsed := (g.now().UnixMilli() - *state.SubmissionTimestamp) / 1000
	window := int64(g.countdown / time.Second)
	remaining := window - elapsed
	if remaining < 0 {
		return 0
	}
	if remaining > window {
		return int(window)
	}
	return int(remaining)
}

// Submit posts the record and, on success, moves the wizard to OTPSent
func (g *OTPGate) Submit(ctx context.Context, w *Wizard, req SubmitRequest) error {
	w.MarkSubmitAttempt()

	from := g.StateOf(w.State())
	if err := g.transition(from, OTPSubmitted); err != nil {
		return err
	}

	if w.State().CurrentStep != StepConfirm || !w.StepValid(StepConfirm) {
		return ErrStepInvalid
	}

	loc, ok := w.Location()
	if !ok {
		return ErrLocationRequired
	}

	ecno, err := DecodeCorrelationID(req.EncodedEcno, CorrelationLayers)
	if err != nil {
		g.logger.Error("submit correlation decode failed: %v", err)
		return err
	}

	now := g.now()
	if err := g.backend.StoreLocation(ctx, LocationRecord{
		Ecno:          ecno,
		ReferenceCode: req.ReferenceCode,
		LocationName:  loc.LocationName,
		IPAddress:     loc.IPAddress,
		Latitude:      loc.Latitude,
		Longitude:     loc.Longitude,
		Timestamp:     now.UTC().Format(time.RFC3339),
	}); err != nil {
		return backendError(err, "Failed to store location")
	}

	record := w.Record()
	record.Ecno = ecno
	record.ReferenceCode = req.ReferenceCode

	if err := g.backend.SubmitCustomer(ctx, CustomerSubmission{
		FormRecord:   record,
		Status:       customerStatusPending,
		LocationName: loc.LocationName,
		IPAddress:    loc.IPAddress,
	}); err != nil {
		return backendError(err, "Failed to submit form")
	}

	if err := g.transition(OTPSubmitted, OTPSent); err != nil {
		return err
	}

	ts := now.UnixMilli()
	w.mu.Lock()
	w.record.Ecno = ecno
	w.record.ReferenceCode = req.ReferenceCode
	w.state.FormSubmitted = true
	w.state.OtpSent = true
	w.state.OtpVerified = false
	w.state.SubmissionTimestamp = &ts
	w.mu.Unlock()

	recordActivity(ctx, g.activitySink, g.logger, g.now, ActivityEvent{
		EventType: ActivityEventRegistrationSubmitted,
		Subject:   record.MobileNo,
		Metadata: map[string]any{
			"ecno":           ecno,
			"reference_code": req.ReferenceCode,
			"mobile":         DisplayMobile(record.MobileNo),
		},
	})

	return nil
}

// Resend requests a new OTP once the countdown reached zero
func (g *OTPGate) Resend(ctx context.Context, w *Wizard) error {
	state := w.State()
	if err := g.transition(g.StateOf(state), OTPSent); err != nil {
		return err
	}

	if g.Remaining(state) > 0 {
		return ErrResendNotReady
	}

	mobile := w.Record().MobileNo
	if err := g.backend.ResendOTP(ctx, mobile); err != nil {
		return backendError(err, "Failed to resend OTP")
	}

	ts := g.now().UnixMilli()
	w.updateState(func(s *WizardState) {
		s.SubmissionTimestamp = &ts
	})

	recordActivity(ctx, g.activitySink, g.logger, g.now, ActivityEvent{
		EventType: ActivityEventOTPResent,
		Subject:   mobile,
	})

	return nil
}

// Input sanitizes a partially typed code and verifies it once it has six digits
func (g *OTPGate) Input(ctx context.Context, w *Wizard, sessions SessionRepository, raw string) (*OTPOutcome, error) {
	code := SanitizeOTP(raw)
	if len(code) < OTPLength {
		state := w.State()
		return &OTPOutcome{
			State:     g.StateOf(state),
			Code:      code,
			Remaining: g.Remaining(state),
		}, nil
	}
	return g.Verify(ctx, w, sessions, code)
}

// Verify checks code against the backend. On success every session cookie is
// dropped, the credential is stored and a QR grant for the verified mobile is issued.
func (g *OTPGate) Verify(ctx context.Context, w *Wizard, sessions SessionRepository, code string) (*OTPOutcome, error) {
	state := w.State()
	if err := g.transition(g.StateOf(state), OTPVerifying); err != nil {
		return nil, err
	}

	if len(code) != OTPLength || !onlyDigits(code) {
		return nil, ErrInvalidOTPCode
	}

	mobile := w.Record().MobileNo
	res, err := g.backend.VerifyOTP(ctx, mobile, code)
	if err != nil || !res.Accepted() {
		msg := ErrOTPRejected.Message
		if err != nil {
			g.logger.Error("otp verification call failed: %v", err)
			msg = "Failed to verify OTP"
		} else if res.Message != "" {
			msg = res.Message
		}

		recordActivity(ctx, g.activitySink, g.logger, g.now, ActivityEvent{
			EventType: ActivityEventOTPRejected,
			Subject:   mobile,
		})

		return &OTPOutcome{
			State:     OTPSent,
			Code:      "",
			Refocus:   true,
			Message:   msg,
			Remaining: g.Remaining(state),
		}, nil
	}

	if err := g.transition(OTPVerifying, OTPVerified); err != nil {
		return nil, err
	}

	sessions.ResetAllSessionState()
	if res.Token != "" {
		sessions.StoreCredential(AuthTokenCookieName, res.Token, g.credentialTTL)
	}

	identifier := res.MobileNo
	if identifier == "" {
		identifier = mobile
	}

	outcome := &OTPOutcome{
		State:    OTPVerified,
		Verified: true,
		Message:  "OTP verified successfully",
	}

	if g.grants != nil {
		grant, signed, err := g.grants.IssueGrant(identifier, g.qrLink(identifier), g.qrWindow)
		if err != nil {
			g.logger.Error("qr grant issue failed: %v", err)
		} else {
			sessions.StoreCredential(QRGrantCookieName, signed, g.qrWindow)
			outcome.Grant = &grant
		}
	}

	w.Reset()

	recordActivity(ctx, g.activitySink, g.logger, g.now, ActivityEvent{
		EventType: ActivityEventOTPVerified,
		Subject:   identifier,
		Metadata: map[string]any{
			"mobile": DisplayMobile(identifier),
		},
	})

	return outcome, nil
}

func (g *OTPGate) qrLink(mobile string) string {
	q := url.Values{}
	q.Set("mobile", mobile)
	q.Set("session", NewSessionID(mobile, g.now()))
	return fmt.Sprintf("%s/verify?%s", g.linkBase, q.Encode())
}

func (g *OTPGate) transition(from, to OTPState) error {
	if allowed, ok := g.transitions[from]; ok {
		if _, exists := allowed[to]; exists {
			return nil
		}
	}
	g.logger.Debug("rejected otp transition %s -> %s", from, to)
	return ErrInvalidOTPTransition
}

// SanitizeOTP keeps digits only, capped at six
func SanitizeOTP(raw string) string {
	var b strings.Builder
	for _, c := range raw {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
			if b.Len() == OTPLength {
				break
			}
		}
	}
	return b.String()
}

// DisplayMobile formats an Indian mobile number for messages and logs
func DisplayMobile(mobile string) string {
	num, err := phonenumbers.Parse(mobile, "IN")
	if err != nil {
		return mobile
	}
	return phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
}

// IsBackendError reports whether err came from a failed collaborator call
func IsBackendError(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == TextCodeBackendUnavailable
	}
	return false
}
