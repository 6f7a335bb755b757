package connect_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	connect "github.com/goliatone/go-connect"
)

type otpFixture struct {
	clock   *fakeClock
	backend *MockBackend
	sink    *recordingSink
	tokens  *connect.TokenService
	gate    *connect.OTPGate
	jar     *connect.MemoryCookieJar
	store   *connect.CookieSessionStore
}

func newOTPFixture(t *testing.T) *otpFixture {
	t.Helper()
	f := &otpFixture{
		clock:   newFakeClock(time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)),
		backend: new(MockBackend),
		sink:    &recordingSink{},
	}
	f.tokens = connect.NewTokenService([]byte("test-secret"), "connect-test",
		connect.WithTokenClock(f.clock.Now),
		connect.WithTokenLogger(nopLogger{}),
	)
	f.gate = connect.NewOTPGate(f.backend,
		connect.WithOTPClock(f.clock.Now),
		connect.WithGrantIssuer(f.tokens),
		connect.WithQRLinkBase("https://connect.example.com/"),
		connect.WithOTPActivitySink(f.sink),
		connect.WithOTPLogger(nopLogger{}),
	)
	f.jar = connect.NewMemoryCookieJar(f.clock.Now)
	f.store = connect.NewCookieSessionStore(f.jar,
		connect.WithSessionClock(f.clock.Now),
		connect.WithSessionLogger(nopLogger{}),
	)
	return f
}

// confirmedWizard returns a wizard on the confirm step with a captured location
func confirmedWizard(t *testing.T) *connect.Wizard {
	t.Helper()
	w := connect.NewWizard(nil, connect.WithWizardLogger(nopLogger{}))
	fillProfile(t, w)
	require.NoError(t, w.Next())
	fillAddress(t, w)
	require.NoError(t, w.Next())
	w.SetLocation(connect.LocationData{
		Latitude:     13.0827,
		Longitude:    80.2707,
		LocationName: "Chennai, Tamil Nadu",
		IPAddress:    "203.0.113.9",
	})
	return w
}

func (f *otpFixture) submit(t *testing.T, w *connect.Wizard) {
	t.Helper()
	f.backend.On("StoreLocation", mock.Anything, mock.Anything).Return(nil).Once()
	f.backend.On("SubmitCustomer", mock.Anything, mock.Anything).Return(nil).Once()

	err := f.gate.Submit(context.Background(), w, connect.SubmitRequest{
		EncodedEcno:   connect.EncodeCorrelationID("1042", connect.CorrelationLayers),
		ReferenceCode: "001057",
	})
	require.NoError(t, err)
}

func TestOTPGateSubmit(t *testing.T) {
	f := newOTPFixture(t)
	w := confirmedWizard(t)

	f.backend.On("StoreLocation", mock.Anything, mock.MatchedBy(func(loc connect.LocationRecord) bool {
		return loc.Ecno == "1042" &&
			loc.ReferenceCode == "001057" &&
			loc.LocationName == "Chennai, Tamil Nadu" &&
			loc.Timestamp == "2024-05-10T09:30:00Z"
	})).Return(nil).Once()
	f.backend.On("SubmitCustomer", mock.Anything, mock.MatchedBy(func(sub connect.CustomerSubmission) bool {
		return sub.Status == "P" &&
			sub.Ecno == "1042" &&
			sub.MobileNo == "9876543210" &&
			sub.IPAddress == "203.0.113.9"
	})).Return(nil).Once()

	err := f.gate.Submit(context.Background(), w, connect.SubmitRequest{
		EncodedEcno:   connect.EncodeCorrelationID("1042", connect.CorrelationLayers),
		ReferenceCode: "001057",
	})
	require.NoError(t, err)

	state := w.State()
	assert.True(t, state.FormSubmitted)
	assert.True(t, state.OtpSent)
	assert.False(t, state.OtpVerified)
	require.NotNil(t, state.SubmissionTimestamp)
	assert.Equal(t, f.clock.Now().UnixMilli(), *state.SubmissionTimestamp)
	assert.Equal(t, connect.OTPSent, f.gate.StateOf(state))
	assert.Equal(t, 60, f.gate.Remaining(state))
	assert.Equal(t, "1042", w.Record().Ecno)

	assert.Equal(t, []connect.ActivityEventType{connect.ActivityEventRegistrationSubmitted}, f.sink.Types())
	f.backend.AssertExpectations(t)

	// a submitted registration cannot go back
	assert.ErrorIs(t, w.Previous(), connect.ErrInvalidStepTransition)
	assert.ErrorIs(t, f.gate.Submit(context.Background(), w, connect.SubmitRequest{}), connect.ErrInvalidOTPTransition)
}

func TestOTPGateSubmitRequiresConfirmStep(t *testing.T) {
	f := newOTPFixture(t)
	w := connect.NewWizard(nil, connect.WithWizardLogger(nopLogger{}))
	fillProfile(t, w)

	err := f.gate.Submit(context.Background(), w, connect.SubmitRequest{})
	assert.ErrorIs(t, err, connect.ErrStepInvalid)

	// a failed submit shows every error
	assert.Contains(t, w.VisibleErrors(), connect.FieldDoorNo)
	f.backend.AssertNotCalled(t, "SubmitCustomer", mock.Anything, mock.Anything)
}

func TestOTPGateSubmitRequiresLocation(t *testing.T) {
	f := newOTPFixture(t)
	w := connect.NewWizard(nil, connect.WithWizardLogger(nopLogger{}))
	fillProfile(t, w)
	require.NoError(t, w.Next())
	fillAddress(t, w)
	require.NoError(t, w.Next())

	err := f.gate.Submit(context.Background(), w, connect.SubmitRequest{
		EncodedEcno: connect.EncodeCorrelationID("1042", connect.CorrelationLayers),
	})
	assert.ErrorIs(t, err, connect.ErrLocationRequired)
	assert.False(t, w.State().FormSubmitted)
}

func TestOTPGateSubmitBackendFailure(t *testing.T) {
	f := newOTPFixture(t)
	w := confirmedWizard(t)

	f.backend.On("StoreLocation", mock.Anything, mock.Anything).Return(nil).Once()
	f.backend.On("SubmitCustomer", mock.Anything, mock.Anything).Return(errors.New("503")).Once()

	err := f.gate.Submit(context.Background(), w, connect.SubmitRequest{
		EncodedEcno: connect.EncodeCorrelationID("1042", connect.CorrelationLayers),
	})
	require.Error(t, err)
	assert.True(t, connect.IsBackendError(err))
	assert.False(t, w.State().FormSubmitted)
	assert.Equal(t, connect.OTPIdle, f.gate.StateOf(w.State()))
}

func TestOTPGateRemainingCountsDown(t *testing.T) {
	f := newOTPFixture(t)
	w := confirmedWizard(t)
	f.submit(t, w)

	f.clock.Advance(45 * time.Second)
	assert.Equal(t, 15, f.gate.Remaining(w.State()))

	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, 0, f.gate.Remaining(w.State()))
}

func TestOTPGateRemainingNeverExceedsWindow(t *testing.T) {
	f := newOTPFixture(t)

	future := f.clock.Now().Add(10 * time.Minute).UnixMilli()
	state := connect.WizardState{
		CurrentStep:         connect.StepConfirm,
		FormSubmitted:       true,
		OtpSent:             true,
		SubmissionTimestamp: &future,
	}
	assert.Equal(t, 60, f.gate.Remaining(state))
}

func TestOTPGateResend(t *testing.T) {
	f := newOTPFixture(t)
	w := confirmedWizard(t)
	f.submit(t, w)

	f.clock.Advance(45 * time.Second)
	err := f.gate.Resend(context.Background(), w)
	assert.ErrorIs(t, err, connect.ErrResendNotReady)

	f.clock.Advance(15 * time.Second)
	f.backend.On("ResendOTP", mock.Anything, "9876543210").Return(nil).Once()
	require.NoError(t, f.gate.Resend(context.Background(), w))

	assert.Equal(t, f.clock.Now().UnixMilli(), *w.State().SubmissionTimestamp)
	assert.Equal(t, 60, f.gate.Remaining(w.State()))
	assert.Contains(t, f.sink.Types(), connect.ActivityEventOTPResent)
	f.backend.AssertExpectations(t)
}

func TestOTPGateResendBeforeSubmit(t *testing.T) {
	f := newOTPFixture(t)
	w := confirmedWizard(t)

	assert.ErrorIs(t, f.gate.Resend(context.Background(), w), connect.ErrInvalidOTPTransition)
}

func TestOTPGateInputPartialCode(t *testing.T) {
	f := newOTPFixture(t)
	w := confirmedWizard(t)
	f.submit(t, w)

	out, err := f.gate.Input(context.Background(), w, f.store, "12a-3")
	require.NoError(t, err)
	assert.Equal(t, "123", out.Code)
	assert.Equal(t, connect.OTPSent, out.State)
	assert.False(t, out.Verified)
	f.backend.AssertNotCalled(t, "VerifyOTP", mock.Anything, mock.Anything, mock.Anything)
}

func TestOTPGateInputVerifiesAtSixDigits(t *testing.T) {
	f := newOTPFixture(t)
	w := confirmedWizard(t)
	f.submit(t, w)
	f.store.Save(w.Record(), w.State())
	f.jar.Put("csrf_", "stale")

	f.backend.On("VerifyOTP", mock.Anything, "9876543210", "123456").
		Return(connect.VerifyResult{Success: true, Token: "backend-token"}, nil).Once()

	out, err := f.gate.Input(context.Background(), w, f.store, "123 4567")
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, connect.OTPVerified, out.State)
	require.NotNil(t, out.Grant)
	assert.Equal(t, "9876543210", out.Grant.Identifier)
	assert.Contains(t, out.Grant.URL, "https://connect.example.com/verify?mobile=9876543210")
	assert.Equal(t, 20*time.Minute, out.Grant.Remaining(f.clock.Now()))

	assert.Empty(t, f.jar.Cookie(connect.FormCookieName))
	assert.Empty(t, f.jar.Cookie("csrf_"))
	assert.True(t, f.jar.StorageCleared)
	assert.Equal(t, "backend-token", f.jar.Cookie(connect.AuthTokenCookieName))

	grant, err := f.tokens.ParseGrant(f.jar.Cookie(connect.QRGrantCookieName))
	require.NoError(t, err)
	assert.Equal(t, "9876543210", grant.Identifier)

	// the wizard is back to a first visit
	assert.Equal(t, connect.NewWizardState(), w.State())
	assert.Contains(t, f.sink.Types(), connect.ActivityEventOTPVerified)
	f.backend.AssertExpectations(t)
}

func TestOTPGateVerifyRejected(t *testing.T) {
	f := newOTPFixture(t)
	w := confirmedWizard(t)
	f.submit(t, w)

	f.backend.On("VerifyOTP", mock.Anything, "9876543210", "000000").
		Return(connect.VerifyResult{Success: false}, nil).Once()

	out, err := f.gate.Verify(context.Background(), w, f.store, "000000")
	require.NoError(t, err)
	assert.False(t, out.Verified)
	assert.True(t, out.Refocus)
	assert.Empty(t, out.Code)
	assert.Equal(t, "Invalid OTP. Please try again.", out.Message)
	assert.Equal(t, connect.OTPSent, out.State)

	state := w.State()
	assert.True(t, state.OtpSent)
	assert.False(t, state.OtpVerified)
	assert.Contains(t, f.sink.Types(), connect.ActivityEventOTPRejected)
	_, ok := f.jar.Written(connect.AuthTokenCookieName)
	assert.False(t, ok)
}

func TestOTPGateVerifyCallFailure(t *testing.T) {
	f := newOTPFixture(t)
	w := confirmedWizard(t)
	f.submit(t, w)

	f.backend.On("VerifyOTP", mock.Anything, mock.Anything, mock.Anything).
		Return(connect.VerifyResult{}, errors.New("network")).Once()

	out, err := f.gate.Verify(context.Background(), w, f.store, "654321")
	require.NoError(t, err)
	assert.True(t, out.Refocus)
	assert.Equal(t, "Failed to verify OTP", out.Message)
}

func TestOTPGateVerifyValidatesCode(t *testing.T) {
	f := newOTPFixture(t)
	w := confirmedWizard(t)

	_, err := f.gate.Verify(context.Background(), w, f.store, "123456")
	assert.ErrorIs(t, err, connect.ErrInvalidOTPTransition)

	f.submit(t, w)
	_, err = f.gate.Verify(context.Background(), w, f.store, "12345")
	assert.ErrorIs(t, err, connect.ErrInvalidOTPCode)
}

func TestSanitizeOTP(t *testing.T) {
	assert.Equal(t, "123456", connect.SanitizeOTP("12-34 5678"))
	assert.Equal(t, "", connect.SanitizeOTP("abc"))
}

func TestDisplayMobile(t *testing.T) {
	assert.Equal(t, "+91 98765 43210", connect.DisplayMobile("9876543210"))
	assert.Equal(t, "not-a-number", connect.DisplayMobile("not-a-number"))
}
