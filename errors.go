package connect

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeUnknownField       = "UNKNOWN_FORM_FIELD"
	TextCodeStepInvalid        = "STEP_INVALID"
	TextCodeInvalidStep        = "INVALID_STEP_TRANSITION"
	TextCodeInvalidOTPState    = "INVALID_OTP_TRANSITION"
	TextCodeResendNotReady     = "OTP_RESEND_NOT_READY"
	TextCodeInvalidOTPCode     = "INVALID_OTP_CODE"
	TextCodeOTPRejected        = "OTP_REJECTED"
	TextCodeLocationRequired   = "LOCATION_REQUIRED"
	TextCodeCorrelationDecode  = "CORRELATION_DECODE_FAILED"
	TextCodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	TextCodeSessionMissing     = "SESSION_MISSING"
	TextCodeSessionInvalid     = "SESSION_INVALID"
	TextCodeScreenForbidden    = "SCREEN_FORBIDDEN"
	TextCodeGrantExpired       = "QR_GRANT_EXPIRED"
	TextCodeStaffNotFound      = "STAFF_NOT_FOUND"
	TextCodeInvalidEcno        = "INVALID_ECNO"
	TextCodeLoginRejected      = "STAFF_LOGIN_REJECTED"
	TextCodeReadOnlyField      = "READ_ONLY_FORM_FIELD"
	TextCodeAreaNotListed      = "AREA_NOT_LISTED"
	TextCodeFormLocked         = "FORM_LOCKED"
	TextCodeStaleEdit          = "STALE_FORM_EDIT"
	TextCodeStaffOTPRejected   = "STAFF_OTP_REJECTED"
)

// ErrUnknownField is returned when an edit targets a field the form does not have
var ErrUnknownField = goerrors.New("unknown form field", goerrors.CategoryBadInput).
	WithTextCode(TextCodeUnknownField).
	WithCode(goerrors.CodeBadRequest)

// ErrReadOnlyField is returned when an edit targets a field owned by the pin code lookup or the link
var ErrReadOnlyField = goerrors.New("form field is read only", goerrors.CategoryBadInput).
	WithTextCode(TextCodeReadOnlyField).
	WithCode(goerrors.CodeBadRequest)

// ErrAreaNotListed is returned when the chosen area is not one of the localities of the pin code
var ErrAreaNotListed = goerrors.New("Please select an area from the list", goerrors.CategoryValidation).
	WithTextCode(TextCodeAreaNotListed).
	WithCode(goerrors.CodeBadRequest)

// ErrFormLocked is returned for edits after the form was submitted
var ErrFormLocked = goerrors.New("form was already submitted", goerrors.CategoryConflict).
	WithTextCode(TextCodeFormLocked).
	WithCode(goerrors.CodeConflict)

// ErrStaleEdit is returned for an edit older than one already applied
var ErrStaleEdit = goerrors.New("form edit is out of date", goerrors.CategoryConflict).
	WithTextCode(TextCodeStaleEdit).
	WithCode(goerrors.CodeConflict)

// ErrStepInvalid is returned when Next or Submit is requested on an invalid step
var ErrStepInvalid = goerrors.New("current step has validation errors", goerrors.CategoryValidation).
	WithTextCode(TextCodeStepInvalid).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidStepTransition is returned when the wizard cannot move in the requested direction
var ErrInvalidStepTransition = goerrors.New("invalid wizard step transition", goerrors.CategoryConflict).
	WithTextCode(TextCodeInvalidStep).
	WithCode(goerrors.CodeConflict)

// ErrInvalidOTPTransition is returned when the OTP gate is asked to leave its current state illegally
var ErrInvalidOTPTransition = goerrors.New("invalid otp state transition", goerrors.CategoryConflict).
	WithTextCode(TextCodeInvalidOTPState).
	WithCode(goerrors.CodeConflict)

// ErrResendNotReady is returned while the resend countdown is still running
var ErrResendNotReady = goerrors.New("otp resend is not available yet", goerrors.CategoryConflict).
	WithTextCode(TextCodeResendNotReady).
	WithCode(goerrors.CodeConflict)

// ErrInvalidOTPCode is returned for codes that are not exactly six digits
var ErrInvalidOTPCode = goerrors.New("otp must be 6 digits", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidOTPCode).
	WithCode(goerrors.CodeBadRequest)

// ErrOTPRejected is returned when the backend does not accept the code
var ErrOTPRejected = goerrors.New("Invalid OTP. Please try again.", goerrors.CategoryValidation).
	WithTextCode(TextCodeOTPRejected).
	WithCode(goerrors.CodeBadRequest)

// ErrLocationRequired is returned when a submit happens before location capture
var ErrLocationRequired = goerrors.New("Location data is required. Please enable location access.", goerrors.CategoryValidation).
	WithTextCode(TextCodeLocationRequired).
	WithCode(goerrors.CodeBadRequest)

// ErrCorrelationDecode is returned when an encoded correlation identifier cannot be decoded
var ErrCorrelationDecode = goerrors.New("invalid correlation identifier", goerrors.CategoryBadInput).
	WithTextCode(TextCodeCorrelationDecode).
	WithCode(goerrors.CodeBadRequest)

// ErrUnableToFindSession is returned when the request carries no user cookie
var ErrUnableToFindSession = goerrors.New("unable to find session", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionMissing).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToDecodeSession is returned when the user cookie fails verification
var ErrUnableToDecodeSession = goerrors.New("unable to decode session", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrScreenForbidden is returned when the session has no permission for a path
var ErrScreenForbidden = goerrors.New("screen not allowed for role", goerrors.CategoryAuthz).
	WithTextCode(TextCodeScreenForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrGrantExpired is returned once a QR display window is over
var ErrGrantExpired = goerrors.New("qr code has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeGrantExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrStaffNotFound is returned when the backend has no coin summary for an ECNO
var ErrStaffNotFound = goerrors.New("No data found for this ECNO", goerrors.CategoryNotFound).
	WithTextCode(TextCodeStaffNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidEcno is returned when a staff code is not numeric
var ErrInvalidEcno = goerrors.New("Invalid ECNO", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidEcno).
	WithCode(goerrors.CodeBadRequest)

// ErrLoginRejected is returned when the backend refuses a staff OTP
var ErrLoginRejected = goerrors.New("Invalid OTP. Please try again.", goerrors.CategoryAuth).
	WithTextCode(TextCodeLoginRejected).
	WithCode(goerrors.CodeUnauthorized)

// backendError wraps a failed collaborator call so handlers can render it as an advisory
func backendError(err error, msg string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, msg).
		WithTextCode(TextCodeBackendUnavailable).
		WithCode(502)
}
