package connect

// MobileStatus is the outcome of the mobile existence check
type MobileStatus string

const (
	MobileUnchecked   MobileStatus = ""
	MobileAbsent      MobileStatus = "absent"
	MobilePending     MobileStatus = "pending"
	MobileVerified    MobileStatus = "verified"
	MobileCheckFailed MobileStatus = "check_failed"
)

const (
	MsgMobileVerified    = "This mobile number is already registered and verified."
	MsgMobilePending     = "This mobile number is pending verification."
	MsgMobileCheckFailed = "Error checking mobile number. Please try again."
	MsgInvalidPincode    = "Invalid pincode"
	MsgPincodeFailed     = "Error fetching pincode data"
)

// backend status marking a registration still awaiting OTP verification
const mobileStatusPending = "P"

// ClassifyMobile collapses the backend answer into the tri state the wizard acts on.
// Only "P" is non blocking; every other status of an existing number blocks.
func ClassifyMobile(check MobileCheck) MobileStatus {
	if !check.Exists {
		return MobileAbsent
	}
	if check.Status == mobileStatusPending {
		return MobilePending
	}
	return MobileVerified
}

// Blocking reports whether the status prevents leaving the profile step
func (s MobileStatus) Blocking() bool {
	return s == MobileVerified
}

// Message is the advisory shown next to the mobile field
func (s MobileStatus) Message() string {
	switch s {
	case MobileVerified:
		return MsgMobileVerified
	case MobilePending:
		return MsgMobilePending
	case MobileCheckFailed:
		return MsgMobileCheckFailed
	}
	return ""
}
