package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds portal options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetPublicBaseURL() string
	GetSecureCookies() bool
	GetUserCookieTTL() time.Duration
	GetFormCookieTTL() time.Duration
}

// UnknownLocation names coordinates that could not be resolved
const UnknownLocation = "Unknown Location"

// MobileChecker reports whether a mobile number is already registered
type MobileChecker interface {
	CheckMobile(ctx context.Context, mobile string) (MobileCheck, error)
}

// PostalLookup resolves a six digit pin code into its derived address fields
type PostalLookup interface {
	LookupPincode(ctx context.Context, code string) (PostalResult, error)
}

// RegistrationBackend is the REST collaborator that owns customer records and OTPs
type RegistrationBackend interface {
	StoreLocation(ctx context.Context, loc LocationRecord) error
	SubmitCustomer(ctx context.Context, sub CustomerSubmission) error
	ResendOTP(ctx context.Context, mobile string) error
	VerifyOTP(ctx context.Context, mobile, code string) (VerifyResult, error)
}

// ApprovalSource returns the authoritative role/screen permission list
type ApprovalSource interface {
	UserApprovals(ctx context.Context) ([]Approval, error)
}

// StaffBackend serves the staff login and dashboard collaborator calls
type StaffBackend interface {
	LoginOptions(ctx context.Context) (json.RawMessage, error)
	SendStaffOTP(ctx context.Context, req StaffOTPRequest) error
	VerifyStaffOTP(ctx context.Context, req StaffLoginRequest) (StaffLogin, error)
	StaffLogout(ctx context.Context, userCode string) error
	StaffCoins(ctx context.Context, ecno string) (StaffCoins, error)
	MarketingReports(ctx context.Context) (json.RawMessage, error)
	StoreLocation(ctx context.Context, loc LocationRecord) error
}

// LocationDescriber turns coordinates into a named location
type LocationDescriber interface {
	Describe(ctx context.Context, lat, lon float64) (LocationData, error)
}

// QRRenderer encodes content as a PNG image
type QRRenderer interface {
	PNG(content string, size int) ([]byte, error)
}

// StaffOTPRequest asks the backend to send a login OTP to a staff member
type StaffOTPRequest struct {
	UserCode string `json:"userCode"`
	Concern  string `json:"concern"`
	Division string `json:"division"`
	Branch   string `json:"branch"`
}

// StaffLoginRequest is posted to verify a staff login OTP
type StaffLoginRequest struct {
	UserCode string `json:"user_code"`
	Concern  string `json:"user_approval_concern"`
	Branch   string `json:"user_approval_branch"`
	OTP      string `json:"otp"`
	Location string `json:"location"`
	IP       string `json:"ip"`
}

// StaffLogin is the backend answer to a staff OTP verification
type StaffLogin struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Token   string   `json:"token"`
	User    UserData `json:"user"`
}

// StaffCoins is the coin summary of a marketing staff member
type StaffCoins struct {
	Ecno       string  `json:"ecno"`
	Coins      int     `json:"coins"`
	TodayCoins int     `json:"todayCoins"`
	Location   string  `json:"location,omitempty"`
	IP         string  `json:"ip,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
	Timestamp  string  `json:"timestamp,omitempty"`
}

// MobileCheck is the raw answer of the existence check
type MobileCheck struct {
	Exists bool   `json:"exists"`
	Status string `json:"status"`
}

// PostalResult holds the fields derived from a pin code lookup
type PostalResult struct {
	Found bool
	City  string
	State string
	Taluk string
	Areas []string
}

// LocationData is the geolocation captured for a visitor
type LocationData struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	LocationName string  `json:"location_name"`
	IPAddress    string  `json:"ip_address"`
}

// LocationRecord is posted to the backend store-location endpoint
type LocationRecord struct {
	Ecno          string  `json:"ecno"`
	UserName      string  `json:"user_name,omitempty"`
	UserRole      string  `json:"user_role,omitempty"`
	ReferenceCode string  `json:"reference_code"`
	SessionID     string  `json:"session_id,omitempty"`
	Branch        string  `json:"branch,omitempty"`
	LocationName  string  `json:"location_name"`
	IPAddress     string  `json:"ip_address"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Timestamp     string  `json:"timestamp"`
}

// CustomerSubmission is the registration payload posted to the backend
type CustomerSubmission struct {
	FormRecord
	Status       string `json:"status"`
	LocationName string `json:"location_name"`
	IPAddress    string `json:"ip_address"`
}

// VerifyResult is the backend answer to an OTP verification
type VerifyResult struct {
	Success  bool   `json:"success"`
	Exists   bool   `json:"exists"`
	MobileNo string `json:"mobileNo,omitempty"`
	Token    string `json:"token,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Accepted reports whether the backend considers the code valid
func (v VerifyResult) Accepted() bool {
	return v.Success || v.Exists
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] CONNECT "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] CONNECT "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] CONNECT "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
