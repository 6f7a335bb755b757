// Package backend is the REST client of the customer registration API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus"

	connect "github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/metrics"
)

const (
	defaultBaseURL = "https://cust.spacetextiles.net"
	defaultTimeout = 15 * time.Second
	upstream       = "backend"
)

// Config holds the backend client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements the registration, approval and staff collaborators
type Client struct {
	config     Config
	httpClient *http.Client
}

var (
	_ connect.MobileChecker       = (*Client)(nil)
	_ connect.RegistrationBackend = (*Client)(nil)
	_ connect.ApprovalSource      = (*Client)(nil)
	_ connect.StaffBackend        = (*Client)(nil)
)

// New creates a backend client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		config:     cfg,
		httpClient: client,
	}
}

// StatusError is returned when the backend answers with a non 2xx status
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s returned status %d: %s", e.Operation, e.StatusCode, e.Body)
}

func (c *Client) CheckMobile(ctx context.Context, mobile string) (connect.MobileCheck, error) {
	out := connect.MobileCheck{}
	err := c.do(ctx, "check_users", http.MethodGet, "/check_users/"+url.PathEscape(mobile), nil, &out)
	return out, err
}

func (c *Client) StoreLocation(ctx context.Context, loc connect.LocationRecord) error {
	return c.do(ctx, "store_location", http.MethodPost, "/store-location", loc, nil)
}

// SubmitCustomer fails when the backend answers 2xx with an error body
func (c *Client) SubmitCustomer(ctx context.Context, sub connect.CustomerSubmission) error {
	out := struct {
		Error string `json:"error"`
	}{}
	if err := c.do(ctx, "customer", http.MethodPost, "/customer", sub, &out); err != nil {
		return err
	}
	if out.Error != "" {
		return goerrors.New(out.Error, goerrors.CategoryOperation).
			WithMetadata(map[string]any{"operation": "customer"})
	}
	return nil
}

func (c *Client) ResendOTP(ctx context.Context, mobile string) error {
	return c.do(ctx, "resend", http.MethodGet, "/resend/"+url.PathEscape(mobile), nil, nil)
}

type verifyOTPRequest struct {
	OTP      string `json:"OTP"`
	MobileNo string `json:"mobileNo"`
}

func (c *Client) VerifyOTP(ctx context.Context, mobile, code string) (connect.VerifyResult, error) {
	out := connect.VerifyResult{}
	err := c.do(ctx, "verify_otp", http.MethodPost, "/verify_otp", verifyOTPRequest{OTP: code, MobileNo: mobile}, &out)
	return out, err
}

type approvalsResponse struct {
	Success bool               `json:"success"`
	Data    []connect.Approval `json:"data"`
}

func (c *Client) UserApprovals(ctx context.Context) ([]connect.Approval, error) {
	out := approvalsResponse{}
	if err := c.do(ctx, "user_approvals", http.MethodGet, "/user-approvals", nil, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.Data == nil {
		return nil, goerrors.New("Invalid approval data received", goerrors.CategoryOperation).
			WithMetadata(map[string]any{"operation": "user_approvals"})
	}
	return out.Data, nil
}

func (c *Client) LoginOptions(ctx context.Context) (json.RawMessage, error) {
	out := json.RawMessage{}
	err := c.do(ctx, "combined_user_role_data", http.MethodGet, "/getCombinedUserRoleData", nil, &out)
	return out, err
}

// SendStaffOTP fails with a STAFF_OTP_REJECTED error carrying the backend
// message when the answer has success set to false
func (c *Client) SendStaffOTP(ctx context.Context, req connect.StaffOTPRequest) error {
	out := struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}{}
	if err := c.do(ctx, "order_send_otp", http.MethodPost, "/order-send-otp", req, &out); err != nil {
		return err
	}
	if out.Success != nil && !*out.Success {
		msg := out.Message
		if msg == "" {
			msg = "Failed to send OTP. Please try again."
		}
		return goerrors.New(msg, goerrors.CategoryValidation).
			WithTextCode(connect.TextCodeStaffOTPRejected).
			WithCode(http.StatusBadRequest).
			WithMetadata(map[string]any{"operation": "order_send_otp"})
	}
	return nil
}

// VerifyStaffOTP returns the backend answer even when it refuses the code
// with a 4xx status, so the caller can show its message
func (c *Client) VerifyStaffOTP(ctx context.Context, req connect.StaffLoginRequest) (connect.StaffLogin, error) {
	out := connect.StaffLogin{}
	err := c.do(ctx, "order_verify_otp", http.MethodPost, "/order-verify-otp", req, &out)

	var statusErr *StatusError
	if goerrors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
		rejected := connect.StaffLogin{}
		if json.Unmarshal([]byte(statusErr.Body), &rejected) == nil {
			rejected.Success = false
			return rejected, nil
		}
	}
	return out, err
}

type logoutRequest struct {
	UserCode string `json:"user_code"`
}

func (c *Client) StaffLogout(ctx context.Context, userCode string) error {
	out := struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{}
	if err := c.do(ctx, "order_logout", http.MethodPost, "/order-logout", logoutRequest{UserCode: userCode}, &out); err != nil {
		return err
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "Logout failed"
		}
		return goerrors.New(msg, goerrors.CategoryOperation)
	}
	return nil
}

func (c *Client) StaffCoins(ctx context.Context, ecno string) (connect.StaffCoins, error) {
	out := connect.StaffCoins{}
	err := c.do(ctx, "marketing_staff", http.MethodGet, "/marketing-staff/"+url.PathEscape(ecno), nil, &out)

	var statusErr *StatusError
	if goerrors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return out, connect.ErrStaffNotFound
	}
	if err == nil && out.Ecno == "" {
		return out, connect.ErrStaffNotFound
	}
	return out, err
}

func (c *Client) MarketingReports(ctx context.Context) (json.RawMessage, error) {
	out := json.RawMessage{}
	err := c.do(ctx, "marketing_reports", http.MethodGet, "/marketing-reports", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, operation, method, path string, body any, out any) error {
	timer := prometheus.NewTimer(metrics.UpstreamDuration.WithLabelValues(upstream, operation))
	defer timer.ObserveDuration()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode backend request").
				WithMetadata(map[string]any{"operation": operation})
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build backend request").
			WithMetadata(map[string]any{"operation": operation})
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "backend request failed").
			WithMetadata(map[string]any{"operation": operation})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to read backend response").
			WithMetadata(map[string]any{"operation": operation})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to decode backend response").
			WithMetadata(map[string]any{"operation": operation})
	}
	return nil
}
