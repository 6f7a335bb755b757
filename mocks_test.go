package connect_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	connect "github.com/goliatone/go-connect"
)

// MockBackend implements every backend collaborator interface
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) CheckMobile(ctx context.Context, mobile string) (connect.MobileCheck, error) {
	args := m.Called(ctx, mobile)
	return args.Get(0).(connect.MobileCheck), args.Error(1)
}

func (m *MockBackend) StoreLocation(ctx context.Context, loc connect.LocationRecord) error {
	args := m.Called(ctx, loc)
	return args.Error(0)
}

func (m *MockBackend) SubmitCustomer(ctx context.Context, sub connect.CustomerSubmission) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockBackend) ResendOTP(ctx context.Context, mobile string) error {
	args := m.Called(ctx, mobile)
	return args.Error(0)
}

func (m *MockBackend) VerifyOTP(ctx context.Context, mobile, code string) (connect.VerifyResult, error) {
	args := m.Called(ctx, mobile, code)
	return args.Get(0).(connect.VerifyResult), args.Error(1)
}

func (m *MockBackend) UserApprovals(ctx context.Context) ([]connect.Approval, error) {
	args := m.Called(ctx)
	approvals, _ := args.Get(0).([]connect.Approval)
	return approvals, args.Error(1)
}

func (m *MockBackend) LoginOptions(ctx context.Context) (json.RawMessage, error) {
	args := m.Called(ctx)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func (m *MockBackend) SendStaffOTP(ctx context.Context, req connect.StaffOTPRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockBackend) VerifyStaffOTP(ctx context.Context, req connect.StaffLoginRequest) (connect.StaffLogin, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(connect.StaffLogin), args.Error(1)
}

func (m *MockBackend) StaffLogout(ctx context.Context, userCode string) error {
	args := m.Called(ctx, userCode)
	return args.Error(0)
}

func (m *MockBackend) StaffCoins(ctx context.Context, ecno string) (connect.StaffCoins, error) {
	args := m.Called(ctx, ecno)
	return args.Get(0).(connect.StaffCoins), args.Error(1)
}

func (m *MockBackend) MarketingReports(ctx context.Context) (json.RawMessage, error) {
	args := m.Called(ctx)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

// MockPostal implements connect.PostalLookup
type MockPostal struct {
	mock.Mock
}

func (m *MockPostal) LookupPincode(ctx context.Context, code string) (connect.PostalResult, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(connect.PostalResult), args.Error(1)
}

// MockLocator implements connect.LocationDescriber
type MockLocator struct {
	mock.Mock
}

func (m *MockLocator) Describe(ctx context.Context, lat, lon float64) (connect.LocationData, error) {
	args := m.Called(ctx, lat, lon)
	return args.Get(0).(connect.LocationData), args.Error(1)
}

// stubQR returns the encoded content as the image bytes
type stubQR struct{}

func (stubQR) PNG(content string, _ int) ([]byte, error) {
	return []byte("png:" + content), nil
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

func (s *recordingSink) Types() []connect.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]connect.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// recordingLogger keeps the formatted error lines
type recordingLogger struct {
	nopLogger
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

// fakeClock is a settable clock shared by the collaborators of one test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
