package connect

import (
	"context"
	"time"

	"github.com/goliatone/go-connect/metrics"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventRegistrationSubmitted ActivityEventType = "registration.submitted"
	ActivityEventRegistrationReset     ActivityEventType = "registration.reset"
	ActivityEventOTPResent             ActivityEventType = "otp.resent"
	ActivityEventOTPVerified           ActivityEventType = "otp.verified"
	ActivityEventOTPRejected           ActivityEventType = "otp.rejected"
	ActivityEventGuardDenied           ActivityEventType = "guard.denied"
	ActivityEventPermissionsUpdated    ActivityEventType = "guard.permissions.updated"
	ActivityEventStaffLogin            ActivityEventType = "staff.login"
	ActivityEventStaffLogout           ActivityEventType = "staff.logout"
	ActivityEventStaffQRGenerated      ActivityEventType = "staff.qr.generated"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Subject    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity is best effort, sink failures are only logged
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, event ActivityEvent) {
	metrics.ActivityEvents.WithLabelValues(string(event.EventType)).Inc()
	if sink == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now()
	}
	if err := sink.Record(ctx, event); err != nil && logger != nil {
		logger.Error("activity sink failed for %s: %v", event.EventType, err)
	}
}
