package activitymap_test

import (
	"testing"
	"time"

	connect "github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/activitymap"
)

func TestNormalizeStaffEvent(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := connect.ActivityEvent{
		EventType: connect.ActivityEventStaffQRGenerated,
		Subject:   "1024",
		Metadata: map[string]any{
			"reference_code": "001039",
			"session_id":     "1024-1736501400000-abcdef123",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "1024" {
		t.Fatalf("expected actor_id 1024, got %q", out.ActorID)
	}
	if out.Verb != string(connect.ActivityEventStaffQRGenerated) {
		t.Fatalf("expected verb %q, got %q", connect.ActivityEventStaffQRGenerated, out.Verb)
	}
	if out.Channel != "staff" {
		t.Fatalf("expected channel staff, got %q", out.Channel)
	}
	if out.ObjectType != "staff_session" {
		t.Fatalf("expected object_type staff_session, got %q", out.ObjectType)
	}
	if out.ObjectID != "1024-1736501400000-abcdef123" {
		t.Fatalf("expected object_id to be the session id, got %q", out.ObjectID)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}
	if out.Metadata[activitymap.MetadataKeyCategory] != "staff" {
		t.Fatalf("expected metadata category staff, got %#v", out.Metadata[activitymap.MetadataKeyCategory])
	}
}

func TestNormalizeRegistrationEventFallbacks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	out := activitymap.Normalize(connect.ActivityEvent{
		EventType: connect.ActivityEventRegistrationReset,
	}, activitymap.WithClock(func() time.Time { return now }))

	if out.ActorID != "anonymous" {
		t.Fatalf("expected fallback actor anonymous, got %q", out.ActorID)
	}
	if out.Channel != "customer" {
		t.Fatalf("expected channel customer, got %q", out.Channel)
	}
	if out.ObjectType != "registration" {
		t.Fatalf("expected object_type registration, got %q", out.ObjectType)
	}
	if out.ObjectID != "" {
		t.Fatalf("expected empty object_id, got %q", out.ObjectID)
	}
	if !out.OccurredAt.Equal(now) {
		t.Fatalf("expected occurred_at %v, got %v", now, out.OccurredAt)
	}
}

func TestNormalizeCustomOptions(t *testing.T) {
	t.Parallel()

	event := connect.ActivityEvent{
		EventType: connect.ActivityEventGuardDenied,
		Metadata:  map[string]any{"path": "/mktgreports"},
	}

	out := activitymap.Normalize(event,
		activitymap.WithActorFallback("guest"),
		activitymap.WithObjectIDResolver(func(e connect.ActivityEvent) string {
			return e.Metadata["path"].(string)
		}),
	)

	if out.ActorID != "guest" {
		t.Fatalf("expected actor guest, got %q", out.ActorID)
	}
	if out.ObjectID != "/mktgreports" {
		t.Fatalf("expected object_id /mktgreports, got %q", out.ObjectID)
	}
	if out.Channel != "staff" {
		t.Fatalf("expected channel staff, got %q", out.Channel)
	}
}

func TestNormalizeDoesNotMutateEventMetadata(t *testing.T) {
	t.Parallel()

	meta := map[string]any{"mobile": "98XXXXXX10"}
	activitymap.Normalize(connect.ActivityEvent{
		EventType: connect.ActivityEventOTPVerified,
		Subject:   "9876543210",
		Metadata:  meta,
	})

	if _, ok := meta[activitymap.MetadataKeyCategory]; ok {
		t.Fatalf("expected event metadata to remain untouched, got %#v", meta)
	}
}
