// Package activitymap flattens portal activity events into records that log
// pipelines and audit stores can index without knowing the connect types.
package activitymap

import (
	"strings"
	"time"

	connect "github.com/goliatone/go-connect"
)

const (
	// MetadataKeyCategory stores the first segment of the event type
	MetadataKeyCategory = "category"
)

const (
	channelCustomer = "customer"
	channelStaff    = "staff"
	defaultActorID  = "anonymous"
)

// Normalized is a transport agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	actorFallback    string
	objectIDResolver func(connect.ActivityEvent) string
	now              func() time.Time
}

// Normalize converts a connect.ActivityEvent into the normalized shape.
// Registration and OTP events land on the customer channel, staff and guard
// events on the staff channel.
func Normalize(event connect.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		actorFallback: defaultActorID,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	category := categoryOf(event.EventType)
	channel := channelFor(category)

	actorID := firstNonEmpty(strings.TrimSpace(event.Subject), options.actorFallback)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now()
	}

	metadata := cloneMap(event.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	if _, exists := metadata[MetadataKeyCategory]; !exists {
		metadata[MetadataKeyCategory] = category
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: objectTypeFor(channel),
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    channel,
		Metadata:   metadata,
		OccurredAt: occurredAt.UTC(),
	}
}

// WithObjectIDResolver overrides object id extraction from the event.
func WithObjectIDResolver(resolver func(connect.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor id used when the event has no subject.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if id := strings.TrimSpace(actorID); id != "" {
			opts.actorFallback = id
		}
	}
}

// WithClock sets the clock used for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

func categoryOf(eventType connect.ActivityEventType) string {
	verb := string(eventType)
	if i := strings.IndexByte(verb, '.'); i > 0 {
		return verb[:i]
	}
	return verb
}

func channelFor(category string) string {
	switch category {
	case "staff", "guard":
		return channelStaff
	}
	return channelCustomer
}

func objectTypeFor(channel string) string {
	if channel == channelStaff {
		return "staff_session"
	}
	return "registration"
}

// resolveObjectID prefers the QR reference or session id carried in metadata
func resolveObjectID(event connect.ActivityEvent, resolver func(connect.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	for _, key := range []string{"session_id", "reference_code"} {
		if v, ok := event.Metadata[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(event.Subject)
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
