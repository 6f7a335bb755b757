package connect

import (
	"time"

	"github.com/google/uuid"
)

// NotificationLifetime is how long a toast stays on screen
const NotificationLifetime = 5 * time.Second

type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
)

// Notification is a transient message shown to the visitor
type Notification struct {
	ID        string           `json:"id"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// NewNotification stamps message with an id and its expiry
func NewNotification(message string, kind NotificationType, now time.Time) Notification {
	if kind == "" {
		kind = NotificationError
	}
	return Notification{
		ID:        uuid.NewString(),
		Message:   message,
		Type:      kind,
		ExpiresAt: now.Add(NotificationLifetime),
	}
}

// Notify collects notifications for a single response
type Notify struct {
	now   func() time.Time
	items []Notification
}

func NewNotify(now func() time.Time) *Notify {
	if now == nil {
		now = time.Now
	}
	return &Notify{now: now}
}

func (n *Notify) Success(message string) {
	n.items = append(n.items, NewNotification(message, NotificationSuccess, n.now()))
}

func (n *Notify) Error(message string) {
	n.items = append(n.items, NewNotification(message, NotificationError, n.now()))
}

// Items returns the notifications still visible at now
func (n *Notify) Items() []Notification {
	now := n.now()
	out := make([]Notification, 0, len(n.items))
	for _, item := range n.items {
		if item.ExpiresAt.After(now) {
			out = append(out, item)
		}
	}
	return out
}
