package domain

type SubscriptionState string

const (
	StateIdle            SubscriptionState = "IDLE"
	StateConnecting      SubscriptionState = "CONNECTING"
	StateSubscribed      SubscriptionState = "SUBSCRIBED"
	StateRetrying        SubscriptionState = "RETRYING"
	StatePollingFallback SubscriptionState = "POLLING_FALLBACK"
)

// SubscriptionStatus is what the presentation layer observes about a handle.
// Err is only set when a terminal error stopped the handle.
type SubscriptionStatus struct {
	HandleID   string
	FilterKey  string
	State      SubscriptionState
	RetryCount int
	Degraded   bool
	Err        error
}

// TransportStatus is reported by the remote store's subscription primitive.
type TransportStatus string

const (
	TransportSubscribed TransportStatus = "SUBSCRIBED"
	TransportError      TransportStatus = "CHANNEL_ERROR"
	TransportTimedOut   TransportStatus = "TIMED_OUT"
	TransportClosed     TransportStatus = "CLOSED"
)

// SessionReport is a point-in-time summary of a running session.
type SessionReport struct {
	UserID       string
	ChannelID    ChannelID
	Channels     int
	Messages     int
	HasMore      bool
	ActiveThread MessageID
	Directory    SubscriptionStatus
	Feed         SubscriptionStatus
}
