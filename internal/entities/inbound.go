package entities

import "time"

// InboundEvent is a platform webhook delivery normalized to the fields the
// engine needs. Exactly one of Text or PostbackPayload is usually set.
type InboundEvent struct {
	Platform          Platform
	PlatformAccountID string
	SenderID          string
	RecipientID       string
	TimestampSeconds  int64
	Text              string
	PostbackPayload   string
	PostbackTitle     string
	MessageID         string
}

// IsOptionSelection reports whether the event carries an option callback.
func (e InboundEvent) IsOptionSelection() bool {
	_, ok := ParseOptionPayload(e.PostbackPayload)
	return ok
}

// Content is what gets recorded as the user turn.
func (e InboundEvent) Content() string {
	if e.Text != "" {
		return e.Text
	}
	if e.PostbackTitle != "" {
		return e.PostbackTitle
	}
	return e.PostbackPayload
}

// SentAt converts the platform timestamp. A zero timestamp means unknown.
func (e InboundEvent) SentAt() time.Time {
	if e.TimestampSeconds <= 0 {
		return time.Time{}
	}
	return time.Unix(e.TimestampSeconds, 0)
}

// IsStale reports whether the event is older than maxAge at receipt time.
// Events without a timestamp are never stale.
func (e InboundEvent) IsStale(now time.Time, maxAge time.Duration) bool {
	sent := e.SentAt()
	if sent.IsZero() {
		return false
	}
	return now.Sub(sent) > maxAge
}
