package webhooks

import (
	"encoding/json"
	"strconv"
	"time"
)

// wireEvent is the canonical JSON shape of the event record transmitted to
// subscribers: id, type, timestamp (epoch-ms), data, and optional context.
type wireEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Data      any       `json:"data"`
	Context   any       `json:"context,omitempty"`
}

// canonicalPayload serializes the event record into the exact bytes used
// for both signing and transmission. Marshal errors fall back to an empty
// object rather than panicking a delivery goroutine.
func canonicalPayload(eventID string, et EventType, timestamp time.Time, data, eventContext any) []byte {
	body, err := json.Marshal(wireEvent{
		ID:        eventID,
		Type:      et,
		Timestamp: timestamp.UnixMilli(),
		Data:      data,
		Context:   eventContext,
	})
	if err != nil {
		return []byte(`{}`)
	}
	return body
}

// signedHeaders builds the delivery headers named in the webhook HTTP
// contract: Content-Type, X-Webhook-ID (the subscription id), X-Event-ID,
// X-Event-Type, X-Timestamp (epoch-ms, the time of this delivery attempt),
// and the HMAC-SHA256 signature over body.
func signedHeaders(secret, webhookID, eventID string, et EventType, body []byte) map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
		"X-Webhook-ID": webhookID,
		"X-Event-ID":   eventID,
		"X-Event-Type": string(et),
		"X-Timestamp":  strconv.FormatInt(time.Now().UnixMilli(), 10),
		"X-Signature":  Sign(secret, body),
	}
}
