// Package webhook holds provider adapters for inbound webhooks. Adapters are
// purely functional: signature verification, challenge handshakes, and
// payload normalization. Routing a normalized event to a trigger node is the
// ingress layer's job.
package webhook

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// Provider names
const (
	ProviderMeta    = "meta"
	ProviderSlack   = "slack"
	ProviderTwitter = "twitter"
)

// EventTypeUnknown marks payloads the adapter does not recognize; the raw
// payload is preserved so nothing is lost.
const EventTypeUnknown = "unknown"

// NormalizedEvent is the provider-independent shape of an inbound webhook.
type NormalizedEvent struct {
	EventType  string                 `json:"event_type"`
	CustomerID string                 `json:"customer_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Provider   string                 `json:"provider"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Raw        json.RawMessage        `json:"raw"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ChallengeResponse is the reply to a provider's verification handshake.
type ChallengeResponse struct {
	Status      int
	ContentType string
	Body        string
}

// Adapter is one provider's webhook protocol.
type Adapter interface {
	// Provider returns the adapter's provider name.
	Provider() string

	// VerifySignature checks the request signature over the raw body in
	// constant time. Time-bound schemes also reject stale requests.
	VerifySignature(rawBody []byte, headers http.Header, secret string) bool

	// HandleChallenge inspects the request for the provider's one-shot
	// verification handshake. ok is false for ordinary event deliveries.
	HandleChallenge(rawBody []byte, query url.Values, secret string) (resp *ChallengeResponse, ok bool)

	// Normalize converts a raw delivery into a NormalizedEvent. Unrecognized
	// payloads come back with EventType "unknown" and the raw body preserved.
	Normalize(rawBody []byte, headers http.Header, clientID string) (*NormalizedEvent, error)
}

// Registry maps provider path segments to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// ForProvider returns the adapter registered for the provider name.
func (r *Registry) ForProvider(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

func unknownEvent(provider string, rawBody []byte, clientID string) *NormalizedEvent {
	return &NormalizedEvent{
		EventType:  EventTypeUnknown,
		CustomerID: clientID,
		Timestamp:  time.Now().UTC(),
		Provider:   provider,
		Raw:        json.RawMessage(rawBody),
	}
}
