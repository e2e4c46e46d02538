package webhook

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/flowgrid/flowgrid/common/hash"
)

// Meta-family event types (WhatsApp Business, Instagram messaging).
const (
	MetaEventMessage  = "message"
	MetaEventStatus   = "status"
	MetaEventReaction = "reaction"
)

// MetaAdapter covers the Meta webhook family: WhatsApp and Instagram share
// the hub.challenge handshake and the X-Hub-Signature-256 scheme.
type MetaAdapter struct {
	// VerifyToken is matched against hub.verify_token during the handshake.
	VerifyToken string
}

// Provider returns the adapter's provider name.
func (a *MetaAdapter) Provider() string { return ProviderMeta }

// VerifySignature checks X-Hub-Signature-256: "sha256=" + hex HMAC of the body.
func (a *MetaAdapter) VerifySignature(rawBody []byte, headers http.Header, secret string) bool {
	sig := headers.Get("X-Hub-Signature-256")
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" {
		return false
	}
	return hash.VerifyHMACHex(rawBody, secret, sig)
}

// HandleChallenge answers the hub.challenge subscription handshake.
func (a *MetaAdapter) HandleChallenge(rawBody []byte, query url.Values, secret string) (*ChallengeResponse, bool) {
	if query.Get("hub.mode") != "subscribe" {
		return nil, false
	}
	if a.VerifyToken != "" && query.Get("hub.verify_token") != a.VerifyToken {
		return &ChallengeResponse{Status: http.StatusForbidden, ContentType: "text/plain", Body: "verify token mismatch"}, true
	}
	return &ChallengeResponse{
		Status:      http.StatusOK,
		ContentType: "text/plain",
		Body:        query.Get("hub.challenge"),
	}, true
}

type metaEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []map[string]interface{} `json:"messages"`
				Statuses []map[string]interface{} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Timestamp int64                  `json:"timestamp"`
			Message   map[string]interface{} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// Normalize maps WhatsApp change notifications and Instagram messaging
// entries onto NormalizedEvent.
func (a *MetaAdapter) Normalize(rawBody []byte, headers http.Header, clientID string) (*NormalizedEvent, error) {
	var env metaEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return unknownEvent(ProviderMeta, rawBody, clientID), nil
	}

	ev := &NormalizedEvent{
		EventType: EventTypeUnknown,
		Timestamp: time.Now().UTC(),
		Provider:  ProviderMeta,
		Raw:       json.RawMessage(rawBody),
		Metadata:  map[string]interface{}{"object": env.Object},
	}

	switch env.Object {
	case "whatsapp_business_account":
		for _, entry := range env.Entry {
			for _, change := range entry.Changes {
				if len(change.Value.Messages) > 0 {
					msg := change.Value.Messages[0]
					ev.EventType = MetaEventMessage
					if t, ok := msg["type"].(string); ok {
						ev.Metadata["message_type"] = t
					}
					if from, ok := msg["from"].(string); ok {
						ev.CustomerID = from
					}
					if ts, ok := msg["timestamp"].(string); ok {
						if sec, err := strconv.ParseInt(ts, 10, 64); err == nil {
							ev.Timestamp = time.Unix(sec, 0).UTC()
						}
					}
					ev.Data = msg
					return ev, nil
				}
				if len(change.Value.Statuses) > 0 {
					st := change.Value.Statuses[0]
					ev.EventType = MetaEventStatus
					if rid, ok := st["recipient_id"].(string); ok {
						ev.CustomerID = rid
					}
					ev.Data = st
					return ev, nil
				}
			}
		}
	case "instagram":
		for _, entry := range env.Entry {
			for _, m := range entry.Messaging {
				ev.EventType = MetaEventMessage
				ev.CustomerID = m.Sender.ID
				if m.Timestamp > 0 {
					ev.Timestamp = time.UnixMilli(m.Timestamp).UTC()
				}
				ev.Data = m.Message
				return ev, nil
			}
		}
	}

	if ev.CustomerID == "" {
		ev.CustomerID = clientID
	}
	return ev, nil
}
