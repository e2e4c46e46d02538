package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flowgrid/flowgrid/common/hash"
)

// Twitter event types.
const (
	TwitterEventDirectMessage = "direct_message"
	TwitterEventTweetCreate   = "tweet_create"
	TwitterEventFollow        = "follow"
)

// TwitterAdapter implements the Account Activity API webhook protocol:
// the CRC GET handshake and X-Twitter-Webhooks-Signature verification.
type TwitterAdapter struct{}

// Provider returns the adapter's provider name.
func (a *TwitterAdapter) Provider() string { return ProviderTwitter }

// VerifySignature checks X-Twitter-Webhooks-Signature: "sha256=" followed by
// a base64 HMAC of the body. Hex is accepted too since some proxies re-encode.
func (a *TwitterAdapter) VerifySignature(rawBody []byte, headers http.Header, secret string) bool {
	sig := headers.Get("X-Twitter-Webhooks-Signature")
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" {
		return false
	}
	if hash.VerifyHMACBase64(rawBody, secret, sig) {
		return true
	}
	return hash.VerifyHMACHex(rawBody, secret, sig)
}

// HandleChallenge answers the CRC token handshake with a signed response token.
func (a *TwitterAdapter) HandleChallenge(rawBody []byte, query url.Values, secret string) (*ChallengeResponse, bool) {
	token := query.Get("crc_token")
	if token == "" {
		return nil, false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token))
	response := "sha256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))

	body, _ := json.Marshal(map[string]string{"response_token": response})
	return &ChallengeResponse{
		Status:      http.StatusOK,
		ContentType: "application/json",
		Body:        string(body),
	}, true
}

type twitterEnvelope struct {
	ForUserID           string                   `json:"for_user_id"`
	DirectMessageEvents []map[string]interface{} `json:"direct_message_events"`
	TweetCreateEvents   []map[string]interface{} `json:"tweet_create_events"`
	FollowEvents        []map[string]interface{} `json:"follow_events"`
}

// Normalize maps Account Activity deliveries onto NormalizedEvent.
func (a *TwitterAdapter) Normalize(rawBody []byte, headers http.Header, clientID string) (*NormalizedEvent, error) {
	var env twitterEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return unknownEvent(ProviderTwitter, rawBody, clientID), nil
	}

	ev := &NormalizedEvent{
		EventType:  EventTypeUnknown,
		CustomerID: env.ForUserID,
		Timestamp:  time.Now().UTC(),
		Provider:   ProviderTwitter,
		Raw:        json.RawMessage(rawBody),
		Metadata:   map[string]interface{}{"for_user_id": env.ForUserID},
	}

	switch {
	case len(env.DirectMessageEvents) > 0:
		ev.EventType = TwitterEventDirectMessage
		ev.Data = env.DirectMessageEvents[0]
	case len(env.TweetCreateEvents) > 0:
		ev.EventType = TwitterEventTweetCreate
		ev.Data = env.TweetCreateEvents[0]
	case len(env.FollowEvents) > 0:
		ev.EventType = TwitterEventFollow
		ev.Data = env.FollowEvents[0]
	}

	if ev.CustomerID == "" {
		ev.CustomerID = clientID
	}
	return ev, nil
}
