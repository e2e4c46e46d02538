package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/flowgrid/flowgrid/common/hash"
)

// Slack event types.
const (
	SlackEventMessage     = "message"
	SlackEventAppMention  = "app_mention"
	SlackEventInteraction = "interaction"
)

// SlackAdapter implements Slack's v0 signing scheme and the url_verification
// handshake.
type SlackAdapter struct {
	// SkewWindow bounds how old a signed request may be. Zero means 5 minutes.
	SkewWindow time.Duration

	// now is swapped in tests.
	now func() time.Time
}

// Provider returns the adapter's provider name.
func (a *SlackAdapter) Provider() string { return ProviderSlack }

func (a *SlackAdapter) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

func (a *SlackAdapter) window() time.Duration {
	if a.SkewWindow > 0 {
		return a.SkewWindow
	}
	return 5 * time.Minute
}

// VerifySignature checks X-Slack-Signature = "v0=" + hex HMAC of
// "v0:<timestamp>:<body>" and rejects requests outside the skew window.
func (a *SlackAdapter) VerifySignature(rawBody []byte, headers http.Header, secret string) bool {
	ts := headers.Get("X-Slack-Request-Timestamp")
	sig := headers.Get("X-Slack-Signature")
	if ts == "" || sig == "" {
		return false
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	age := a.clock().Sub(time.Unix(sec, 0))
	if age > a.window() || age < -a.window() {
		return false
	}

	base := fmt.Sprintf("v0:%s:%s", ts, rawBody)
	expected := "v0=" + hash.SignHMAC([]byte(base), secret)
	return hash.ConstantTimeEqual(expected, sig)
}

// HandleChallenge answers Slack's url_verification event.
func (a *SlackAdapter) HandleChallenge(rawBody []byte, query url.Values, secret string) (*ChallengeResponse, bool) {
	var probe struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(rawBody, &probe); err != nil || probe.Type != "url_verification" {
		return nil, false
	}
	body, _ := json.Marshal(map[string]string{"challenge": probe.Challenge})
	return &ChallengeResponse{
		Status:      http.StatusOK,
		ContentType: "application/json",
		Body:        string(body),
	}, true
}

type slackEnvelope struct {
	Type  string `json:"type"`
	Event struct {
		Type    string `json:"type"`
		User    string `json:"user"`
		Channel string `json:"channel"`
		Text    string `json:"text"`
		TS      string `json:"ts"`
	} `json:"event"`
	TeamID string `json:"team_id"`
}

// Normalize maps event_callback deliveries onto NormalizedEvent.
func (a *SlackAdapter) Normalize(rawBody []byte, headers http.Header, clientID string) (*NormalizedEvent, error) {
	var env slackEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil || env.Type != "event_callback" {
		return unknownEvent(ProviderSlack, rawBody, clientID), nil
	}

	ev := &NormalizedEvent{
		EventType:  EventTypeUnknown,
		CustomerID: env.Event.User,
		Timestamp:  time.Now().UTC(),
		Provider:   ProviderSlack,
		Raw:        json.RawMessage(rawBody),
		Metadata: map[string]interface{}{
			"team_id": env.TeamID,
			"channel": env.Event.Channel,
		},
	}

	switch env.Event.Type {
	case "message":
		ev.EventType = SlackEventMessage
	case "app_mention":
		ev.EventType = SlackEventAppMention
	}

	if env.Event.TS != "" {
		if sec, err := strconv.ParseFloat(env.Event.TS, 64); err == nil {
			ev.Timestamp = time.Unix(int64(sec), 0).UTC()
		}
	}

	ev.Data = map[string]interface{}{
		"text":    env.Event.Text,
		"user":    env.Event.User,
		"channel": env.Event.Channel,
	}
	if ev.CustomerID == "" {
		ev.CustomerID = clientID
	}
	return ev, nil
}
