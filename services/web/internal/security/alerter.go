// Package security counts suspicious account activity per client.
package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Event names observed by the web server.
const (
	EventLogin  = "login"
	EventSignup = "signup"

	OutcomeFail        = "fail"
	OutcomeRateLimited = "rate_limited"
)

const defaultLoginFailThreshold = 10

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Triggered bool
	// First is true only on the observation that crossed the threshold.
	First     bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// Alerter aggregates failed account events per IP in Redis and reports when a
// threshold is reached inside a window.
type Alerter struct {
	client             redis.Scripter
	prefix             string
	loginFailThreshold int64
}

// NewAlerter builds an alerter on a shared Redis client. A nil client
// disables alerting; loginFailThreshold <= 0 uses the default of 10.
func NewAlerter(client redis.Scripter, prefix string, loginFailThreshold int) *Alerter {
	if client == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bookreview:alerts"
	}
	threshold := int64(loginFailThreshold)
	if threshold <= 0 {
		threshold = defaultLoginFailThreshold
	}
	return &Alerter{client: client, prefix: prefix, loginFailThreshold: threshold}
}

// Observe records an event and returns whether its threshold is reached.
func (a *Alerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	result := AlertResult{}
	if a == nil {
		return result, nil
	}
	threshold, window, ok := a.rule(event, outcome)
	if !ok {
		return result, nil
	}
	slot := time.Now().UTC().UnixMilli() / window.Milliseconds()
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return result, err
	}
	result.Count = count
	result.Threshold = threshold
	result.Window = window
	result.Triggered = count >= threshold
	result.First = count == threshold
	return result, nil
}

func (a *Alerter) rule(event, outcome string) (threshold int64, window time.Duration, ok bool) {
	switch strings.TrimSpace(outcome) {
	case OutcomeRateLimited:
		return 20, time.Minute, true
	case OutcomeFail:
	default:
		return 0, 0, false
	}
	switch strings.TrimSpace(event) {
	case EventLogin:
		return a.loginFailThreshold, 5 * time.Minute, true
	case EventSignup:
		return 20, 5 * time.Minute, true
	default:
		return 0, 0, false
	}
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return strings.NewReplacer(":", "_", "|", "_", " ", "_").Replace(in)
}
