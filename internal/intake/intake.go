// Package intake evaluates telephony webhook payloads: did a call end, should
// it be counted, and for which phone.
//
// Payload shapes vary across providers and event versions, so lookups are
// path-based over generic JSON: every path is tried under the "body" envelope
// first, then bare. Absent fields are not errors; they just make the event
// uncountable.
package intake

import (
	"encoding/json"
	"fmt"
	"strings"
)

// endedMarkers are the status substrings that identify a finished call.
var endedMarkers = []string{"disconnected", "ended", "completed"}

// Normalizer canonicalizes a raw phone value; ok=false means "not a phone".
type Normalizer func(raw string) (key string, ok bool)

// Config configures an Evaluator.
type Config struct {
	// CountOutbound and CountInbound gate which call directions are counted.
	CountOutbound bool
	CountInbound  bool
	// Normalize canonicalizes extracted phone numbers.
	Normalize Normalizer
}

// Result is the outcome of evaluating one webhook payload.
type Result struct {
	// Countable is true when the event is a counted call end with a phone.
	Countable bool
	// Phone is the normalized phone key (set only when Countable).
	Phone string
	// Fingerprint identifies the event for dedupe. May be empty.
	Fingerprint string
	// Reason explains a non-countable outcome, for logs.
	Reason string
}

// Evaluator turns webhook payloads into counting decisions.
type Evaluator struct {
	cfg Config
}

// New creates an Evaluator.
func New(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate parses the payload and applies the counting rules. A malformed
// payload is not an error, just not countable.
func (e *Evaluator) Evaluate(body []byte) Result {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return Result{Reason: "payload is not a JSON object"}
	}

	status := firstString(root,
		"body.party.status.code", "body.status.code",
		"party.status.code", "status.code")
	if !isEnded(status) {
		return Result{Reason: fmt.Sprintf("status %q is not a call end", status)}
	}

	dir := strings.ToLower(firstString(root,
		"body.party.direction", "body.direction",
		"party.direction", "direction"))
	switch {
	case strings.HasPrefix(dir, "out") && !e.cfg.CountOutbound:
		return Result{Reason: "outbound counting disabled"}
	case strings.HasPrefix(dir, "in") && !e.cfg.CountInbound:
		return Result{Reason: "inbound counting disabled"}
	}

	phone, ok := e.extractPhone(root)
	if !ok {
		return Result{Reason: "no usable phone number in payload"}
	}

	return Result{
		Countable:   true,
		Phone:       phone,
		Fingerprint: fingerprint(root, status),
	}
}

// extractPhone tries the known phone locations in order; the first value the
// normalizer accepts wins.
func (e *Evaluator) extractPhone(root map[string]any) (string, bool) {
	for _, path := range []string{
		"body.party.to.phoneNumber", "body.party.from.phoneNumber",
		"body.to.phoneNumber", "body.from.phoneNumber",
		"party.to.phoneNumber", "party.from.phoneNumber",
		"to.phoneNumber", "from.phoneNumber",
	} {
		if raw := stringAt(root, path); raw != "" {
			if phone, ok := e.cfg.Normalize(raw); ok {
				return phone, true
			}
		}
	}
	for _, base := range []string{"body.parties", "parties"} {
		list, ok := valueAt(root, base).([]any)
		if !ok {
			continue
		}
		for _, item := range list {
			party, ok := item.(map[string]any)
			if !ok {
				continue
			}
			for _, path := range []string{"to.phoneNumber", "from.phoneNumber"} {
				if raw := stringAt(party, path); raw != "" {
					if phone, ok := e.cfg.Normalize(raw); ok {
						return phone, true
					}
				}
			}
		}
	}
	return "", false
}

// fingerprint composes session id, party id, status code and timestamp. Any
// missing part stays empty; the dedupe cache ignores fully empty fingerprints.
func fingerprint(root map[string]any, status string) string {
	session := firstString(root,
		"body.telephonySessionId", "telephonySessionId", "body.sessionId", "sessionId")
	partyID := firstString(root,
		"body.party.id", "party.id", "body.partyId", "partyId")
	ts := firstString(root, "timestamp", "body.eventTime", "eventTime")
	if session == "" && partyID == "" && ts == "" {
		return ""
	}
	return session + "|" + partyID + "|" + status + "|" + ts
}

func isEnded(status string) bool {
	s := strings.ToLower(status)
	for _, m := range endedMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// valueAt walks a dotted path through nested JSON objects.
func valueAt(root map[string]any, path string) any {
	var cur any = root
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func stringAt(root map[string]any, path string) string {
	s, _ := valueAt(root, path).(string)
	return strings.TrimSpace(s)
}

// firstString returns the first non-empty string among the given paths.
func firstString(root map[string]any, paths ...string) string {
	for _, p := range paths {
		if s := stringAt(root, p); s != "" {
			return s
		}
	}
	return ""
}
