package domain

import "strings"

// Intent is the category of follow-up action implied by a conversation turn.
// Each intent maps to one notification destination.
type Intent string

const (
	IntentWrap           Intent = "wrap"
	IntentEscalation     Intent = "escalation"
	IntentProductRequest Intent = "product_request"
	IntentLogistics      Intent = "logistics"
)

// KnownIntents lists every intent the gateway can deliver, in display order.
var KnownIntents = []Intent{IntentWrap, IntentEscalation, IntentProductRequest, IntentLogistics}

// ParseIntent maps a raw, case-insensitive name onto a known intent.
func ParseIntent(raw string) (Intent, bool) {
	candidate := Intent(strings.ToLower(strings.TrimSpace(raw)))
	if !candidate.Valid() {
		return "", false
	}
	return candidate, true
}

// Valid reports whether the intent is one of KnownIntents.
func (i Intent) Valid() bool {
	for _, known := range KnownIntents {
		if i == known {
			return true
		}
	}
	return false
}

func (i Intent) String() string {
	return string(i)
}
