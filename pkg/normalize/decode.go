package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/harunnryd/freestream/pkg/alert"
)

// Envelope is the wire form of an event: {"type": "...", "event": {...}}.
type Envelope struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event"`
}

// Decode parses an envelope into its typed variant. Field contracts are
// checked later by the normalizer, so a variant with missing fields decodes
// fine here.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	et, ok := alert.ParseEventType(env.Type)
	if !ok {
		return nil, fmt.Errorf("decode event: unknown type %q", env.Type)
	}
	if len(env.Event) == 0 {
		return nil, fmt.Errorf("decode event %s: missing body", et)
	}
	ev := newEvent(et)
	if err := json.Unmarshal(env.Event, ev); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", et, err)
	}
	return deref(et, ev), nil
}

// newEvent returns a pointer to the zero variant for et.
func newEvent(et alert.EventType) any {
	switch et {
	case alert.EventBits:
		return &Cheer{}
	case alert.EventSubNew:
		return &Subscription{}
	case alert.EventSubGift:
		return &GiftSubscription{}
	case alert.EventChannelPoints:
		return &Redemption{}
	case alert.EventSuperchat:
		return &SuperChat{}
	case alert.EventSupersticker:
		return &SuperSticker{}
	default:
		return &Membership{}
	}
}

func deref(et alert.EventType, v any) Event {
	switch ev := v.(type) {
	case *Cheer:
		return *ev
	case *Subscription:
		return *ev
	case *GiftSubscription:
		return *ev
	case *Redemption:
		return *ev
	case *SuperChat:
		return *ev
	case *SuperSticker:
		return *ev
	case *Membership:
		if et == alert.EventMembershipRecurring {
			ev.Milestone = true
		}
		return *ev
	}
	return nil
}
