package normalize

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/harunnryd/freestream/pkg/alert"
)

var injectAliases = map[string]alert.EventType{
	"twitch_bits":           alert.EventBits,
	"twitch_sub":            alert.EventSubNew,
	"twitch_gift":           alert.EventSubGift,
	"twitch_channel_points": alert.EventChannelPoints,
	"youtube_superchat":     alert.EventSuperchat,
	"youtube_supersticker":  alert.EventSupersticker,
	"youtube_membership":    alert.EventMembershipNew,
}

var injectDefaults = map[alert.EventType]map[string]any{
	alert.EventBits:                {"amount": 100, "message": "Test cheer message!"},
	alert.EventSubNew:              {"tier": "1", "months": 1},
	alert.EventSubGift:             {"tier": "1", "count": 1, "recipient": "LuckyViewer"},
	alert.EventChannelPoints:       {"reward_name": "Test Reward", "user_input": "Test input"},
	alert.EventSuperchat:           {"amount": 5.0, "currency": "$", "message": "Test super chat!"},
	alert.EventSupersticker:        {"amount": 2.0, "currency": "$"},
	alert.EventMembershipNew:       {"level": "Member", "months": 1},
	alert.EventMembershipRecurring: {"level": "Member", "months": 6},
}

// Inject builds a synthetic event of the given kind for testing the
// pipeline end to end. kind is an event type or one of the legacy
// platform-prefixed names; fields override the defaults.
func Inject(kind string, fields map[string]any) (Event, error) {
	key := strings.ToLower(strings.TrimSpace(kind))
	et, ok := injectAliases[key]
	if !ok {
		et, ok = alert.ParseEventType(key)
	}
	if !ok {
		return nil, fmt.Errorf("inject: unknown event type %q", kind)
	}

	in := map[string]any{
		"id":       "test-" + alert.NewID(),
		"username": "TestUser",
	}
	for k, v := range injectDefaults[et] {
		in[k] = v
	}
	for k, v := range fields {
		if k == "type" {
			continue
		}
		in[k] = v
	}

	out := newEvent(et)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(in); err != nil {
		return nil, fmt.Errorf("inject %s: %w", et, err)
	}
	return deref(et, out), nil
}
