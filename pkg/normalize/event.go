package normalize

import (
	"strconv"

	"github.com/harunnryd/freestream/pkg/alert"
)

// Event is one platform event. The set of implementations is closed; each
// variant carries its own required-field contract as validate tags.
type Event interface {
	Type() alert.EventType
	EventID() string
	// render picks the template and its variables. withMessage false
	// selects the no-message wording even when a message is attached.
	render(withMessage bool) rendering
}

// rendering is what a variant contributes to the template step.
type rendering struct {
	template string
	vars     map[string]string
	// free lists the vars holding user-supplied text.
	free []string
}

// Base carries the fields every event shares.
type Base struct {
	ID       string `json:"id" mapstructure:"id" validate:"required"`
	Username string `json:"username" mapstructure:"username" validate:"required"`
}

func (b Base) EventID() string { return b.ID }

// Cheer is a Twitch bits cheer.
type Cheer struct {
	Base    `mapstructure:",squash"`
	Amount  int    `json:"amount" mapstructure:"amount" validate:"gt=0"`
	Message string `json:"message" mapstructure:"message"`
}

func (Cheer) Type() alert.EventType { return alert.EventBits }

func (e Cheer) render(withMessage bool) rendering {
	r := rendering{
		template: "twitch_bits",
		vars: map[string]string{
			"username": e.Username,
			"amount":   strconv.Itoa(e.Amount),
			"message":  e.Message,
		},
		free: []string{"message"},
	}
	if !withMessage || blank(e.Message) {
		r.template = "twitch_bits_no_message"
	}
	return r
}

// Subscription is a new Twitch subscription or a resubscription.
type Subscription struct {
	Base    `mapstructure:",squash"`
	Tier    string `json:"tier" mapstructure:"tier" validate:"required"`
	Months  int    `json:"months" mapstructure:"months" validate:"gte=0"`
	Resub   bool   `json:"is_resub" mapstructure:"is_resub"`
	Message string `json:"message" mapstructure:"message"`
}

func (Subscription) Type() alert.EventType { return alert.EventSubNew }

func (e Subscription) render(withMessage bool) rendering {
	r := rendering{
		template: "twitch_sub_new",
		vars: map[string]string{
			"username": e.Username,
			"tier":     e.Tier,
			"months":   strconv.Itoa(e.Months),
			"message":  e.Message,
		},
		free: []string{"message"},
	}
	if e.Resub {
		r.template = "twitch_sub_resub"
		if !withMessage || blank(e.Message) {
			r.template = "twitch_sub_resub_no_message"
		}
	}
	return r
}

// GiftSubscription is one or more gifted Twitch subscriptions.
type GiftSubscription struct {
	Base      `mapstructure:",squash"`
	Tier      string `json:"tier" mapstructure:"tier" validate:"required"`
	Count     int    `json:"count" mapstructure:"count" validate:"gt=0"`
	Recipient string `json:"recipient" mapstructure:"recipient"`
}

func (GiftSubscription) Type() alert.EventType { return alert.EventSubGift }

func (e GiftSubscription) render(bool) rendering {
	r := rendering{
		template: "twitch_gift_multi",
		vars: map[string]string{
			"username":  e.Username,
			"tier":      e.Tier,
			"count":     strconv.Itoa(e.Count),
			"recipient": e.Recipient,
		},
	}
	if e.Count == 1 && !blank(e.Recipient) {
		r.template = "twitch_gift_single"
	}
	return r
}

// Redemption is a Twitch channel points reward redemption.
type Redemption struct {
	Base       `mapstructure:",squash"`
	RewardID   string `json:"reward_id" mapstructure:"reward_id"`
	RewardName string `json:"reward_name" mapstructure:"reward_name" validate:"required"`
	UserInput  string `json:"user_input" mapstructure:"user_input"`
	Cost       int    `json:"cost" mapstructure:"cost" validate:"gte=0"`
}

func (Redemption) Type() alert.EventType { return alert.EventChannelPoints }

func (e Redemption) render(bool) rendering {
	r := rendering{
		template: "twitch_channel_points",
		vars: map[string]string{
			"username":    e.Username,
			"reward_name": e.RewardName,
			"user_input":  e.UserInput,
			"cost":        strconv.Itoa(e.Cost),
		},
		free: []string{"user_input"},
	}
	if blank(e.UserInput) {
		r.template = "twitch_channel_points_no_input"
	}
	return r
}

// SuperChat is a paid YouTube chat message.
type SuperChat struct {
	Base     `mapstructure:",squash"`
	Amount   float64 `json:"amount" mapstructure:"amount" validate:"gt=0"`
	Currency string  `json:"currency" mapstructure:"currency"`
	Message  string  `json:"message" mapstructure:"message"`
}

func (SuperChat) Type() alert.EventType { return alert.EventSuperchat }

func (e SuperChat) render(withMessage bool) rendering {
	r := rendering{
		template: "youtube_superchat",
		vars: map[string]string{
			"username": e.Username,
			"amount":   formatAmount(e.Amount),
			"currency": e.Currency,
			"message":  e.Message,
		},
		free: []string{"message"},
	}
	if !withMessage || blank(e.Message) {
		r.template = "youtube_superchat_no_message"
	}
	return r
}

// SuperSticker is a paid YouTube sticker.
type SuperSticker struct {
	Base      `mapstructure:",squash"`
	Amount    float64 `json:"amount" mapstructure:"amount" validate:"gt=0"`
	Currency  string  `json:"currency" mapstructure:"currency"`
	StickerID string  `json:"sticker_id" mapstructure:"sticker_id"`
}

func (SuperSticker) Type() alert.EventType { return alert.EventSupersticker }

func (e SuperSticker) render(bool) rendering {
	return rendering{
		template: "youtube_supersticker",
		vars: map[string]string{
			"username": e.Username,
			"amount":   formatAmount(e.Amount),
			"currency": e.Currency,
		},
	}
}

// Membership is a new YouTube membership or a milestone of an existing one.
type Membership struct {
	Base      `mapstructure:",squash"`
	Level     string `json:"level" mapstructure:"level"`
	Months    int    `json:"months" mapstructure:"months" validate:"gte=0"`
	Milestone bool   `json:"is_milestone" mapstructure:"is_milestone"`
}

func (e Membership) Type() alert.EventType {
	if e.Milestone {
		return alert.EventMembershipRecurring
	}
	return alert.EventMembershipNew
}

func (e Membership) render(bool) rendering {
	level := e.Level
	if blank(level) {
		level = "member"
	}
	r := rendering{
		template: "youtube_membership_new",
		vars: map[string]string{
			"username": e.Username,
			"level":    level,
			"months":   strconv.Itoa(e.Months),
		},
	}
	if e.Milestone {
		r.template = "youtube_membership_milestone"
	}
	return r
}

// metadata returns the values worth keeping on the job for the overlay.
func metadata(ev Event) map[string]string {
	vars := ev.render(true).vars
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		if k == "message" || k == "user_input" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
