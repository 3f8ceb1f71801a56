package normalize

import "regexp"

// DefaultTemplates returns the built-in alert wording keyed by template name.
func DefaultTemplates() map[string]string {
	return map[string]string{
		"twitch_bits":                    "{username} cheered {amount} bits: {message}",
		"twitch_bits_no_message":         "{username} cheered {amount} bits!",
		"twitch_sub_new":                 "{username} just subscribed at tier {tier}!",
		"twitch_sub_resub":               "{username} resubscribed for {months} months at tier {tier}! {message}",
		"twitch_sub_resub_no_message":    "{username} resubscribed for {months} months at tier {tier}!",
		"twitch_gift_single":             "{username} gifted a tier {tier} sub to {recipient}!",
		"twitch_gift_multi":              "{username} gifted {count} tier {tier} subs to the community!",
		"twitch_channel_points":          "{username} redeemed {reward_name}: {user_input}",
		"twitch_channel_points_no_input": "{username} redeemed {reward_name}!",
		"youtube_superchat":              "{username} sent {currency}{amount}: {message}",
		"youtube_superchat_no_message":   "{username} sent a {currency}{amount} Super Chat!",
		"youtube_supersticker":           "{username} sent a Super Sticker worth {currency}{amount}!",
		"youtube_membership_new":         "{username} just became a {level} member!",
		"youtube_membership_milestone":   "{username} has been a {level} member for {months} months!",
	}
}

// MergeTemplates overlays custom wording on the defaults.
func MergeTemplates(custom map[string]string) map[string]string {
	out := DefaultTemplates()
	for k, v := range custom {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render substitutes {name} placeholders. Names without a value render empty.
func Render(tmpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		return vars[m[1:len(m)-1]]
	})
}
