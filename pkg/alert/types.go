package alert

import "strings"

// Platform identifies the streaming platform an event originated from.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
)

// EventType is the closed set of monetization events that become alerts.
type EventType string

const (
	EventBits                EventType = "bits"
	EventChannelPoints       EventType = "channel_points"
	EventSubNew              EventType = "sub_new"
	EventSubGift             EventType = "sub_gift"
	EventMembershipNew       EventType = "membership_new"
	EventMembershipRecurring EventType = "membership_recurring"
	EventSuperchat           EventType = "superchat"
	EventSupersticker        EventType = "supersticker"
)

var eventPlatforms = map[EventType]Platform{
	EventBits:                PlatformTwitch,
	EventChannelPoints:       PlatformTwitch,
	EventSubNew:              PlatformTwitch,
	EventSubGift:             PlatformTwitch,
	EventMembershipNew:       PlatformYouTube,
	EventMembershipRecurring: PlatformYouTube,
	EventSuperchat:           PlatformYouTube,
	EventSupersticker:        PlatformYouTube,
}

// EventTypes returns every known event type.
func EventTypes() []EventType {
	return []EventType{
		EventBits, EventChannelPoints, EventSubNew, EventSubGift,
		EventMembershipNew, EventMembershipRecurring, EventSuperchat, EventSupersticker,
	}
}

// ParseEventType accepts the canonical name in any case.
func ParseEventType(s string) (EventType, bool) {
	et := EventType(strings.ToLower(strings.TrimSpace(s)))
	_, ok := eventPlatforms[et]
	return et, ok
}

// Platform returns the platform that emits this event type.
func (e EventType) Platform() Platform {
	return eventPlatforms[e]
}

func (e EventType) Valid() bool {
	_, ok := eventPlatforms[e]
	return ok
}

// Status is the lifecycle position of a Job.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusSynthesizing Status = "synthesizing"
	StatusReady        Status = "ready"
	StatusPlaying      Status = "playing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
