package realtime

import (
	"fmt"
	"strings"
)

// Channel naming is deterministic: the same role/context always yields the
// same channel name, on every peer.

func PresenceChannel(city string) string {
	return fmt.Sprintf("presence:%s", strings.ToLower(city))
}

func TripEventsChannel(tripID string) string {
	return fmt.Sprintf("trip:%s:events", tripID)
}

func TripLocationChannel(tripID string) string {
	return fmt.Sprintf("trip:%s:location", tripID)
}

func TripChatChannel(tripID string) string {
	return fmt.Sprintf("trip:%s:chat", tripID)
}

// ChannelKind reports the channel family for metrics labels.
func ChannelKind(channel string) string {
	switch {
	case strings.HasPrefix(channel, "presence:"):
		return "presence"
	case strings.HasSuffix(channel, ":events"):
		return "events"
	case strings.HasSuffix(channel, ":location"):
		return "location"
	case strings.HasSuffix(channel, ":chat"):
		return "chat"
	default:
		return "other"
	}
}
