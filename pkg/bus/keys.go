package bus

import (
	"fmt"
	"strconv"
)

// ActiveMeetingsKey is the set of meeting ids with unpromoted segments.
const ActiveMeetingsKey = "active_meetings"

// SegmentsHashKey returns the per-meeting mutable segment hash key.
func SegmentsHashKey(meetingID int64) string {
	return fmt.Sprintf("meeting:%d:segments", meetingID)
}

// SpeakerEventsKey returns the per-session speaker events sorted-set key.
func SpeakerEventsKey(sessionUID string) string {
	return "speaker_events:" + sessionUID
}

// BotCommandsChannel returns the pub/sub channel for a bot session.
func BotCommandsChannel(sessionUID string) string {
	return "bot_commands:" + sessionUID
}

// FormatSegmentKey formats a segment's relative start time as the hash field
// key. Three decimal places, matching what bots and the promoter agree on.
func FormatSegmentKey(start float64) string {
	return strconv.FormatFloat(start, 'f', 3, 64)
}
