package models

// Stream message types published by bots onto the transcription stream.
const (
	StreamTypeTranscription = "transcription"
	StreamTypeSessionStart  = "session_start"
	StreamTypeSessionEnd    = "session_end"
)

// StreamEnvelope is the common header of every transcription-stream message.
// The full message is JSON-encoded into the stream entry's "payload" field.
type StreamEnvelope struct {
	Type            string `json:"type"`
	Token           string `json:"token"`
	Platform        string `json:"platform"`
	NativeMeetingID string `json:"meeting_id"`
	UID             string `json:"uid"`
}

// SegmentPayload is one transcript segment inside a transcription message.
// Start and End are seconds relative to the session start.
type SegmentPayload struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Text     string  `json:"text"`
	Language *string `json:"language,omitempty"`
}

// TranscriptionMessage is a batch of segments for one session.
type TranscriptionMessage struct {
	StreamEnvelope
	Segments []SegmentPayload `json:"segments"`
}

// SessionStartMessage announces the bot's connection time. StartTimestamp is
// ISO-8601 UTC and becomes the session's authoritative time anchor.
type SessionStartMessage struct {
	StreamEnvelope
	StartTimestamp string `json:"start_timestamp"`
}

// Speaker event types on the speaker_events_relative stream.
const (
	SpeakerEventStart = "SPEAKER_START"
	SpeakerEventEnd   = "SPEAKER_END"
)

// SpeakerEvent is a speaker activity change, timestamped in milliseconds
// relative to the session start.
type SpeakerEvent struct {
	UID                       string  `json:"uid"`
	RelativeClientTimestampMS float64 `json:"relative_client_timestamp_ms"`
	EventType                 string  `json:"event_type"`
	ParticipantName           string  `json:"participant_name"`
	ParticipantID             string  `json:"participant_id,omitempty"`
}

// BufferedSegment is the JSON value stored in the per-meeting segment hash,
// keyed by the segment's relative start time formatted as "%.3f".
type BufferedSegment struct {
	Text       string  `json:"text"`
	EndTime    float64 `json:"end_time"`
	Language   *string `json:"language"`
	UpdatedAt  string  `json:"updated_at"`
	SessionUID string  `json:"session_uid"`
}

// Bot command actions published on bot_commands:<session_uid>.
const (
	BotActionLeave       = "leave"
	BotActionReconfigure = "reconfigure"
)

// BotCommand is an outbound control command for a connected bot. Publication
// is fire-and-forget; a bot that misses a leave command is force-stopped by
// the delayed container stop.
type BotCommand struct {
	Action   string `json:"action"`
	UID      string `json:"uid,omitempty"`
	Language string `json:"language,omitempty"`
	Task     string `json:"task,omitempty"`
}
