// Package transcripts assembles transcripts for API reads, merging the
// persisted segments with whatever is still buffered on the bus.
package transcripts

import (
	"encoding/json"
	"log/slog"
	"math"

	"github.com/vexa-ai/vexa/pkg/bus"
	"github.com/vexa-ai/vexa/pkg/models"
)

// Speaker mapping outcomes.
const (
	MappingMapped          = "MAPPED"
	MappingMultiple        = "MULTIPLE"
	MappingUnknown         = "UNKNOWN"
	MappingNoSpeakerEvents = "NO_SPEAKER_EVENTS"
)

// SpeakerMapping is the result of attributing a segment to a speaker.
type SpeakerMapping struct {
	Name          string
	ParticipantID string
	Status        string
}

// MapSpeaker attributes a segment interval to a speaker using the session's
// speaker events. Events must be sorted by timestamp. When several speakers
// overlap the segment, the one with the longest overlap wins.
func MapSpeaker(segmentStartMS, segmentEndMS float64, events []bus.ScoredMember) SpeakerMapping {
	if len(events) == 0 {
		return SpeakerMapping{Status: MappingNoSpeakerEvents}
	}

	parsed := make([]models.SpeakerEvent, 0, len(events))
	for _, member := range events {
		var event models.SpeakerEvent
		if err := json.Unmarshal([]byte(member.Member), &event); err != nil {
			slog.Warn("Skipping undecodable speaker event", "error", err)
			continue
		}
		event.RelativeClientTimestampMS = member.Score
		parsed = append(parsed, event)
	}
	if len(parsed) == 0 {
		return SpeakerMapping{Status: MappingUnknown}
	}

	// A speaker remains a candidate if they started before the segment ends
	// and did not stop before it starts.
	candidates := make(map[string]models.SpeakerEvent)
	for _, event := range parsed {
		id := participantKey(event)
		if id == "" {
			continue
		}
		switch event.EventType {
		case models.SpeakerEventStart:
			if event.RelativeClientTimestampMS <= segmentEndMS {
				candidates[id] = event
			}
		case models.SpeakerEventEnd:
			if _, ok := candidates[id]; ok && event.RelativeClientTimestampMS < segmentStartMS {
				delete(candidates, id)
			}
		}
	}

	type activeSpeaker struct {
		event   models.SpeakerEvent
		overlap float64
	}
	var active []activeSpeaker
	for id, start := range candidates {
		startTS := start.RelativeClientTimestampMS
		endTS := segmentEndMS
		for _, event := range parsed {
			if participantKey(event) == id &&
				event.EventType == models.SpeakerEventEnd &&
				event.RelativeClientTimestampMS >= startTS {
				endTS = event.RelativeClientTimestampMS
				break
			}
		}
		overlap := math.Min(endTS, segmentEndMS) - math.Max(startTS, segmentStartMS)
		if overlap > 0 {
			active = append(active, activeSpeaker{event: start, overlap: overlap})
		}
	}

	switch len(active) {
	case 0:
		return SpeakerMapping{Status: MappingUnknown}
	case 1:
		return SpeakerMapping{
			Name:          active[0].event.ParticipantName,
			ParticipantID: active[0].event.ParticipantID,
			Status:        MappingMapped,
		}
	default:
		best := active[0]
		for _, candidate := range active[1:] {
			if candidate.overlap > best.overlap {
				best = candidate
			}
		}
		return SpeakerMapping{
			Name:          best.event.ParticipantName,
			ParticipantID: best.event.ParticipantID,
			Status:        MappingMultiple,
		}
	}
}

func participantKey(event models.SpeakerEvent) string {
	if event.ParticipantID != "" {
		return event.ParticipantID
	}
	return event.ParticipantName
}
