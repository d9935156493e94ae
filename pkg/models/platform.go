package models

import (
	"fmt"
	"regexp"
	"strings"
)

// Platform identifies a supported conferencing platform. The value is the
// external API name and is also what bots report back on the stream.
type Platform string

const (
	PlatformGoogleMeet Platform = "google_meet"
	PlatformZoom       Platform = "zoom"
	PlatformTeams      Platform = "teams"
)

// Platforms lists all supported platforms.
var Platforms = []Platform{PlatformGoogleMeet, PlatformZoom, PlatformTeams}

// ParsePlatform validates a platform string from a request path or payload.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	for _, known := range Platforms {
		if p == known {
			return p, nil
		}
	}
	supported := make([]string, len(Platforms))
	for i, known := range Platforms {
		supported[i] = string(known)
	}
	return "", fmt.Errorf("invalid platform %q: must be one of %s", s, strings.Join(supported, ", "))
}

var (
	googleMeetIDPattern = regexp.MustCompile(`^[a-z]{3}-[a-z]{4}-[a-z]{3}$`)
	zoomIDPattern       = regexp.MustCompile(`^(\d{9,11})(?:\?pwd=(.+))?$`)
)

// ConstructMeetingURL builds the meeting URL from a platform and native
// meeting id. It returns "" when no URL can be constructed: Teams URLs are
// not derivable from the id alone, and malformed ids produce no URL. The bot
// is expected to cope with a missing URL.
func ConstructMeetingURL(platform Platform, nativeID string) string {
	switch platform {
	case PlatformGoogleMeet:
		if googleMeetIDPattern.MatchString(nativeID) {
			return "https://meet.google.com/" + nativeID
		}
	case PlatformZoom:
		if m := zoomIDPattern.FindStringSubmatch(nativeID); m != nil {
			url := "https://zoom.us/j/" + m[1]
			if m[2] != "" {
				url += "?pwd=" + m[2]
			}
			return url
		}
	case PlatformTeams:
		// Not constructible from the id alone.
	}
	return ""
}

// StripSessionUIDPrefix removes a leading platform prefix from a session uid.
// Segments arriving on the transcription stream sometimes carry uids of the
// form "google_meet_<uid>" while the sessions table stores the bare uid. The
// assembler relies on this to match the two.
func StripSessionUIDPrefix(uid string) string {
	for _, p := range Platforms {
		prefix := string(p) + "_"
		if strings.HasPrefix(uid, prefix) {
			return uid[len(prefix):]
		}
	}
	return uid
}
