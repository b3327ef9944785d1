package domain

import "strings"

// Mobile is the phone-number key identifying a session throughout the core.
type Mobile string

// ChannelID is an opaque channel identifier. The MTProto "-100" prefix is
// stripped at ingest so the core always compares bare ids.
type ChannelID string

// NormalizeChannelID strips the "-100" MTProto channel prefix, if present.
func NormalizeChannelID(raw string) ChannelID {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "-100")
	return ChannelID(raw)
}

// FallbackVariant is the guaranteed template variant reserved as the
// ban canary.
const FallbackVariant = "0"
