// Package timing holds the pure exam timing rules: total duration resolution,
// group-restricted subject unlocks and the remaining-time countdown.
//
// Nothing in this package reads the wall clock. Callers pass `now` explicitly so
// every rule is deterministic for a given set of inputs.
package timing

import (
	"strings"
)

// Stream is the closed set of entrance exam streams with a known timing profile.
type Stream int

const (
	StreamUnknown Stream = iota
	StreamNEET
	StreamJEE
	StreamMHTCET
)

func (s Stream) String() string {
	switch s {
	case StreamNEET:
		return "NEET"
	case StreamJEE:
		return "JEE"
	case StreamMHTCET:
		return "MHT-CET"
	default:
		return "unknown"
	}
}

// Subject is a canonical subject name.
type Subject string

const (
	SubjectPhysics     Subject = "Physics"
	SubjectChemistry   Subject = "Chemistry"
	SubjectBiology     Subject = "Biology"
	SubjectMathematics Subject = "Mathematics"
)

// SubjectTiming is the per-subject part of a stream profile. An UnlockDelayMinutes
// of zero means the subject is always accessible.
type SubjectTiming struct {
	Subject            Subject
	DurationMinutes    int
	UnlockDelayMinutes int
}

// StreamTimingProfile is the static timing configuration of a stream.
type StreamTimingProfile struct {
	Stream               Stream
	TotalDurationMinutes int
	SubjectTimings       []SubjectTiming
}

// Restricted reports whether any subject in the profile is unlock-delayed.
func (p *StreamTimingProfile) Restricted() bool {
	for _, st := range p.SubjectTimings {
		if st.UnlockDelayMinutes > 0 {
			return true
		}
	}
	return false
}

var profiles = map[Stream]*StreamTimingProfile{
	StreamNEET: {
		Stream:               StreamNEET,
		TotalDurationMinutes: 200,
		SubjectTimings: []SubjectTiming{
			{Subject: SubjectPhysics, DurationMinutes: 50},
			{Subject: SubjectChemistry, DurationMinutes: 50},
			{Subject: SubjectBiology, DurationMinutes: 100},
		},
	},
	StreamJEE: {
		Stream:               StreamJEE,
		TotalDurationMinutes: 180,
		SubjectTimings: []SubjectTiming{
			{Subject: SubjectPhysics, DurationMinutes: 60},
			{Subject: SubjectChemistry, DurationMinutes: 60},
			{Subject: SubjectMathematics, DurationMinutes: 60},
		},
	},
	StreamMHTCET: {
		Stream:               StreamMHTCET,
		TotalDurationMinutes: 180,
		SubjectTimings: []SubjectTiming{
			{Subject: SubjectPhysics, DurationMinutes: 45},
			{Subject: SubjectChemistry, DurationMinutes: 45},
			{Subject: SubjectMathematics, DurationMinutes: 90, UnlockDelayMinutes: 90},
			{Subject: SubjectBiology, DurationMinutes: 90, UnlockDelayMinutes: 90},
		},
	},
}

// exactStreams is matched before any substring heuristic.
var exactStreams = map[string]Stream{
	"neet":         StreamNEET,
	"neet ug":      StreamNEET,
	"neet-ug":      StreamNEET,
	"jee":          StreamJEE,
	"jee main":     StreamJEE,
	"jee mains":    StreamJEE,
	"jee advanced": StreamJEE,
	"mht-cet":      StreamMHTCET,
	"mht cet":      StreamMHTCET,
	"mhtcet":       StreamMHTCET,
}

// CanonicalStreamOf maps a free-text stream name onto a known stream.
func CanonicalStreamOf(raw string) Stream {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return StreamUnknown
	}
	if s, ok := exactStreams[name]; ok {
		return s
	}
	switch {
	case strings.Contains(name, "neet"):
		return StreamNEET
	case strings.Contains(name, "jee"):
		return StreamJEE
	case strings.Contains(name, "cet"):
		return StreamMHTCET
	}
	return StreamUnknown
}

// ProfileOf returns the timing profile of a known stream, or nil for StreamUnknown.
func ProfileOf(s Stream) *StreamTimingProfile {
	return profiles[s]
}

// subjectAliases lists every accepted spelling, canonical name first.
var subjectAliases = map[Subject][]string{
	SubjectPhysics:     {"Physics"},
	SubjectChemistry:   {"Chemistry"},
	SubjectBiology:     {"Biology", "Bio", "Botany", "Zoology"},
	SubjectMathematics: {"Mathematics", "Maths", "Math"},
}

var subjectByAlias = func() map[string]Subject {
	m := make(map[string]Subject)
	for subject, aliases := range subjectAliases {
		for _, a := range aliases {
			m[strings.ToLower(a)] = subject
		}
	}
	return m
}()

// CanonicalSubjectOf maps any accepted spelling of a subject to its canonical name.
func CanonicalSubjectOf(raw string) (Subject, bool) {
	s, ok := subjectByAlias[strings.ToLower(strings.TrimSpace(raw))]
	return s, ok
}

// AliasesOf returns every spelling under which a subject's record is published.
func AliasesOf(s Subject) []string {
	if aliases, ok := subjectAliases[s]; ok {
		return aliases
	}
	return []string{string(s)}
}
