package catalog

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern is one parsed selection pattern (spec.md §4.5): a glob over
// "stream" or "stream.field", optionally prefixed with "!" (deselect) or
// "~" (select and mark for PII hashing).
type Pattern struct {
	Raw       string
	Negate    bool
	PIIHash   bool
	Glob      string
	Specifity int // length of the glob's literal prefix, for tie-breaking
}

// ParsePattern parses one raw selection-pattern string.
func ParsePattern(raw string) Pattern {
	p := Pattern{Raw: raw}
	glob := raw
	switch {
	case strings.HasPrefix(glob, "!"):
		p.Negate = true
		glob = glob[1:]
	case strings.HasPrefix(glob, "~"):
		p.PIIHash = true
		glob = glob[1:]
	}
	p.Glob = glob
	p.Specifity = literalPrefixLen(glob)
	return p
}

// ParsePatterns parses every raw pattern in order.
func ParsePatterns(raw []string) []Pattern {
	out := make([]Pattern, len(raw))
	for i, r := range raw {
		out[i] = ParsePattern(r)
	}
	return out
}

func literalPrefixLen(glob string) int {
	for i, r := range glob {
		switch r {
		case '*', '?', '[', '{':
			return i
		}
	}
	return len(glob)
}

// Decision is the resolved selection state for one stream or field.
type Decision struct {
	Selected bool
	PIIHash  bool
}

// Resolve decides selection for a single candidate name (a stream's
// tap_stream_id, or "stream.field" for field-level patterns) against an
// ordered set of patterns. Among patterns whose glob matches the
// candidate, the one with the longest literal prefix wins (spec.md §4.5's
// longest-literal-prefix tie-break); among equally specific matches, the
// last one listed wins.
func Resolve(candidate string, patterns []Pattern) Decision {
	var best *Pattern
	for i := range patterns {
		p := &patterns[i]
		ok, err := doublestar.Match(p.Glob, candidate)
		if err != nil || !ok {
			continue
		}
		if best == nil || p.Specifity >= best.Specifity {
			best = p
		}
	}
	if best == nil {
		return Decision{Selected: false}
	}
	if best.Negate {
		return Decision{Selected: false}
	}
	return Decision{Selected: true, PIIHash: best.PIIHash}
}

// streamLevelPattern projects a parsed pattern down to the stream-part of
// its glob (the portion before the first "."), for matching against a bare
// stream name rather than a "stream.field" candidate. A pattern with a
// field part (e.g. "!orders.secret_field") names the stream only to scope
// a field-level exclusion; it can't deselect the stream itself, so its
// Negate is dropped once projected — only a pattern with no field part at
// all (e.g. "!orders") can deselect a whole stream.
func streamLevelPattern(p Pattern) Pattern {
	i := strings.IndexByte(p.Glob, '.')
	if i < 0 {
		return p
	}
	p.Glob = p.Glob[:i]
	p.Negate = false
	p.Specifity = literalPrefixLen(p.Glob)
	return p
}

// SelectStreams resolves every stream's selection decision against the
// given raw patterns, matching each pattern's stream-part glob (spec.md
// §4.5) against tap_stream_id — a pattern like "*.*" or
// "!orders.secret_field" selects/excludes fields, not whole streams.
func SelectStreams(streams []*Stream, rawPatterns []string) map[string]Decision {
	patterns := ParsePatterns(rawPatterns)
	streamPatterns := make([]Pattern, len(patterns))
	for i, p := range patterns {
		streamPatterns[i] = streamLevelPattern(p)
	}
	out := make(map[string]Decision, len(streams))
	for _, s := range streams {
		out[s.TapStreamID] = Resolve(s.TapStreamID, streamPatterns)
	}
	return out
}

// SelectFields resolves every field's selection decision within one
// stream, matching "stream.field" candidates so a pattern like
// "orders.customer_*" can target fields without affecting other streams.
func SelectFields(stream *Stream, rawPatterns []string) map[string]Decision {
	patterns := ParsePatterns(rawPatterns)
	out := make(map[string]Decision, len(stream.FieldNames()))
	for _, f := range stream.FieldNames() {
		out[f] = Resolve(stream.TapStreamID+"."+f, patterns)
	}
	return out
}
