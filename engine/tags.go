package engine

import "strings"

// Segment is one of the fixed audience roles a lead can carry. Segment
// tags are mutually exclusive: a lead holds at most one of them at a time.
type Segment string

const (
	SegmentLeader   Segment = "leader"
	SegmentServant  Segment = "servant"
	SegmentFather   Segment = "father"
	SegmentMother   Segment = "mother"
	SegmentHusband  Segment = "husband"
	SegmentWife     Segment = "wife"
	SegmentSon      Segment = "son"
	SegmentDaughter Segment = "daughter"
)

// ParseSegment reports whether tag names one of the known segments.
func ParseSegment(tag string) (Segment, bool) {
	switch s := Segment(tag); s {
	case SegmentLeader, SegmentServant, SegmentFather, SegmentMother,
		SegmentHusband, SegmentWife, SegmentSon, SegmentDaughter:
		return s, true
	}
	return "", false
}

// DefaultSegmentTags returns the built-in segment tag set.
func DefaultSegmentTags() []string {
	return []string{
		string(SegmentLeader),
		string(SegmentServant),
		string(SegmentFather),
		string(SegmentMother),
		string(SegmentHusband),
		string(SegmentWife),
		string(SegmentSon),
		string(SegmentDaughter),
	}
}

const (
	// MaxTagsPerLead caps the stored tag slice after a merge.
	MaxTagsPerLead = 50
	// MaxTagsPerEvent caps how many incoming tags a single capture may carry.
	MaxTagsPerEvent = 20
	// MaxTagLength caps each tag's length in runes.
	MaxTagLength = 30
)

// SanitizeTags trims, truncates and caps an incoming tag slice before it
// reaches the merge. Empty tags are dropped; the first MaxTagsPerEvent
// survivors are kept in order.
func SanitizeTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if r := []rune(t); len(r) > MaxTagLength {
			t = string(r[:MaxTagLength])
		}
		out = append(out, t)
		if len(out) == MaxTagsPerEvent {
			break
		}
	}
	return out
}

// TagRules applies the segment-exclusivity merge policy for a configured
// segment tag set. The zero value is not usable; build one with NewTagRules.
type TagRules struct {
	segments map[string]struct{}
}

// NewTagRules builds the resolver for the given segment tag set, falling
// back to the built-in set when none is given.
func NewTagRules(segmentTags []string) *TagRules {
	if len(segmentTags) == 0 {
		segmentTags = DefaultSegmentTags()
	}
	segments := make(map[string]struct{}, len(segmentTags))
	for _, t := range segmentTags {
		segments[t] = struct{}{}
	}
	return &TagRules{segments: segments}
}

// IsSegment reports whether tag belongs to the configured segment set.
func (r *TagRules) IsSegment(tag string) bool {
	_, ok := r.segments[tag]
	return ok
}

// SegmentOf returns the first segment tag found in tags, or "" when the
// slice carries none.
func (r *TagRules) SegmentOf(tags []string) string {
	for _, t := range tags {
		if r.IsSegment(t) {
			return t
		}
	}
	return ""
}

// Merge combines a lead's existing tags with an incoming slice. When the
// incoming slice carries a segment tag, every existing segment tag is
// dropped first so the lead ends up with exactly one. Duplicates keep
// their first occurrence; the result is truncated to MaxTagsPerLead from
// the front. Neither input slice is mutated.
func (r *TagRules) Merge(existing, incoming []string) (merged []string, existingSegment, newSegment string) {
	existingSegment = r.SegmentOf(existing)
	newSegment = r.SegmentOf(incoming)

	seen := make(map[string]struct{}, len(existing)+len(incoming))
	add := func(t string) {
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		merged = append(merged, t)
	}

	for _, t := range existing {
		if newSegment != "" && r.IsSegment(t) {
			continue
		}
		add(t)
	}
	for _, t := range incoming {
		add(t)
	}

	if len(merged) > MaxTagsPerLead {
		merged = merged[:MaxTagsPerLead]
	}
	return merged, existingSegment, newSegment
}

// Delta returns the incoming tags that should fire trigger matching:
// tags the lead did not already have, plus the incoming segment tag when
// it differs from the stored one (a returning lead switching segments
// must still trigger the new segment's sequences).
func (r *TagRules) Delta(existing, incoming []string) []string {
	existingSegment := r.SegmentOf(existing)
	newSegment := r.SegmentOf(incoming)
	segmentChanged := newSegment != "" && newSegment != existingSegment

	have := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		have[t] = struct{}{}
	}

	var delta []string
	seen := make(map[string]struct{}, len(incoming))
	for _, t := range incoming {
		if _, dup := seen[t]; dup {
			continue
		}
		_, known := have[t]
		if !known || (segmentChanged && t == newSegment) {
			seen[t] = struct{}{}
			delta = append(delta, t)
		}
	}
	return delta
}
