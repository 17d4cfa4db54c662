package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTags(t *testing.T) {
	t.Run("trims and drops empties", func(t *testing.T) {
		got := SanitizeTags([]string{"  buyer ", "", "   ", "vip"})
		assert.Equal(t, []string{"buyer", "vip"}, got)
	})

	t.Run("truncates long tags to 30 runes", func(t *testing.T) {
		long := strings.Repeat("a", 31)
		got := SanitizeTags([]string{long})
		assert.Equal(t, []string{strings.Repeat("a", 30)}, got)

		exact := strings.Repeat("b", 30)
		assert.Equal(t, []string{exact}, SanitizeTags([]string{exact}))
	})

	t.Run("caps an event at 20 tags, earliest first", func(t *testing.T) {
		var in []string
		for i := 0; i < 21; i++ {
			in = append(in, string(rune('a'+i)))
		}
		got := SanitizeTags(in)
		assert.Len(t, got, 20)
		assert.Equal(t, "a", got[0])
		assert.NotContains(t, got, string(rune('a'+20)))
	})
}

func TestParseSegment(t *testing.T) {
	seg, ok := ParseSegment("father")
	assert.True(t, ok)
	assert.Equal(t, SegmentFather, seg)

	_, ok = ParseSegment("buyer")
	assert.False(t, ok)
}

func TestMerge(t *testing.T) {
	rules := NewTagRules(nil)

	t.Run("plain union dedups first-wins", func(t *testing.T) {
		merged, oldSeg, newSeg := rules.Merge([]string{"buyer", "vip"}, []string{"vip", "newsletter"})
		assert.Equal(t, []string{"buyer", "vip", "newsletter"}, merged)
		assert.Empty(t, oldSeg)
		assert.Empty(t, newSeg)
	})

	t.Run("incoming segment replaces existing segment", func(t *testing.T) {
		merged, oldSeg, newSeg := rules.Merge([]string{"buyer", "father"}, []string{"mother"})
		assert.Equal(t, []string{"buyer", "mother"}, merged)
		assert.Equal(t, "father", oldSeg)
		assert.Equal(t, "mother", newSeg)
	})

	t.Run("exactly one segment tag survives", func(t *testing.T) {
		merged, _, newSeg := rules.Merge([]string{"father", "son"}, []string{"husband"})
		assert.Equal(t, "husband", newSeg)

		var segments []string
		for _, tag := range merged {
			if rules.IsSegment(tag) {
				segments = append(segments, tag)
			}
		}
		assert.Equal(t, []string{"husband"}, segments)
	})

	t.Run("no incoming segment keeps the existing one", func(t *testing.T) {
		merged, oldSeg, newSeg := rules.Merge([]string{"father", "buyer"}, []string{"vip"})
		assert.Equal(t, []string{"father", "buyer", "vip"}, merged)
		assert.Equal(t, "father", oldSeg)
		assert.Empty(t, newSeg)
	})

	t.Run("idempotent", func(t *testing.T) {
		existing := []string{"buyer", "father"}
		incoming := []string{"father", "vip"}
		once, _, _ := rules.Merge(existing, incoming)
		twice, _, _ := rules.Merge(once, incoming)
		assert.Equal(t, once, twice)
	})

	t.Run("truncates to 50 keeping the head", func(t *testing.T) {
		var existing []string
		for i := 0; i < 49; i++ {
			existing = append(existing, strings.Repeat("x", 1)+string(rune('0'+i%10))+strings.Repeat("e", i/10+1))
		}
		merged, _, _ := rules.Merge(existing, []string{"one", "two", "three"})
		assert.Len(t, merged, MaxTagsPerLead)
		assert.Equal(t, existing[0], merged[0])
		assert.NotContains(t, merged, "three")
	})

	t.Run("does not mutate inputs", func(t *testing.T) {
		existing := []string{"father", "buyer"}
		incoming := []string{"mother"}
		rules.Merge(existing, incoming)
		assert.Equal(t, []string{"father", "buyer"}, existing)
		assert.Equal(t, []string{"mother"}, incoming)
	})
}

func TestDelta(t *testing.T) {
	rules := NewTagRules(nil)

	t.Run("only unknown tags fire", func(t *testing.T) {
		delta := rules.Delta([]string{"buyer", "vip"}, []string{"vip", "newsletter"})
		assert.Equal(t, []string{"newsletter"}, delta)
	})

	t.Run("changed segment is forced into the delta", func(t *testing.T) {
		delta := rules.Delta([]string{"father", "buyer"}, []string{"mother", "buyer"})
		assert.Equal(t, []string{"mother"}, delta)
	})

	t.Run("unchanged segment does not re-fire", func(t *testing.T) {
		delta := rules.Delta([]string{"father", "buyer"}, []string{"father"})
		assert.Empty(t, delta)
	})

	t.Run("all tags fire for a fresh lead", func(t *testing.T) {
		delta := rules.Delta(nil, []string{"father", "buyer"})
		assert.Equal(t, []string{"father", "buyer"}, delta)
	})
}

func TestCustomSegmentSet(t *testing.T) {
	rules := NewTagRules([]string{"gold", "silver"})

	assert.True(t, rules.IsSegment("gold"))
	assert.False(t, rules.IsSegment("father"))

	merged, oldSeg, newSeg := rules.Merge([]string{"gold", "father"}, []string{"silver"})
	assert.Equal(t, "gold", oldSeg)
	assert.Equal(t, "silver", newSeg)
	// "father" is just a plain tag under this set and survives.
	assert.Equal(t, []string{"father", "silver"}, merged)
}
