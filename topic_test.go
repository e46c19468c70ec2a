package mqtt5

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTopicName(t *testing.T) {
	cases := map[string]struct {
		topic   string
		wantErr error
	}{
		"simple":              {"test", nil},
		"with slash":          {"test/topic", nil},
		"multiple levels":     {"a/b/c/d", nil},
		"leading slash":       {"/test", nil},
		"trailing slash":      {"test/", nil},
		"utf8":                {"sensor/temperatur/°C", nil},
		"empty":               {"", ErrEmptyTopic},
		"plus wildcard":       {"test/+/topic", ErrInvalidTopicName},
		"hash wildcard":       {"test/#", ErrInvalidTopicName},
		"embedded null":       {"test\x00topic", ErrInvalidTopicName},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateTopicName(tc.topic)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateTopicFilter(t *testing.T) {
	valid := []string{
		"test", "test/topic", "+", "test/+/topic", "#", "test/#",
		"+/+/+", "+/test/#",
	}
	for _, filter := range valid {
		t.Run("valid/"+filter, func(t *testing.T) {
			assert.NoError(t, ValidateTopicFilter(filter))
		})
	}

	invalid := map[string]error{
		"":            ErrEmptyTopic,
		"test+":       ErrInvalidTopicFilter,
		"te+st":       ErrInvalidTopicFilter,
		"test#":       ErrInvalidTopicFilter,
		"#/test":      ErrInvalidTopicFilter,
		"test/#/more": ErrInvalidTopicFilter,
		"test\x00f":   ErrInvalidTopicFilter,
	}
	for filter, wantErr := range invalid {
		t.Run("invalid/"+filter, func(t *testing.T) {
			assert.ErrorIs(t, ValidateTopicFilter(filter), wantErr)
		})
	}
}

// matchCase is shared between TestTopicMatch and TestMatchLevels: both
// exercise the same wildcard semantics, one through the public
// TopicMatch entry point and one directly against the level-walk helper
// it delegates to.
type matchCase struct {
	filter string
	topic  string
	match  bool
}

func matchCases() []matchCase {
	return []matchCase{
		{"test", "test", true},
		{"test/topic", "test/topic", true},
		{"a/b/c", "a/b/c", true},
		{"test", "other", false},
		{"test/topic", "test/other", false},
		{"a/b", "a/b/c", false},
		{"a/b/c", "a/b", false},
		{"+", "test", true},
		{"test/+", "test/topic", true},
		{"+/topic", "test/topic", true},
		{"test/+/end", "test/middle/end", true},
		{"+/+/+", "a/b/c", true},
		{"+", "test/topic", false},
		{"test/+", "test", false},
		{"#", "test", true},
		{"#", "test/topic", true},
		{"#", "a/b/c/d/e", true},
		{"test/#", "test", true},
		{"test/#", "test/topic", true},
		{"test/#", "test/a/b/c", true},
		{"test/topic/#", "test/topic", true},
		{"test/topic/#", "test/topic/more", true},
		{"+/#", "test", true},
		{"+/#", "test/topic", true},
		{"+/+/#", "a/b/c/d", true},
	}
}

func TestTopicMatch(t *testing.T) {
	for _, tc := range matchCases() {
		t.Run(tc.filter+" vs "+tc.topic, func(t *testing.T) {
			assert.Equal(t, tc.match, TopicMatch(tc.filter, tc.topic))
		})
	}

	// $-prefixed topics opt out of wildcard matching at the root level
	// (section 4.7.2): only an explicit "$SYS" subscription reaches them.
	dollarCases := []matchCase{
		{"$SYS/test", "$SYS/test", true},
		{"#", "$SYS/test", false},
		{"+/test", "$SYS/test", false},
		{"$SYS/#", "$SYS/test", true},
		{"$SYS/+", "$SYS/test", true},
	}
	for _, tc := range dollarCases {
		t.Run("dollar/"+tc.filter+" vs "+tc.topic, func(t *testing.T) {
			assert.Equal(t, tc.match, TopicMatch(tc.filter, tc.topic))
		})
	}

	t.Run("empty filter or topic never matches", func(t *testing.T) {
		assert.False(t, TopicMatch("", "test"))
		assert.False(t, TopicMatch("test", ""))
	})
}

func TestIsSystemTopic(t *testing.T) {
	for topic, want := range map[string]bool{
		"$SYS":                   true,
		"$SYS/broker/uptime":     true,
		"$SYS/clients/connected": true,
		"test/topic":             false,
		"$OTHER/test":            false,
		"$share/group/topic":     false,
	} {
		t.Run(topic, func(t *testing.T) {
			assert.Equal(t, want, IsSystemTopic(topic))
		})
	}
}

func TestParseSharedSubscription(t *testing.T) {
	t.Run("accepts well-formed share filters", func(t *testing.T) {
		tests := []struct {
			filter      string
			shareName   string
			topicFilter string
		}{
			{"$share/consumer1/topic", "consumer1", "topic"},
			{"$share/group/a/b/c", "group", "a/b/c"},
			{"$share/group/sensor/+/data", "group", "sensor/+/data"},
			{"$share/group/#", "group", "#"},
		}
		for _, tt := range tests {
			result, err := ParseSharedSubscription(tt.filter)
			require.NoError(t, err)
			require.NotNil(t, result)
			assert.Equal(t, tt.shareName, result.ShareName)
			assert.Equal(t, tt.topicFilter, result.TopicFilter)
		}
	})

	t.Run("returns nil for a plain (non-shared) filter", func(t *testing.T) {
		result, err := ParseSharedSubscription("normal/topic")
		assert.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("rejects malformed share filters", func(t *testing.T) {
		for _, filter := range []string{"$share//topic", "$share/group/", "$share/group"} {
			_, err := ParseSharedSubscription(filter)
			assert.Error(t, err, filter)
		}
	})

	t.Run("propagates topic-filter validation errors", func(t *testing.T) {
		_, err := ParseSharedSubscription("$share/group/test#invalid")
		assert.ErrorIs(t, err, ErrInvalidTopicFilter)
	})
}

func TestTopicMatcherFanOut(t *testing.T) {
	matcher := NewTopicMatcher()

	require.NoError(t, matcher.Subscribe("sensor/+/temperature", "sub1"))
	require.NoError(t, matcher.Subscribe("sensor/#", "sub2"))
	require.NoError(t, matcher.Subscribe("sensor/living/temperature", "sub3"))

	subscribers := matcher.Match("sensor/living/temperature")
	assert.ElementsMatch(t, []any{"sub1", "sub2", "sub3"}, subscribers)

	subscribers = matcher.Match("sensor/bedroom/humidity")
	assert.Equal(t, []any{"sub2"}, subscribers)

	require.NoError(t, matcher.Unsubscribe("sensor/+/temperature", "sub1"))
	subscribers = matcher.Match("sensor/living/temperature")
	assert.ElementsMatch(t, []any{"sub2", "sub3"}, subscribers)
}

func TestTopicMatcherSystemTopicsStayExplicit(t *testing.T) {
	matcher := NewTopicMatcher()

	require.NoError(t, matcher.Subscribe("#", "sub1"))
	require.NoError(t, matcher.Subscribe("+/clients", "sub2"))
	require.NoError(t, matcher.Subscribe("$SYS/#", "sub3"))

	assert.Equal(t, []any{"sub3"}, matcher.Match("$SYS/clients"))
	assert.ElementsMatch(t, []any{"sub1", "sub2"}, matcher.Match("normal/clients"))
}

func TestTopicMatcherRejectsBadFilters(t *testing.T) {
	matcher := NewTopicMatcher()

	assert.ErrorIs(t, matcher.Subscribe("test/+invalid", "sub1"), ErrInvalidTopicFilter)
	assert.ErrorIs(t, matcher.Unsubscribe("test/+invalid", "sub1"), ErrInvalidTopicFilter)
}

func TestTopicMatcherUnsubscribeIsIdempotent(t *testing.T) {
	matcher := NewTopicMatcher()

	// Unsubscribing a filter that was never subscribed is a no-op, not
	// an error.
	require.NoError(t, matcher.Unsubscribe("nonexistent/topic", "sub1"))

	require.NoError(t, matcher.Subscribe("test/topic", "sub1"))
	require.NoError(t, matcher.Unsubscribe("test/topic", "sub2"))

	subs := matcher.Match("test/topic")
	assert.Equal(t, []any{"sub1"}, subs)
}

func TestTopicMatcherSubscriberIdentityByValue(t *testing.T) {
	matcher := NewTopicMatcher()

	type subscription struct{ id string }
	a, b := subscription{id: "sub1"}, subscription{id: "sub2"}

	require.NoError(t, matcher.Subscribe("test/topic", a))
	require.NoError(t, matcher.Subscribe("test/topic", b))

	assert.Len(t, matcher.Match("test/topic"), 2)
}

func TestTopicMatcherMatchRejectsWildcardTopics(t *testing.T) {
	matcher := NewTopicMatcher()
	require.NoError(t, matcher.Subscribe("test/+", "sub1"))

	// Match takes a concrete topic name, never a filter; a wildcard in
	// the argument can never be a published topic so it reports no
	// subscribers rather than trying to interpret it.
	assert.Nil(t, matcher.Match("test/+/invalid"))
	assert.Nil(t, matcher.Match(""))
}

func TestMatchLevels(t *testing.T) {
	for _, tc := range matchCases() {
		if tc.filter == "" || tc.topic == "" {
			continue // matchLevels assumes TopicMatch already rejected empties
		}
		t.Run(tc.filter+" vs "+tc.topic, func(t *testing.T) {
			assert.Equal(t, tc.match, matchLevels(tc.filter, tc.topic), "filter=%q topic=%q", tc.filter, tc.topic)
		})
	}

	t.Run("separators at the edges", func(t *testing.T) {
		for _, tc := range []matchCase{
			{"/", "/", true},
			{"/a", "/a", true},
			{"a/", "a/", true},
			{"/a/", "/a/", true},
			{"//", "//", true},
			{"+/", "a/", true},
			{"/+", "/a", true},
			{"/#", "/a/b", true},
		} {
			assert.Equal(t, tc.match, matchLevels(tc.filter, tc.topic), "filter=%q topic=%q", tc.filter, tc.topic)
		}
	})

	t.Run("deep paths", func(t *testing.T) {
		deep := "level1/level2/level3/level4/level5"
		assert.True(t, matchLevels(deep, deep))
		assert.True(t, matchLevels("level1/+/level3/+/level5", deep))
		assert.True(t, matchLevels("level1/level2/#", deep))
		assert.False(t, matchLevels("level1/level2/level3/level4/level5/level6", deep))
	})
}

func BenchmarkMatchLevels(b *testing.B) {
	scenarios := map[string]struct{ filter, topic string }{
		"exact":    {"sensor/living/temperature", "sensor/living/temperature"},
		"plus":     {"sensor/+/temperature", "sensor/living/temperature"},
		"hash":     {"sensor/#", "sensor/living/temperature"},
		"deep_path": {"level1/level2/level3/level4/level5", "level1/level2/level3/level4/level5"},
	}
	for name, sc := range scenarios {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				_ = matchLevels(sc.filter, sc.topic)
			}
		})
	}
}

func BenchmarkValidateTopicName(b *testing.B) {
	topic := "sensor/living/temperature"
	b.ReportAllocs()
	for b.Loop() {
		_ = ValidateTopicName(topic)
	}
}

func BenchmarkValidateTopicFilter(b *testing.B) {
	filter := "sensor/+/temperature"
	b.ReportAllocs()
	for b.Loop() {
		_ = ValidateTopicFilter(filter)
	}
}

func BenchmarkTopicMatch(b *testing.B) {
	filter := "sensor/+/temperature"
	topic := "sensor/living/temperature"
	b.ReportAllocs()
	for b.Loop() {
		_ = TopicMatch(filter, topic)
	}
}

func BenchmarkTopicMatcherMatch(b *testing.B) {
	matcher := NewTopicMatcher()
	_ = matcher.Subscribe("sensor/+/temperature", "sub1")
	_ = matcher.Subscribe("sensor/#", "sub2")
	_ = matcher.Subscribe("sensor/living/+", "sub3")

	topic := "sensor/living/temperature"
	b.ReportAllocs()
	for b.Loop() {
		_ = matcher.Match(topic)
	}
}

func BenchmarkTopicMatcherSubscribe(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		matcher := NewTopicMatcher()
		_ = matcher.Subscribe("sensor/living/temperature", "sub1")
	}
}

func FuzzValidateTopicName(f *testing.F) {
	f.Add("test")
	f.Add("test/topic")
	f.Add("a/b/c/d/e")
	f.Add("")
	f.Add("test\x00topic")

	for range 10 {
		data := make([]byte, rand.IntN(64)+1)
		for i := range data {
			data[i] = byte(rand.IntN(256))
		}
		f.Add(string(data))
	}

	f.Fuzz(func(_ *testing.T, topic string) {
		_ = ValidateTopicName(topic)
	})
}

func FuzzValidateTopicFilter(f *testing.F) {
	f.Add("test")
	f.Add("test/+/topic")
	f.Add("test/#")
	f.Add("+/+/+")
	f.Add("")

	for range 10 {
		data := make([]byte, rand.IntN(64)+1)
		for i := range data {
			data[i] = byte(rand.IntN(256))
		}
		f.Add(string(data))
	}

	f.Fuzz(func(_ *testing.T, filter string) {
		_ = ValidateTopicFilter(filter)
	})
}

func FuzzTopicMatch(f *testing.F) {
	f.Add("test", "test")
	f.Add("test/+", "test/topic")
	f.Add("#", "a/b/c")
	f.Add("$SYS/#", "$SYS/test")

	f.Fuzz(func(_ *testing.T, filter, topic string) {
		_ = TopicMatch(filter, topic)
	})
}

func TestContainsWildcard(t *testing.T) {
	for _, filter := range []string{"#", "sensor/#", "home/+/temperature/#", "+", "+/temperature", "sensor/+/data", "home/+/+", "+/#", "+/+/#"} {
		assert.True(t, containsWildcard(filter), filter)
	}
	for _, filter := range []string{"sensor", "sensor/temperature", "home/living-room/temperature", ""} {
		assert.False(t, containsWildcard(filter), filter)
	}
}

func TestIsSharedSubscription(t *testing.T) {
	for _, filter := range []string{"$share/group/topic", "$share/mygroup/sensor/+/data", "$share/consumers/#", "$share/g/t"} {
		assert.True(t, isSharedSubscription(filter), filter)
	}
	for _, filter := range []string{"sensor/temperature", "#", "+/data", "", "$SYS/broker/clients", "$SYS/#", "$share", "$shar/group/topic", "share/group/topic"} {
		assert.False(t, isSharedSubscription(filter), filter)
	}
}
