package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTaggedEvent() *Event {
	return &Event{
		ID:      1,
		Type:    EventTypeError,
		Message: "boom",
		Tags: []Tag{
			{ID: 10, Key: "Browser", Value: "firefox"},
			{ID: 11, Key: "Tag_Date", Value: "2020"},
			{ID: 12, Key: "browser", Value: "shadowed"},
		},
	}
}

func TestEvent_TagLookup(t *testing.T) {
	e := newTaggedEvent()

	tag, ok := e.TagLookup("browser")
	require.True(t, ok)
	require.Equal(t, int64(10), tag.ID, "first tag with a key wins")
	require.Equal(t, "firefox", tag.Value)

	tag, ok = e.TagLookup("tag_date")
	require.True(t, ok)
	require.Equal(t, "2020", tag.Value)

	_, ok = e.TagLookup("missing")
	require.False(t, ok)
}

func TestEvent_TagLookup_Stable(t *testing.T) {
	e := newTaggedEvent()

	first, ok := e.TagLookup("browser")
	require.True(t, ok)
	idx := e.index.Load()

	for range 10 {
		again, ok := e.TagLookup("browser")
		require.True(t, ok)
		require.Equal(t, first, again)
	}
	require.Same(t, idx, e.index.Load(), "index should be built once and reused")
}

func TestEvent_TagLookup_ConcurrentFirstUse(t *testing.T) {
	e := newTaggedEvent()

	var wg sync.WaitGroup
	results := make([]Tag, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = e.TagLookup("browser")
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.Equal(t, "firefox", r.Value)
	}
}

func TestEvent_SetTags_DropsIndex(t *testing.T) {
	e := newTaggedEvent()
	_, ok := e.TagLookup("browser")
	require.True(t, ok)

	e.SetTags([]Tag{{Key: "os", Value: "linux"}})

	_, ok = e.TagLookup("browser")
	require.False(t, ok, "stale index must not survive SetTags")
	tag, ok := e.TagLookup("os")
	require.True(t, ok)
	require.Equal(t, "linux", tag.Value)
}

func TestParseEventType(t *testing.T) {
	for in, want := range map[string]EventType{"error": EventTypeError, " Info ": EventTypeInfo, "DEBUG": EventTypeDebug} {
		got, err := ParseEventType(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := ParseEventType("warning")
	require.Error(t, err)
}

func TestEvent_Validate(t *testing.T) {
	e := &Event{Type: EventTypeInfo, Color: DefaultColor}
	require.NoError(t, e.Validate())

	e.Type = "Warning"
	require.Error(t, e.Validate())

	e.Type = EventTypeInfo
	e.Color = 0x1000000
	require.Error(t, e.Validate())
}

func TestSanitizeTags(t *testing.T) {
	in := []Tag{{Key: "Date", Value: "2020"}, {Key: " host ", Value: "a"}}
	out := SanitizeTags(in, ValidateTagKey)

	require.Equal(t, "Tag_Date", out[0].Key)
	require.Equal(t, "host", out[1].Key)
	require.Equal(t, "Date", in[0].Key, "input must not be modified")
}

func TestNormalizeProject(t *testing.T) {
	got, err := NormalizeProject("  Acme-Web ")
	require.NoError(t, err)
	require.Equal(t, "acme-web", got)

	upper, err := NormalizeProject("ACME-WEB")
	require.NoError(t, err)
	require.Equal(t, got, upper)

	_, err = NormalizeProject("   ")
	require.Error(t, err)
	_, err = NormalizeProject("a/b")
	require.Error(t, err)
}

func TestFoldUserName(t *testing.T) {
	require.Equal(t, "alice", FoldUserName(" Alice "))
	require.Equal(t, FoldUserName("STRASSE"), FoldUserName("strasse"))
}
