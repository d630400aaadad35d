package model

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// EventType classifies an event.
type EventType string

const (
	EventTypeError EventType = "Error"
	EventTypeInfo  EventType = "Info"
	EventTypeDebug EventType = "Debug"
)

// DefaultColor is the display colour of events submitted without one.
const DefaultColor uint32 = 0xEBEBEB

// MaxColor is the largest 24-bit RGB value.
const MaxColor uint32 = 0xFFFFFF

// ParseEventType resolves s case-insensitively to an EventType.
func ParseEventType(s string) (EventType, error) {
	for _, t := range []EventType{EventTypeError, EventTypeInfo, EventTypeDebug} {
		if strings.EqualFold(strings.TrimSpace(s), string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown event type %q (want Error, Info or Debug)", s)
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	return t == EventTypeError || t == EventTypeInfo || t == EventTypeDebug
}

// Event is a tracked occurrence. Date is the client-assigned occurrence time
// in milliseconds since the Unix epoch.
//
// Events carry a lazily built tag index and must be passed by pointer.
type Event struct {
	ID       int64     `json:"id"`
	FolderID int64     `json:"folder_id"`
	Type     EventType `json:"event_type"`
	SubType  string    `json:"sub_type"`
	Message  string    `json:"message"`
	Date     int64     `json:"date"`
	Color    uint32    `json:"color"`
	Tags     []Tag     `json:"tags"`

	index atomic.Pointer[map[string]Tag]
}

// TagLookup returns the tag whose lower-cased key equals lowerKey. The caller
// folds the key. The index is built on first use from a snapshot of Tags;
// concurrent first calls may build it twice but always agree.
func (e *Event) TagLookup(lowerKey string) (Tag, bool) {
	idx := e.index.Load()
	if idx == nil {
		built := make(map[string]Tag, len(e.Tags))
		for _, tag := range e.Tags {
			k := strings.ToLower(tag.Key)
			if _, dup := built[k]; !dup {
				built[k] = tag
			}
		}
		e.index.CompareAndSwap(nil, &built)
		idx = e.index.Load()
	}
	tag, ok := (*idx)[lowerKey]
	return tag, ok
}

// SetTags replaces the tag sequence and drops the cached index.
func (e *Event) SetTags(tags []Tag) {
	e.Tags = tags
	e.index.Store(nil)
}

// Validate checks the fields every engine requires before persisting.
func (e *Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("invalid event type %q", e.Type)
	}
	if e.Color > MaxColor {
		return fmt.Errorf("color %#x exceeds 24 bits", e.Color)
	}
	return nil
}

// SanitizeTags returns a copy of tags with every key passed through sanitize.
func SanitizeTags(tags []Tag, sanitize func(string) string) []Tag {
	out := make([]Tag, len(tags))
	for i, tag := range tags {
		out[i] = Tag{ID: tag.ID, EventID: tag.EventID, Key: sanitize(tag.Key), Value: tag.Value}
	}
	return out
}
