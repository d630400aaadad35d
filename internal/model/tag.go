package model

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// NullTagKey replaces a missing (nil) key.
	NullTagKey = "null"

	// UndefinedTagKey replaces keys that are empty or not printable.
	UndefinedTagKey = "Undefined"

	// ReservedTagPrefix is prepended to keys that collide with event fields.
	ReservedTagPrefix = "Tag_"

	// LegacyTagKeyMaxRunes caps key length in the embedded engine.
	LegacyTagKeyMaxRunes = 128
)

// reservedFields are the built-in event attributes a tag key must not shadow
// when events are flattened for display or search.
var reservedFields = []string{"EventType", "SubType", "Message", "Date", "Folder", "Color"}

// Tag is a key/value attribute owned by exactly one event.
type Tag struct {
	ID      int64  `json:"id"`
	EventID int64  `json:"event_id"`
	Key     string `json:"key"`
	Value   string `json:"value"`
}

// IsReservedField reports whether key equals a built-in event field name,
// ignoring case.
func IsReservedField(key string) bool {
	for _, f := range reservedFields {
		if strings.EqualFold(key, f) {
			return true
		}
	}
	return false
}

// TagKeyOrNull returns *key, or NullTagKey when key is nil.
func TagKeyOrNull(key *string) string {
	if key == nil {
		return NullTagKey
	}
	return *key
}

// ValidateTagKey sanitizes a key for the central engine:
//  1. Trim surrounding whitespace
//  2. Empty or non-printable keys become "Undefined"
//  3. Keys equal to a reserved field (case-insensitive) get the "Tag_" prefix
//
// Length is not capped. ValidateTagKey(ValidateTagKey(k)) == ValidateTagKey(k).
func ValidateTagKey(key string) string {
	key = strings.TrimSpace(key)
	if !isPrintable(key) {
		return UndefinedTagKey
	}
	if IsReservedField(key) {
		return ReservedTagPrefix + key
	}
	return key
}

// ValidateLegacyTagKey sanitizes a key for the embedded engine. Unlike
// ValidateTagKey it replaces non-printable runes with visible symbols and
// truncates to LegacyTagKeyMaxRunes. It is idempotent as well.
func ValidateLegacyTagKey(key string) string {
	key = strings.TrimSpace(key)
	key = VisualizeNonPrintable(key)
	key = truncateRunes(key, LegacyTagKeyMaxRunes)
	key = strings.TrimSpace(key)
	if key == "" {
		return UndefinedTagKey
	}
	if IsReservedField(key) {
		return ReservedTagPrefix + key
	}
	return key
}

// VisualizeNonPrintable replaces C0 controls and DEL with their Unicode
// control pictures (U+2400 block) and any other non-printable rune with U+FFFD.
func VisualizeNonPrintable(s string) string {
	if isPrintable(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r < 0x20:
			b.WriteRune(0x2400 + r)
		case r == 0x7f:
			b.WriteRune(0x2421)
		case r == utf8.RuneError || !unicode.IsPrint(r):
			b.WriteRune(utf8.RuneError)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isPrintable reports whether s is non-empty, valid UTF-8 and made of
// printable runes only (ASCII space included).
func isPrintable(s string) bool {
	if s == "" || !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
