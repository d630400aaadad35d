package model

import "fmt"

// SortOrder selects the ordering of query results.
type SortOrder string

const (
	SortDateDesc SortOrder = "date_desc"
	SortDateAsc  SortOrder = "date_asc"
	SortIDAsc    SortOrder = "id_asc"
	SortIDDesc   SortOrder = "id_desc"
)

// EventQuery selects events within one folder (and optionally its
// descendants). Zero-valued filters match everything.
type EventQuery struct {
	FolderID  int64       `json:"folder_id"`
	Recursive bool        `json:"recursive,omitempty"`
	Types     []EventType `json:"types,omitempty"`
	SubType   string      `json:"sub_type,omitempty"`

	// TagKey matches case-insensitively after the engine's key sanitizer,
	// so "Date" finds tags stored as "Tag_Date". TagValue, when set, must
	// match exactly on the same tag.
	TagKey   string  `json:"tag_key,omitempty"`
	TagValue *string `json:"tag_value,omitempty"`

	// From is inclusive, To exclusive (ms since epoch).
	From *int64 `json:"from,omitempty"`
	To   *int64 `json:"to,omitempty"`

	Sort   SortOrder `json:"sort,omitempty"`
	Limit  int       `json:"limit,omitempty"` // 0 = unbounded
	Offset int       `json:"offset,omitempty"`
}

// Normalize fills defaults and rejects malformed queries.
func (q *EventQuery) Normalize() error {
	if q.Sort == "" {
		q.Sort = SortDateDesc
	}
	switch q.Sort {
	case SortDateDesc, SortDateAsc, SortIDAsc, SortIDDesc:
	default:
		return fmt.Errorf("unknown sort %q (want date_desc, date_asc, id_asc or id_desc)", q.Sort)
	}
	for _, t := range q.Types {
		if !t.Valid() {
			return fmt.Errorf("invalid event type %q", t)
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("limit and offset must not be negative")
	}
	if q.From != nil && q.To != nil && *q.From > *q.To {
		return fmt.Errorf("from %d is after to %d", *q.From, *q.To)
	}
	if q.TagValue != nil && q.TagKey == "" {
		return fmt.Errorf("tag value filter requires a tag key")
	}
	return nil
}
