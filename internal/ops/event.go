package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/evtrack/internal/errors"
	"github.com/hpungsan/evtrack/internal/model"
)

// AddEventInput contains parameters for the AddEvent operation.
type AddEventInput struct {
	Project  string
	FolderID *int64 // default: root folder
	Type     string // required: Error, Info or Debug (any case)
	SubType  string
	Message  string
	Date     *int64  // default: now (ms)
	Color    *uint32 // default: model.DefaultColor
	Tags     []TagInput
}

// EventOutput contains a single event.
type EventOutput struct {
	Project string       `json:"project"`
	Event   *model.Event `json:"event"`
}

// AddEvent validates and stores an event with its tags. Tag keys are
// sanitized by the project's engine; the output shows the stored keys.
func AddEvent(ctx context.Context, projects Projects, input AddEventInput) (*EventOutput, error) {
	eventType, err := model.ParseEventType(input.Type)
	if err != nil {
		return nil, errors.NewValidation(err.Error())
	}
	color := model.DefaultColor
	if input.Color != nil {
		color = *input.Color
	}
	if color > model.MaxColor {
		return nil, errors.NewValidation("color must be a 24-bit RGB value")
	}
	date := nowMillis()
	if input.Date != nil {
		date = *input.Date
	}

	s, err := openProject(ctx, projects, input.Project)
	if err != nil {
		return nil, err
	}
	folderID, err := folderOrRoot(ctx, s, input.FolderID)
	if err != nil {
		return nil, err
	}

	e := &model.Event{
		FolderID: folderID,
		Type:     eventType,
		SubType:  strings.TrimSpace(input.SubType),
		Message:  input.Message,
		Date:     date,
		Color:    color,
	}
	e.SetTags(toTags(input.Tags))

	if _, err := s.InsertEvent(ctx, e); err != nil {
		return nil, err
	}
	return &EventOutput{Project: s.Project(), Event: e}, nil
}

// GetEventInput contains parameters for the GetEvent operation.
type GetEventInput struct {
	Project string
	ID      int64
}

// GetEvent returns one event with its tags.
func GetEvent(ctx context.Context, projects Projects, input GetEventInput) (*EventOutput, error) {
	s, err := openProject(ctx, projects, input.Project)
	if err != nil {
		return nil, err
	}
	e, err := s.GetEvent(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &EventOutput{Project: s.Project(), Event: e}, nil
}

// QueryEventsInput contains parameters for the QueryEvents operation.
type QueryEventsInput struct {
	Project   string
	FolderID  *int64 // default: root folder
	Recursive bool
	Types     []string
	SubType   string
	TagKey    *string
	TagValue  *string
	From      *int64
	To        *int64
	Sort      string // default: date_desc
	Limit     int    // default: 50, max: 500
	Offset    int
}

// QueryEventsOutput contains one page of matching events.
type QueryEventsOutput struct {
	Project    string         `json:"project"`
	Items      []*model.Event `json:"items"`
	Pagination Pagination     `json:"pagination"`
	Sort       string         `json:"sort"`
}

// QueryEvents returns a page of events matching the filters.
func QueryEvents(ctx context.Context, projects Projects, input QueryEventsInput) (*QueryEventsOutput, error) {
	limit := clampLimit(input.Limit, DefaultQueryLimit, MaxQueryLimit)
	offset := max(input.Offset, 0)

	types := make([]model.EventType, 0, len(input.Types))
	for _, raw := range input.Types {
		t, err := model.ParseEventType(raw)
		if err != nil {
			return nil, errors.NewValidation(err.Error())
		}
		types = append(types, t)
	}

	q := model.EventQuery{
		Recursive: input.Recursive,
		Types:     types,
		SubType:   strings.TrimSpace(input.SubType),
		TagValue:  input.TagValue,
		From:      input.From,
		To:        input.To,
		Sort:      model.SortOrder(strings.ToLower(strings.TrimSpace(input.Sort))),
		Limit:     limit + 1, // one extra row tells whether more exist
		Offset:    offset,
	}
	if key := cleanOptionalString(input.TagKey); key != nil {
		q.TagKey = *key
	}
	if err := q.Normalize(); err != nil {
		return nil, errors.NewValidation(err.Error())
	}

	s, err := openProject(ctx, projects, input.Project)
	if err != nil {
		return nil, err
	}
	if q.FolderID, err = folderOrRoot(ctx, s, input.FolderID); err != nil {
		return nil, err
	}

	events, err := s.QueryEvents(ctx, q)
	if err != nil {
		return nil, err
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	return &QueryEventsOutput{
		Project: s.Project(),
		Items:   events,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: hasMore,
		},
		Sort: string(q.Sort),
	}, nil
}

// MoveEventsInput contains parameters for the MoveEvents operation.
type MoveEventsInput struct {
	Project  string
	IDs      []int64
	FolderID int64
}

// MoveEventsOutput contains the result of the MoveEvents operation.
type MoveEventsOutput struct {
	Moved    int64 `json:"moved"`
	FolderID int64 `json:"folder_id"`
}

// MoveEvents moves events to another folder. Either all move or none.
func MoveEvents(ctx context.Context, projects Projects, input MoveEventsInput) (*MoveEventsOutput, error) {
	if err := checkIDs(input.IDs); err != nil {
		return nil, err
	}
	s, err := openProject(ctx, projects, input.Project)
	if err != nil {
		return nil, err
	}
	moved, err := s.MoveEvents(ctx, input.IDs, input.FolderID)
	if err != nil {
		return nil, err
	}
	return &MoveEventsOutput{Moved: moved, FolderID: input.FolderID}, nil
}

// DeleteEventsInput contains parameters for the DeleteEvents operation.
type DeleteEventsInput struct {
	Project string
	IDs     []int64
}

// DeleteEventsOutput contains the result of the DeleteEvents operation.
type DeleteEventsOutput struct {
	Deleted int64 `json:"deleted"`
}

// DeleteEvents deletes events atomically. Unknown ids are ignored.
func DeleteEvents(ctx context.Context, projects Projects, input DeleteEventsInput) (*DeleteEventsOutput, error) {
	if err := checkIDs(input.IDs); err != nil {
		return nil, err
	}
	s, err := openProject(ctx, projects, input.Project)
	if err != nil {
		return nil, err
	}
	deleted, err := s.DeleteEvents(ctx, input.IDs)
	if err != nil {
		return nil, err
	}
	return &DeleteEventsOutput{Deleted: deleted}, nil
}
