package central

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/evtrack/internal/db"
	"github.com/hpungsan/evtrack/internal/errors"
	"github.com/hpungsan/evtrack/internal/model"
)

const eventColumns = `id, folder_id, event_type, sub_type, message, date, color`

// WriteEvent stores e and its tags in project inside tx. Tag keys are
// sanitized with model.ValidateTagKey; e is updated with the assigned ids.
// The folder is not checked.
func WriteEvent(ctx context.Context, tx *sql.Tx, projectID string, e *model.Event) error {
	if !e.Type.Valid() {
		return errors.NewValidation(fmt.Sprintf("invalid event type %q", e.Type))
	}
	tags := model.SanitizeTags(e.Tags, model.ValidateTagKey)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (project_id, folder_id, event_type, sub_type, message, date, color)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, projectID, e.FolderID, string(e.Type), e.SubType, e.Message, e.Date, db.ColorCodec.Encode(e.Color))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for i := range tags {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tags (event_id, key, key_norm, value) VALUES (?, ?, ?, ?)`,
			id, tags[i].Key, strings.ToLower(tags[i].Key), tags[i].Value)
		if err != nil {
			return fmt.Errorf("insert tag %q: %w", tags[i].Key, err)
		}
		if tags[i].ID, err = res.LastInsertId(); err != nil {
			return err
		}
		tags[i].EventID = id
	}

	e.ID = id
	e.SetTags(tags)
	return nil
}

// InsertEvent validates e, sanitizes its tag keys and stores it with its
// tags atomically. On success e carries its new id and the stored tags.
func (s *Store) InsertEvent(ctx context.Context, e *model.Event) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, errors.NewValidation(err.Error())
	}

	// Work on a copy so a rolled back attempt leaves e untouched.
	staged := &model.Event{
		FolderID: e.FolderID, Type: e.Type, SubType: e.SubType,
		Message: e.Message, Date: e.Date, Color: e.Color, Tags: e.Tags,
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getFolder(ctx, tx, s.p.ID, e.FolderID); err != nil {
			return err
		}
		staged.SetTags(e.Tags)
		return WriteEvent(ctx, tx, s.p.ID, staged)
	})
	if err != nil {
		return 0, err
	}

	e.ID = staged.ID
	e.SetTags(staged.Tags)
	return e.ID, nil
}

func scanEvent(row interface{ Scan(...any) error }) (*model.Event, error) {
	e := &model.Event{}
	var eventType string
	var color int64
	if err := row.Scan(&e.ID, &e.FolderID, &eventType, &e.SubType, &e.Message, &e.Date, &color); err != nil {
		return nil, err
	}
	e.Type = model.EventType(eventType)
	c, err := db.ColorCodec.Decode(color)
	if err != nil {
		return nil, fmt.Errorf("event %d: %w", e.ID, err)
	}
	e.Color = c
	return e, nil
}

// loadTags attaches tags to events in one query, preserving insert order.
func (s *Store) loadTags(ctx context.Context, events []*model.Event) error {
	if len(events) == 0 {
		return nil
	}
	byID := make(map[int64]*model.Event, len(events))
	ids := make([]any, len(events))
	for i, e := range events {
		byID[e.ID] = e
		ids[i] = e.ID
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, key, value FROM tags WHERE event_id IN (`+db.Placeholders(len(ids))+`) ORDER BY id`, ids...)
	if err != nil {
		return err
	}
	defer rows.Close()

	tags := make(map[int64][]model.Tag, len(events))
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.EventID, &t.Key, &t.Value); err != nil {
			return err
		}
		tags[t.EventID] = append(tags[t.EventID], t)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for id, e := range byID {
		e.SetTags(tags[id])
	}
	return nil
}

// GetEvent returns event id with its tags.
func (s *Store) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE project_id = ? AND id = ?`, s.p.ID, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("event", id)
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	if err := s.loadTags(ctx, []*model.Event{e}); err != nil {
		return nil, db.Classify(err)
	}
	return e, nil
}

// QueryEvents returns the events matching q.
func (s *Store) QueryEvents(ctx context.Context, q model.EventQuery) ([]*model.Event, error) {
	if err := q.Normalize(); err != nil {
		return nil, errors.NewValidation(err.Error())
	}
	if _, err := getFolder(ctx, s.db, s.p.ID, q.FolderID); err != nil {
		return nil, db.Classify(err)
	}

	var prefix string
	var conds db.Conds
	if q.Recursive {
		prefix = subtreeSQL
		conds.Add("project_id = ? AND folder_id IN (SELECT id FROM subtree)", s.p.ID, q.FolderID, s.p.ID, s.p.ID)
	} else {
		conds.Add("project_id = ? AND folder_id = ?", s.p.ID, q.FolderID)
	}
	db.EventFilters(&conds, q)
	if q.TagKey != "" {
		clause := `EXISTS (SELECT 1 FROM tags t WHERE t.event_id = events.id AND t.key_norm = ?`
		// Match the stored form: keys were sanitized on write.
		args := []any{strings.ToLower(model.ValidateTagKey(q.TagKey))}
		if q.TagValue != nil {
			clause += ` AND t.value = ?`
			args = append(args, *q.TagValue)
		}
		conds.Add(clause+")", args...)
	}

	order, err := db.OrderBy(q.Sort)
	if err != nil {
		return nil, errors.NewValidation(err.Error())
	}
	limit, limitArgs := db.LimitOffset(q.Limit, q.Offset)

	query := prefix + `SELECT ` + eventColumns + ` FROM events` + conds.Where() + order + limit
	rows, err := s.db.QueryContext(ctx, query, append(conds.Args(), limitArgs...)...)
	if err != nil {
		return nil, db.Classify(err)
	}

	events := []*model.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, db.Classify(err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, db.Classify(err)
	}
	rows.Close()

	if err := s.loadTags(ctx, events); err != nil {
		return nil, db.Classify(err)
	}
	return events, nil
}

// MoveEvents moves every listed event to folderID. Either all move or none.
func (s *Store) MoveEvents(ctx context.Context, ids []int64, folderID int64) (int64, error) {
	args := db.Int64Args(ids)
	if len(args) == 0 {
		return 0, nil
	}

	var moved int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getFolder(ctx, tx, s.p.ID, folderID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE events SET folder_id = ? WHERE project_id = ? AND id IN (`+db.Placeholders(len(args))+`)`,
			append([]any{folderID, s.p.ID}, args...)...)
		if err != nil {
			return err
		}
		if moved, err = res.RowsAffected(); err != nil {
			return err
		}
		if moved != int64(len(args)) {
			return errors.NewNotFound("event", fmt.Sprintf("%d of %d ids", int64(len(args))-moved, len(args)))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// DeleteEvents deletes the listed events and their tags atomically and
// returns how many existed.
func (s *Store) DeleteEvents(ctx context.Context, ids []int64) (int64, error) {
	args := db.Int64Args(ids)
	if len(args) == 0 {
		return 0, nil
	}

	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM events WHERE project_id = ? AND id IN (`+db.Placeholders(len(args))+`)`,
			append([]any{s.p.ID}, args...)...)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
