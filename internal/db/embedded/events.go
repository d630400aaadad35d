package embedded

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hpungsan/evtrack/internal/db"
	"github.com/hpungsan/evtrack/internal/errors"
	"github.com/hpungsan/evtrack/internal/model"
)

// storedTag is the tags_json element layout.
type storedTag struct {
	ID    int64  `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

const eventColumns = `id, folder_id, event_type, sub_type, message, date, color, tags_json`

func scanEvent(row interface{ Scan(...any) error }) (*model.Event, error) {
	e := &model.Event{}
	var eventType, tagsJSON string
	var color int64
	if err := row.Scan(&e.ID, &e.FolderID, &eventType, &e.SubType, &e.Message, &e.Date, &color, &tagsJSON); err != nil {
		return nil, err
	}
	e.Type = model.EventType(eventType)
	e.Color = uint32(color)

	var stored []storedTag
	if err := json.Unmarshal([]byte(tagsJSON), &stored); err != nil {
		return nil, fmt.Errorf("event %d: decode tags: %w", e.ID, err)
	}
	tags := make([]model.Tag, len(stored))
	for i, st := range stored {
		tags[i] = model.Tag{ID: st.ID, EventID: e.ID, Key: st.Key, Value: st.Value}
	}
	e.SetTags(tags)
	return e, nil
}

// allocTagIDs reserves n consecutive tag ids and returns the first.
func allocTagIDs(ctx context.Context, tx *sql.Tx, n int) (int64, error) {
	var next int64
	err := tx.QueryRowContext(ctx,
		`UPDATE meta SET value = value + ? WHERE key = 'next_tag_id' RETURNING value`, n).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("allocate tag ids: %w", err)
	}
	return next - int64(n), nil
}

// InsertEvent validates e, sanitizes its tag keys and stores it with its
// tags atomically. On success e carries its new id and the stored tags.
func (s *Store) InsertEvent(ctx context.Context, e *model.Event) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, errors.NewValidation(err.Error())
	}
	tags := model.SanitizeTags(e.Tags, model.ValidateLegacyTagKey)

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getFolder(ctx, tx, e.FolderID); err != nil {
			return err
		}

		stored := make([]storedTag, len(tags))
		if len(tags) > 0 {
			first, err := allocTagIDs(ctx, tx, len(tags))
			if err != nil {
				return err
			}
			for i, tag := range tags {
				stored[i] = storedTag{ID: first + int64(i), Key: tag.Key, Value: tag.Value}
			}
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return errors.NewInternal(err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (folder_id, event_type, sub_type, message, date, color, tags_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, e.FolderID, string(e.Type), e.SubType, e.Message, e.Date, int64(e.Color), string(data))
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		for i := range tags {
			tags[i].ID = stored[i].ID
			tags[i].EventID = id
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.ID = id
	e.SetTags(tags)
	return id, nil
}

// GetEvent returns event id with its tags.
func (s *Store) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("event", id)
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	return e, nil
}

// QueryEvents returns the events matching q.
func (s *Store) QueryEvents(ctx context.Context, q model.EventQuery) ([]*model.Event, error) {
	if err := q.Normalize(); err != nil {
		return nil, errors.NewValidation(err.Error())
	}
	if _, err := getFolder(ctx, s.db, q.FolderID); err != nil {
		return nil, db.Classify(err)
	}

	var prefix string
	var conds db.Conds
	if q.Recursive {
		prefix = subtreeSQL
		conds.Add("folder_id IN (SELECT id FROM subtree)", q.FolderID)
	} else {
		conds.Add("folder_id = ?", q.FolderID)
	}
	db.EventFilters(&conds, q)
	if q.TagKey != "" {
		// Legacy files match keys with ASCII case folding only.
		clause := `EXISTS (SELECT 1 FROM json_each(events.tags_json) t
			WHERE json_extract(t.value, '$.key') = ? COLLATE NOCASE`
		args := []any{model.ValidateLegacyTagKey(q.TagKey)}
		if q.TagValue != nil {
			clause += ` AND json_extract(t.value, '$.value') = ?`
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
	defer rows.Close()

	events := []*model.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		events = append(events, e)
	}
	return events, db.Classify(rows.Err())
}

// MoveEvents moves every listed event to folderID. Either all move or none.
func (s *Store) MoveEvents(ctx context.Context, ids []int64, folderID int64) (int64, error) {
	args := db.Int64Args(ids)
	if len(args) == 0 {
		return 0, nil
	}

	var moved int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getFolder(ctx, tx, folderID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE events SET folder_id = ? WHERE id IN (`+db.Placeholders(len(args))+`)`,
			append([]any{folderID}, args...)...)
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

// DeleteEvents deletes the listed events atomically and returns how many
// existed.
func (s *Store) DeleteEvents(ctx context.Context, ids []int64) (int64, error) {
	args := db.Int64Args(ids)
	if len(args) == 0 {
		return 0, nil
	}

	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM events WHERE id IN (`+db.Placeholders(len(args))+`)`, args...)
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

// ForEachEvent streams every event in id order.
func (s *Store) ForEachEvent(ctx context.Context, fn func(e *model.Event) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY id`)
	if err != nil {
		return db.Classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return db.Classify(err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return db.Classify(rows.Err())
}
