// internal/db/schedules.go
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/signage/internal/model"
)

const scheduleItemColumns = `
	id, schedule_id, playlist_id,
	lower(valid) AS range_start, upper(valid) AS range_end,
	start_time, stop_time, recurrences`

func (s *pgStore) GetSchedule(ctx context.Context, id int) (model.Schedule, error) {
	var sch model.Schedule
	err := s.db.GetContext(ctx, &sch, `SELECT id, name, default_playlist_id FROM schedules WHERE id = $1;`, id)
	if err != nil {
		log.Error().Err(err).Int("schedule_id", id).Msg("GetSchedule failed")
		return model.Schedule{}, notFound(err)
	}
	items, err := s.ListScheduleItems(ctx, id)
	if err != nil {
		return model.Schedule{}, err
	}
	sch.Items = items
	return sch, nil
}

func (s *pgStore) ListScheduleIDs(ctx context.Context) ([]int, error) {
	var ids []int
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM schedules ORDER BY id;`); err != nil {
		log.Error().Err(err).Msg("ListScheduleIDs failed")
		return nil, err
	}
	return ids, nil
}

func (s *pgStore) ListScheduleItems(ctx context.Context, scheduleID int) ([]model.ScheduleItem, error) {
	items := []model.ScheduleItem{}
	q := `SELECT` + scheduleItemColumns + `
	  FROM schedule_items
	 WHERE schedule_id = $1
	 ORDER BY start_time, stop_time, id;`
	if err := s.db.SelectContext(ctx, &items, q, scheduleID); err != nil {
		log.Error().Err(err).Int("schedule_id", scheduleID).Msg("ListScheduleItems failed")
		return nil, err
	}
	return items, nil
}

const insertScheduleItem = `
	INSERT INTO schedule_items (schedule_id, playlist_id, valid, start_time, stop_time, recurrences)
	VALUES ($1, $2, tstzrange($3::timestamptz, $4::timestamptz, '[)'), $5, $6, $7)
	RETURNING` + scheduleItemColumns + `;`

// ReplaceScheduleItems swaps all items of a schedule in one transaction.
func (s *pgStore) ReplaceScheduleItems(ctx context.Context, scheduleID int, items []model.ScheduleItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM schedules WHERE id = $1);`, scheduleID); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_items WHERE schedule_id = $1;`, scheduleID); err != nil {
		log.Error().Err(err).Int("schedule_id", scheduleID).Msg("ReplaceScheduleItems: delete failed")
		return err
	}
	for _, item := range items {
		var stored model.ScheduleItem
		if err := tx.GetContext(ctx, &stored, insertScheduleItem,
			scheduleID, item.PlaylistID, item.RangeStart, item.RangeEnd, item.Start, item.Stop, item.Recurrences,
		); err != nil {
			log.Error().Err(err).Int("schedule_id", scheduleID).Msg("ReplaceScheduleItems: insert failed")
			return fmt.Errorf("insert schedule item: %w", err)
		}
	}
	return tx.Commit()
}

func (s *pgStore) AddScheduleItem(ctx context.Context, item model.ScheduleItem) (model.ScheduleItem, error) {
	var stored model.ScheduleItem
	err := s.db.GetContext(ctx, &stored, insertScheduleItem,
		item.ScheduleID, item.PlaylistID, item.RangeStart, item.RangeEnd, item.Start, item.Stop, item.Recurrences,
	)
	if err != nil {
		log.Error().Err(err).Int("schedule_id", item.ScheduleID).Msg("AddScheduleItem failed")
		return model.ScheduleItem{}, err
	}
	return stored, nil
}

// DeleteExpiredScheduleItems removes items whose validity range ended before the given instant.
func (s *pgStore) DeleteExpiredScheduleItems(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	DELETE FROM schedule_items
	 WHERE NOT upper_inf(valid)
	   AND upper(valid) < $1;`, before)
	if err != nil {
		log.Error().Err(err).Msg("DeleteExpiredScheduleItems failed")
		return 0, err
	}
	return res.RowsAffected()
}
