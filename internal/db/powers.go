package db

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/signage/internal/model"
)

func (s *pgStore) GetPower(ctx context.Context, id int) (model.Power, error) {
	var p model.Power
	if err := s.db.GetContext(ctx, &p, `SELECT id, name FROM powers WHERE id = $1;`, id); err != nil {
		log.Error().Err(err).Int("power_id", id).Msg("GetPower failed")
		return model.Power{}, notFound(err)
	}
	p.Items = []model.PowerItem{}
	err := s.db.SelectContext(ctx, &p.Items, `
	SELECT id, power_id, on_time, off_time, recurrences
	  FROM power_items
	 WHERE power_id = $1
	 ORDER BY on_time, off_time, id;`, id)
	if err != nil {
		log.Error().Err(err).Int("power_id", id).Msg("GetPower: items failed")
		return model.Power{}, err
	}
	return p, nil
}

func (s *pgStore) ListPowerIDs(ctx context.Context) ([]int, error) {
	var ids []int
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM powers ORDER BY id;`); err != nil {
		log.Error().Err(err).Msg("ListPowerIDs failed")
		return nil, err
	}
	return ids, nil
}

func (s *pgStore) ReplacePowerItems(ctx context.Context, powerID int, items []model.PowerItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM powers WHERE id = $1);`, powerID); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM power_items WHERE power_id = $1;`, powerID); err != nil {
		return err
	}
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO power_items (power_id, on_time, off_time, recurrences)
		VALUES ($1, $2, $3, $4);`, powerID, item.On, item.Off, item.Recurrences); err != nil {
			log.Error().Err(err).Int("power_id", powerID).Msg("ReplacePowerItems: insert failed")
			return err
		}
	}
	return tx.Commit()
}
